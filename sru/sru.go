// Package sru implements the HTTP/XML searchRetrieve adapter.
//
// Each search is one GET carrying the query text unchanged, the start
// position and the record count. Transport failures and 5xx responses are
// retried with exponential backoff; 4xx responses fail immediately.
package sru

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/fedsearch/backend"
	"github.com/pithecene-io/fedsearch/iox"
	"github.com/pithecene-io/fedsearch/log"
	"github.com/pithecene-io/fedsearch/types"
)

// Defaults.
const (
	DefaultVersion       = "1.2"
	DefaultRecordPacking = "xml"
	DefaultTimeout       = 30 * time.Second
	DefaultRetries       = 1
	DefaultBackoff       = 500 * time.Millisecond
	// MaxResponseSize bounds a response body (32 MiB).
	MaxResponseSize = 32 << 20
)

// Config configures the adapter for one endpoint.
type Config struct {
	// BaseURL is the SRU endpoint (required).
	BaseURL       string
	Version       string
	RecordSchema  string
	RecordPacking string
	// Headers are added to every request.
	Headers map[string]string
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
	// Backoff is the delay before the first retry; it doubles per retry.
	Backoff time.Duration
}

// HeaderOptionPrefix marks endpoint options that are sent as HTTP headers.
const HeaderOptionPrefix = "header."

// ConfigFor builds a Config from an endpoint. Endpoint options "version",
// "record_schema", "record_packing" and "retries" override the defaults;
// "header.<Name>" options become request headers.
func ConfigFor(ep backend.Endpoint) Config {
	cfg := Config{
		BaseURL:       ep.Address,
		Version:       ep.Options["version"],
		RecordSchema:  ep.Options["record_schema"],
		RecordPacking: ep.Options["record_packing"],
		Timeout:       ep.Timeout,
		Retries:       DefaultRetries,
	}
	if r, err := strconv.Atoi(ep.Options["retries"]); err == nil && r >= 0 {
		cfg.Retries = r
	}
	for k, v := range ep.Options {
		if name, ok := strings.CutPrefix(k, HeaderOptionPrefix); ok && name != "" {
			if cfg.Headers == nil {
				cfg.Headers = make(map[string]string)
			}
			cfg.Headers[name] = v
		}
	}
	return cfg
}

// Adapter searches one SRU endpoint.
type Adapter struct {
	name   string
	config Config
	client *http.Client
	logger *log.Logger

	// life is cancelled by Disconnect to abort in-flight requests.
	life   context.Context
	cancel context.CancelFunc
}

var _ backend.Adapter = (*Adapter)(nil)

// New creates an adapter. A nil client gets a dedicated one.
func New(name string, cfg Config, client *http.Client, logger *log.Logger) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("sru adapter requires a base URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.RecordPacking == "" {
		cfg.RecordPacking = DefaultRecordPacking
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	life, cancel := context.WithCancel(context.Background())
	return &Adapter{
		name:   name,
		config: cfg,
		client: client,
		logger: logger,
		life:   life,
		cancel: cancel,
	}, nil
}

// NewFactory returns a factory resolving target names through dir and
// sharing client across adapters.
func NewFactory(dir backend.Directory, client *http.Client, logger *log.Logger) backend.Factory {
	return backend.FactoryFunc(func(spec types.TargetSpec) (backend.Adapter, error) {
		ep, err := dir.Lookup(spec)
		if err != nil {
			return nil, err
		}
		return New(spec.Name, ConfigFor(ep), client, logger)
	})
}

// Connect validates the endpoint URL. The protocol is stateless, so no
// network exchange happens until Search.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.life.Err(); err != nil {
		return &backend.ConnectError{Target: a.name, Err: errors.New("adapter disconnected")}
	}
	u, err := url.Parse(a.config.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &backend.ConnectError{Target: a.name, Err: fmt.Errorf("invalid base URL %q", a.config.BaseURL)}
	}
	return ctx.Err()
}

// Search issues a searchRetrieve request, retrying transient failures.
func (a *Adapter) Search(ctx context.Context, req backend.SearchRequest) (*backend.SearchResult, *types.Diagnostic) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.life, cancel)
	defer stop()

	target, err := a.requestURL(req)
	if err != nil {
		return nil, types.NonSurrogate(types.DiagConnection, types.CodeGeneralSystemError, "invalid request URL").
			WithDetails(err.Error())
	}

	var lastErr error
	attempts := 1 + a.config.Retries
	for i := range attempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * a.config.Backoff
			select {
			case <-ctx.Done():
				return nil, contextDiagnostic(ctx.Err())
			case <-time.After(backoff):
			}
			a.logger.Debug("retrying search", map[string]any{"attempt": i + 1, "error": lastErr.Error()})
		}

		var result *backend.SearchResult
		var diag *types.Diagnostic
		result, diag, lastErr = a.doRequest(ctx, target, req.From)
		if lastErr == nil {
			if diag != nil {
				return nil, diag
			}
			if req.Size >= 0 && len(result.Records) > req.Size {
				result.Records = result.Records[:req.Size]
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, contextDiagnostic(ctx.Err())
		}
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			break
		}
		var decodeErr *DecodeError
		if errors.As(lastErr, &decodeErr) {
			return nil, types.NonSurrogate(types.DiagProtocol, types.CodeGeneralSystemError, "malformed response").
				WithDetails(decodeErr.Error())
		}
	}
	return nil, types.NonSurrogate(types.DiagConnection, types.CodeTemporarilyUnavailable, "search request failed").
		WithDetails(lastErr.Error())
}

func (a *Adapter) requestURL(req backend.SearchRequest) (string, error) {
	u, err := url.Parse(a.config.BaseURL)
	if err != nil {
		return "", err
	}
	schema := a.config.RecordSchema
	if req.RecordSyntax != "" {
		schema = req.RecordSyntax
	}
	q := u.Query()
	q.Set("operation", "searchRetrieve")
	q.Set("version", a.config.Version)
	q.Set("query", req.Query)
	q.Set("startRecord", strconv.Itoa(max(req.From, 1)))
	q.Set("maximumRecords", strconv.Itoa(max(req.Size, 0)))
	q.Set("recordPacking", a.config.RecordPacking)
	if schema != "" {
		q.Set("recordSchema", schema)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// DecodeError wraps an unparseable response body. It is not retried.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (a *Adapter) doRequest(ctx context.Context, target string, from int) (*backend.SearchResult, *types.Diagnostic, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")
	req.Header.Set("User-Agent", types.ImplementationName+"/"+types.Version)
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &StatusError{Code: resp.StatusCode}
	}

	result, diag, err := ParseResponse(io.LimitReader(resp.Body, MaxResponseSize), from)
	if err != nil {
		return nil, nil, &DecodeError{Err: err}
	}
	return result, diag, nil
}

// Disconnect aborts any in-flight request. It is idempotent.
func (a *Adapter) Disconnect() error {
	a.cancel()
	return nil
}

func contextDiagnostic(err error) *types.Diagnostic {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.Timeout("search timed out")
	}
	return types.NonSurrogate(types.DiagTimeout, types.CodeTimeout, "search cancelled")
}
