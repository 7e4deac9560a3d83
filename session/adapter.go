package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/pithecene-io/fedsearch/backend"
	"github.com/pithecene-io/fedsearch/log"
	"github.com/pithecene-io/fedsearch/types"
	"github.com/pithecene-io/fedsearch/wire"
)

// Adapter runs federation searches over a Session.
type Adapter struct {
	endpoint backend.Endpoint
	session  *Session
	logger   *log.Logger
}

var _ backend.Adapter = (*Adapter)(nil)

// NewAdapter creates an adapter for one endpoint.
func NewAdapter(ep backend.Endpoint, opts Options, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.User == "" {
		opts.User, opts.Password = ep.User, ep.Password
	}
	return &Adapter{
		endpoint: ep,
		session:  New(ep.Address, opts),
		logger:   logger,
	}
}

// NewFactory returns a factory resolving target names through dir.
func NewFactory(dir backend.Directory, opts Options, logger *log.Logger) backend.Factory {
	return backend.FactoryFunc(func(spec types.TargetSpec) (backend.Adapter, error) {
		ep, err := dir.Lookup(spec)
		if err != nil {
			return nil, err
		}
		return NewAdapter(ep, opts, logger), nil
	})
}

// Session exposes the underlying session.
func (a *Adapter) Session() *Session {
	return a.session
}

// Connect opens the session.
func (a *Adapter) Connect(ctx context.Context) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	if err := a.session.Connect(ctx); err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return types.NonSurrogate(types.DiagConnection, types.CodeTemporarilyUnavailable, "init rejected").
				WithDetails(rejected.Error())
		}
		return &backend.ConnectError{Target: a.endpoint.Name, Err: err}
	}
	return nil
}

// Search runs the query and presents whatever part of [from, from+size) the
// search response did not already carry.
func (a *Adapter) Search(ctx context.Context, req backend.SearchRequest) (*backend.SearchResult, *types.Diagnostic) {
	syntax, ok := wire.SyntaxOID(req.RecordSyntax)
	if !ok {
		return nil, types.NonSurrogate(types.DiagProtocol, types.CodeRecordSyntaxUnsupported, "unknown record syntax").
			WithDetails(req.RecordSyntax)
	}

	var dbs []string
	if a.endpoint.Database != "" {
		dbs = []string{a.endpoint.Database}
	}
	searchCtx, cancel := a.bound(ctx)
	sr, err := a.session.Search(searchCtx, &wire.SearchRequest{
		ResultSetName:         req.ResultSetName,
		ReplaceIndicator:      true,
		DatabaseNames:         dbs,
		Query:                 req.Query,
		LargeSetLowerBound:    1,
		ElementSetName:        req.ElementSetName,
		PreferredRecordSyntax: syntax,
	})
	cancel()
	if err != nil {
		return nil, exchangeDiagnostic("search", err)
	}
	if sr.Diagnostic != nil || !sr.SearchStatus {
		return nil, searchDiagnostic(sr.Diagnostic)
	}

	result := &backend.SearchResult{Count: sr.ResultCount}
	want := wanted(req.From, req.Size, sr.ResultCount)
	if want == 0 {
		return result, nil
	}

	// Piggybacked records always start at position 1.
	var records []wire.NamePlusRecord
	if req.From == 1 {
		records = sr.Records[:min(len(sr.Records), want)]
	}
	if len(records) < want {
		rest, d := a.present(ctx, req, syntax, req.From+len(records), want-len(records))
		if d != nil {
			return nil, d
		}
		records = append(records, rest...)
	}
	if len(records) > want {
		records = records[:want]
	}

	result.Records = make([]types.RawRecord, len(records))
	for i, rec := range records {
		result.Records[i] = toRawRecord(req.From+i, rec)
		if rec.Diagnostic == nil && rec.Syntax != "" {
			result.RecordSyntax = wire.SyntaxName(rec.Syntax)
			if syntax != "" && rec.Syntax != syntax {
				result.SyntaxSubstituted = true
			}
		}
	}
	if result.SyntaxSubstituted {
		a.logger.Warn("record syntax substituted", map[string]any{
			"preferred": wire.SyntaxName(syntax),
			"actual":    result.RecordSyntax,
		})
	}
	return result, nil
}

func (a *Adapter) present(ctx context.Context, req backend.SearchRequest, syntax string, start, n int) ([]wire.NamePlusRecord, *types.Diagnostic) {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	pr, err := a.session.Present(ctx, &wire.PresentRequest{
		ResultSetName:            req.ResultSetName,
		ResultSetStartPoint:      start,
		NumberOfRecordsRequested: n,
		ElementSetName:           req.ElementSetName,
		PreferredRecordSyntax:    syntax,
	})
	if err != nil {
		return nil, exchangeDiagnostic("present", err)
	}
	if d := presentDiagnostic(pr); d != nil {
		return nil, d
	}
	if pr.PresentStatus != wire.PresentSuccess || len(pr.Records) < n {
		a.logger.Warn("partial present", map[string]any{
			"status":   pr.PresentStatus,
			"start":    start,
			"returned": len(pr.Records),
			"wanted":   n,
		})
	}
	return pr.Records, nil
}

// bound applies the endpoint timeout, when set, to one exchange.
func (a *Adapter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.endpoint.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.endpoint.Timeout)
}

// Disconnect closes the session. It is safe to call more than once and
// concurrently with Connect or Search.
func (a *Adapter) Disconnect() error {
	return a.session.Close()
}

// wanted returns how many records [from, from+size) covers within count.
func wanted(from, size, count int) int {
	if size <= 0 || from < 1 || from > count {
		return 0
	}
	return min(size, count-from+1)
}

func toRawRecord(pos int, rec wire.NamePlusRecord) types.RawRecord {
	raw := types.RawRecord{Position: pos}
	if rec.Diagnostic != nil {
		raw.Diagnostic = types.Surrogate(rec.Diagnostic.Condition, "record unavailable").
			WithDetails(rec.Diagnostic.AddInfo)
		return raw
	}
	raw.Schema = wire.SyntaxName(rec.Syntax)
	raw.Data = rec.Data
	return raw
}

func searchDiagnostic(d *wire.DefaultDiagFormat) *types.Diagnostic {
	if d == nil {
		return types.NonSurrogate(types.DiagProtocol, types.CodeGeneralSystemError, "search failed")
	}
	return types.NonSurrogate(types.DiagProtocol, d.Condition, "search failed").WithDetails(d.AddInfo)
}

// presentDiagnostic classifies a present response. Status 5 and a
// response-level diagnostic are non-surrogate; statuses 1 to 4 keep whatever
// records came back.
func presentDiagnostic(pr *wire.PresentResponse) *types.Diagnostic {
	if pr.Diagnostic != nil {
		return types.NonSurrogate(types.DiagProtocol, pr.Diagnostic.Condition, "present failed").
			WithDetails(pr.Diagnostic.AddInfo)
	}
	if pr.PresentStatus == wire.PresentFailure {
		return types.NonSurrogate(types.DiagProtocol, types.CodeGeneralSystemError, "present failed").
			WithDetails("status " + strconv.Itoa(pr.PresentStatus))
	}
	return nil
}

func exchangeDiagnostic(op string, err error) *types.Diagnostic {
	var (
		stateErr  *StateError
		closedErr *ClosedByPeerError
		pduErr    *UnexpectedPDUError
		frameErr  *wire.FrameError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.Timeout(op + " timed out")
	case errors.Is(err, context.Canceled):
		return types.NonSurrogate(types.DiagTimeout, types.CodeTimeout, op+" cancelled")
	case errors.Is(err, ErrBusy), errors.As(err, &stateErr):
		return types.NonSurrogate(types.DiagInternal, types.CodeGeneralSystemError, err.Error())
	case errors.As(err, &closedErr), errors.As(err, &pduErr), errors.As(err, &frameErr):
		return types.NonSurrogate(types.DiagProtocol, types.CodeGeneralSystemError, op+" failed").
			WithDetails(err.Error())
	default:
		return types.NonSurrogate(types.DiagConnection, types.CodeTemporarilyUnavailable, fmt.Sprintf("%s failed", op)).
			WithDetails(err.Error())
	}
}
