// Package federator fans one federation request out to its targets and
// folds the independent, possibly failing outcomes into one result.
//
// Queries are parsed and translated for every target before any connection
// is opened. Usable targets then run on a bounded pool, each task owning its
// adapter exclusively and always disconnecting it. A shared deadline seals
// stragglers with a timeout diagnostic; one target's failure, panic or
// timeout never affects another target's result.
package federator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/fedsearch/backend"
	"github.com/pithecene-io/fedsearch/cql"
	"github.com/pithecene-io/fedsearch/log"
	"github.com/pithecene-io/fedsearch/metrics"
	"github.com/pithecene-io/fedsearch/translate"
	"github.com/pithecene-io/fedsearch/types"
)

var (
	// ErrNoTargets is returned for a request without targets.
	ErrNoTargets = errors.New("federation request has no targets")
	// ErrNoUsableTarget is returned when no target's query could be parsed
	// and translated.
	ErrNoUsableTarget = errors.New("no target produced a usable query")
)

// Defaults.
const (
	DefaultMaxConcurrency = 8
	DefaultDeadline       = 30 * time.Second
	DefaultDrainGrace     = 2 * time.Second
)

// Config bounds a dispatch.
type Config struct {
	// MaxConcurrency caps the worker pool; the pool is
	// min(len(targets), MaxConcurrency).
	MaxConcurrency int
	// Deadline is the shared deadline for the whole dispatch.
	// Zero means DefaultDeadline; negative means the context alone.
	Deadline time.Duration
	// DrainGrace is how long to wait for cut-off tasks to unwind after
	// their adapters were disconnected.
	DrainGrace time.Duration
	// Quotes selects the escape convention for quoted query terms.
	Quotes cql.QuoteStyle
}

// Listener observes each target result as it is finalized. Listeners are
// called from task goroutines and must be safe for concurrent use.
type Listener interface {
	TargetCompleted(requestID string, index int, result types.TargetResult)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(requestID string, index int, result types.TargetResult)

// TargetCompleted calls f.
func (f ListenerFunc) TargetCompleted(requestID string, index int, result types.TargetResult) {
	f(requestID, index, result)
}

// Dispatcher runs federation requests. It holds no per-request state and
// is safe for concurrent use.
type Dispatcher struct {
	factory    backend.Factory
	translator *translate.Translator
	parser     cql.Parser
	config     Config
	logger     *log.Logger
	metrics    *metrics.Collector
	listeners  []Listener
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTranslator sets the query translator (default: bib-1 attributes).
func WithTranslator(t *translate.Translator) Option {
	return func(d *Dispatcher) { d.translator = t }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = c }
}

// WithListener adds a result listener.
func WithListener(l Listener) Option {
	return func(d *Dispatcher) { d.listeners = append(d.listeners, l) }
}

// New creates a dispatcher building adapters from factory, typically a
// backend.Registry.
func New(factory backend.Factory, cfg Config, opts ...Option) *Dispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = DefaultDrainGrace
	}
	d := &Dispatcher{
		factory: factory,
		parser:  cql.Parser{Quotes: cfg.Quotes},
		config:  cfg,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.translator == nil {
		d.translator = translate.New(nil)
	}
	if d.logger == nil {
		d.logger = log.Nop()
	}
	return d
}

// task is one target's slot. Its result is sealed exactly once, either by
// the task itself or by the dispatcher at the deadline.
type task struct {
	index int
	spec  types.TargetSpec
	query string

	mu         sync.Mutex
	sealed     bool
	result     types.TargetResult
	disconnect func() error
}

// attach records the adapter's disconnect so the dispatcher can force it.
// It reports false if the slot was already sealed.
func (t *task) attach(disconnect func() error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return false
	}
	t.disconnect = disconnect
	return true
}

func (t *task) seal(r types.TargetResult) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return false
	}
	t.sealed, t.result = true, r
	return true
}

// Dispatch runs req against its targets and returns results in request
// order. It returns ErrNoTargets for an empty request. When no target's
// query is usable it returns the per-target diagnostics together with
// ErrNoUsableTarget. Every other failure is reported per target.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.FederationRequest) (*types.FederationResult, error) {
	if len(req.Targets) == 0 {
		return nil, ErrNoTargets
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	logger := d.logger.ForRequest(req.RequestID)
	d.metrics.IncRequestStarted()
	start := time.Now()

	tasks := make([]*task, len(req.Targets))
	var runnable []*task
	for i, spec := range req.Targets {
		spec = spec.WithDefaults()
		t := &task{index: i, spec: spec}
		tasks[i] = t
		query, diag := d.prepare(spec)
		if diag != nil {
			logger.ForTarget(spec.Name, string(spec.Kind)).Info("target query rejected", map[string]any{
				"code":    diag.Code,
				"message": diag.Message,
				"details": diag.Details,
			})
			d.finish(req.RequestID, t, d.resultFor(spec, nil, diag, 0))
			continue
		}
		t.query = query
		runnable = append(runnable, t)
	}
	if len(runnable) == 0 {
		d.metrics.IncRequestRejected()
		return Aggregate(req.RequestID, collect(tasks)), ErrNoUsableTarget
	}

	logger.Info("dispatch started", map[string]any{
		"targets":  len(req.Targets),
		"runnable": len(runnable),
	})

	if d.config.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Deadline)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(min(len(runnable), d.config.MaxConcurrency))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, t := range runnable {
			g.Go(func() error {
				d.run(ctx, req.RequestID, logger, t)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cutOff(req.RequestID, logger, runnable, time.Since(start))
		select {
		case <-done:
		case <-time.After(d.config.DrainGrace):
			logger.Warn("tasks still unwinding after drain grace", map[string]any{
				"grace_ms": d.config.DrainGrace.Milliseconds(),
			})
		}
	}

	result := Aggregate(req.RequestID, collect(tasks))
	d.metrics.IncRequestCompleted()
	logger.Info("dispatch finished", map[string]any{
		"total_count": result.TotalCount,
		"failed":      result.Failed(),
		"elapsed_ms":  time.Since(start).Milliseconds(),
	})
	return result, nil
}

// prepare parses and translates a target's query. Failures become the
// target's non-surrogate diagnostic.
func (d *Dispatcher) prepare(spec types.TargetSpec) (string, *types.Diagnostic) {
	if err := spec.Validate(); err != nil {
		return "", types.NonSurrogate(types.DiagTranslation, types.CodeGeneralSystemError, "invalid target").
			WithDetails(err.Error())
	}
	ast, err := d.parser.Parse(spec.Query)
	if err != nil {
		return "", translate.Diagnose(err)
	}
	query, err := d.translator.ToTargetQuery(spec.Query, ast, spec.Kind)
	if err != nil {
		return "", translate.Diagnose(err)
	}
	return query, nil
}

// run executes one target task. Every exit path seals the slot and
// disconnects the adapter.
func (d *Dispatcher) run(ctx context.Context, requestID string, logger *log.Logger, t *task) {
	start := time.Now()
	tlog := logger.ForTarget(t.spec.Name, string(t.spec.Kind))
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncTargetPanicked()
			tlog.Error("target task panicked", map[string]any{"panic": fmt.Sprint(r)})
			diag := types.NonSurrogate(types.DiagInternal, types.CodeGeneralSystemError, "internal error").
				WithDetails(fmt.Sprint(r))
			d.finish(requestID, t, d.resultFor(t.spec, nil, diag, time.Since(start)))
		}
	}()

	if err := ctx.Err(); err != nil {
		d.finish(requestID, t, d.resultFor(t.spec, nil, types.Timeout("deadline passed before target started"), 0))
		return
	}
	d.metrics.IncTargetDispatched()
	if t.spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.spec.Timeout)
		defer cancel()
	}

	adapter, err := d.factory.New(t.spec)
	if err != nil {
		diag := types.NonSurrogate(types.DiagConnection, types.CodeGeneralSystemError, "no adapter for target").
			WithDetails(err.Error())
		d.finish(requestID, t, d.resultFor(t.spec, nil, diag, time.Since(start)))
		return
	}
	disconnect := sync.OnceValue(adapter.Disconnect)
	if !t.attach(disconnect) {
		_ = disconnect()
		return
	}
	defer func() {
		if err := disconnect(); err != nil {
			tlog.Debug("disconnect failed", map[string]any{"error": err.Error()})
		}
	}()

	if err := adapter.Connect(ctx); err != nil {
		d.finish(requestID, t, d.resultFor(t.spec, nil, backend.ConnectionDiagnostic(err), time.Since(start)))
		return
	}
	res, diag := adapter.Search(ctx, backend.RequestFor(t.spec, t.query))
	r := d.resultFor(t.spec, res, diag, time.Since(start))
	if r.SyntaxSubstituted {
		tlog.Warn("record syntax substituted", map[string]any{
			"preferred": t.spec.RecordSyntax,
			"actual":    r.RecordSyntax,
		})
	}
	d.finish(requestID, t, r)
}

// cutOff seals every unfinished task with a timeout diagnostic and forces
// its adapter's disconnect, which unblocks in-flight I/O.
func (d *Dispatcher) cutOff(requestID string, logger *log.Logger, tasks []*task, elapsed time.Duration) {
	for _, t := range tasks {
		r := d.resultFor(t.spec, nil, types.Timeout("target did not complete before the deadline"), elapsed)
		if !d.finish(requestID, t, r) {
			continue
		}
		logger.ForTarget(t.spec.Name, string(t.spec.Kind)).Warn("target timed out", map[string]any{
			"elapsed_ms": elapsed.Milliseconds(),
		})
		t.mu.Lock()
		disconnect := t.disconnect
		t.mu.Unlock()
		if disconnect != nil {
			_ = disconnect()
		}
	}
}

func (d *Dispatcher) resultFor(spec types.TargetSpec, res *backend.SearchResult, diag *types.Diagnostic, elapsed time.Duration) types.TargetResult {
	r := types.TargetResult{
		Name:       spec.Name,
		Kind:       spec.Kind,
		Diagnostic: diag,
		Elapsed:    elapsed,
	}
	if res != nil && !diag.IsFatal() {
		r.RecordCount = res.Count
		r.Records = res.Records
		r.RecordSyntax = res.RecordSyntax
		r.SyntaxSubstituted = res.SyntaxSubstituted
	}
	return r
}

// finish seals the slot and, if this call won, records and publishes it.
func (d *Dispatcher) finish(requestID string, t *task, r types.TargetResult) bool {
	if !t.seal(r) {
		return false
	}
	kind := ""
	if !r.Usable() {
		kind = string(r.Diagnostic.Kind)
	}
	surrogates := 0
	for _, rec := range r.Records {
		if rec.Diagnostic != nil {
			surrogates++
		}
	}
	d.metrics.ObserveTarget(kind, r.Diagnostic != nil && r.Diagnostic.Kind == types.DiagTimeout,
		len(r.Records)-surrogates, surrogates)
	for _, l := range d.listeners {
		l.TargetCompleted(requestID, t.index, r)
	}
	return true
}

func collect(tasks []*task) []types.TargetResult {
	out := make([]types.TargetResult, len(tasks))
	for i, t := range tasks {
		t.mu.Lock()
		out[i] = t.result
		t.mu.Unlock()
	}
	return out
}
