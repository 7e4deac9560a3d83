package federator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/fedsearch/backend"
	"github.com/pithecene-io/fedsearch/metrics"
	"github.com/pithecene-io/fedsearch/types"
)

func target(kind types.TargetKind, name, query string) types.TargetSpec {
	return types.TargetSpec{Name: name, Kind: kind, Query: query, From: 1, Size: 10}
}

func names(r *types.FederationResult) []string {
	var out []string
	for _, t := range r.PerTarget {
		out = append(out, t.Name)
	}
	return out
}

func TestDispatch_EndToEnd(t *testing.T) {
	a, b := newStub(5), newStub(7)
	d := New(newStubFactory(map[string]*stubAdapter{"A": a, "B": b}), Config{})

	res, err := d.Dispatch(t.Context(), types.FederationRequest{
		RequestID: "req-1",
		Targets: []types.TargetSpec{
			target(types.KindHTTP, "A", "title = test"),
			target(types.KindSession, "B", "title = test"),
		},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.TotalCount != 12 {
		t.Errorf("TotalCount = %d, want 12", res.TotalCount)
	}
	if got := names(res); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("order = %v", got)
	}
	if res.RequestID != "req-1" {
		t.Errorf("RequestID = %q", res.RequestID)
	}
	if q := a.seenQuery(); q != "title = test" {
		t.Errorf("http target query = %q, want pass-through", q)
	}
	if q := b.seenQuery(); q != "@attr 1=4 @attr 2=3 test" {
		t.Errorf("session target query = %q", q)
	}
	for _, s := range []*stubAdapter{a, b} {
		if n := s.disconnects.Load(); n != 1 {
			t.Errorf("disconnects = %d, want 1", n)
		}
	}
}

func TestDispatch_PartialFailureIsolation(t *testing.T) {
	failing := newStub(100)
	failing.diag = types.NonSurrogate(types.DiagProtocol, 114, "unsupported use attribute")
	stubs := map[string]*stubAdapter{"t1": newStub(4), "t2": failing, "t3": newStub(6)}
	d := New(newStubFactory(stubs), Config{})

	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: []types.TargetSpec{
		target(types.KindSession, "t1", "title = a"),
		target(types.KindSession, "t2", "title = a"),
		target(types.KindSession, "t3", "title = a"),
	}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.TotalCount != 10 {
		t.Errorf("TotalCount = %d, want 10", res.TotalCount)
	}
	if res.RequestID == "" {
		t.Error("RequestID should be generated")
	}
	t1, t2, t3 := res.PerTarget[0], res.PerTarget[1], res.PerTarget[2]
	if t1.RecordCount != 4 || len(t1.Records) != 3 || t1.Diagnostic != nil {
		t.Errorf("t1 = %+v", t1)
	}
	if t3.RecordCount != 6 || len(t3.Records) != 3 || t3.Diagnostic != nil {
		t.Errorf("t3 = %+v", t3)
	}
	if t2.Diagnostic == nil || t2.Diagnostic.Code != 114 || t2.Usable() {
		t.Errorf("t2 = %+v", t2)
	}
	if t2.RecordCount != 0 || len(t2.Records) != 0 {
		t.Errorf("failed target leaked records: %+v", t2)
	}
	if got := res.Failed(); !slices.Equal(got, []string{"t2"}) {
		t.Errorf("Failed = %v", got)
	}
}

func TestDispatch_DeadlineRespected(t *testing.T) {
	hung := newStub(1)
	hung.hang = true
	fast := newStub(2)
	d := New(newStubFactory(map[string]*stubAdapter{"hung": hung, "fast": fast}),
		Config{Deadline: 100 * time.Millisecond, DrainGrace: time.Second})

	start := time.Now()
	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: []types.TargetSpec{
		target(types.KindSession, "hung", "title = a"),
		target(types.KindSession, "fast", "title = a"),
	}})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed > 100*time.Millisecond+500*time.Millisecond {
		t.Errorf("Dispatch took %v", elapsed)
	}

	h := res.PerTarget[0]
	if h.Diagnostic == nil || h.Diagnostic.Kind != types.DiagTimeout || h.Diagnostic.Code != types.CodeTimeout {
		t.Fatalf("hung target diagnostic = %+v", h.Diagnostic)
	}
	if res.PerTarget[1].RecordCount != 2 || res.TotalCount != 2 {
		t.Errorf("fast target = %+v, total = %d", res.PerTarget[1], res.TotalCount)
	}
	if n := hung.disconnects.Load(); n != 1 {
		t.Errorf("hung disconnects = %d, want exactly 1", n)
	}
}

func TestDispatch_DeadlineWithStuckTask(t *testing.T) {
	stuck := newStub(1)
	stuck.stuck = true
	d := New(newStubFactory(map[string]*stubAdapter{"stuck": stuck}),
		Config{Deadline: 50 * time.Millisecond, DrainGrace: 50 * time.Millisecond})

	start := time.Now()
	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: []types.TargetSpec{
		target(types.KindSession, "stuck", "title = a"),
	}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dispatch took %v", elapsed)
	}
	if d := res.PerTarget[0].Diagnostic; d == nil || d.Kind != types.DiagTimeout {
		t.Errorf("diagnostic = %+v", d)
	}
	if n := stuck.disconnects.Load(); n != 1 {
		t.Errorf("disconnects = %d, want 1", n)
	}
}

func TestDispatch_PerTargetTimeout(t *testing.T) {
	slow := newStub(1)
	slow.delay = time.Second
	spec := target(types.KindSession, "slow", "title = a")
	spec.Timeout = 30 * time.Millisecond
	d := New(newStubFactory(map[string]*stubAdapter{"slow": slow}), Config{Deadline: 5 * time.Second})

	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: []types.TargetSpec{spec}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if d := res.PerTarget[0].Diagnostic; d == nil || d.Kind != types.DiagTimeout {
		t.Errorf("diagnostic = %+v", d)
	}
}

func TestDispatch_OrderPreservation(t *testing.T) {
	stubs := map[string]*stubAdapter{}
	var specs []types.TargetSpec
	for i := range 5 {
		name := fmt.Sprintf("t%d", i)
		s := newStub(i + 1)
		// Earlier targets finish later.
		s.delay = time.Duration(5-i) * 15 * time.Millisecond
		stubs[name] = s
		specs = append(specs, target(types.KindHTTP, name, "title = a"))
	}

	var mu sync.Mutex
	var completion []int
	d := New(newStubFactory(stubs), Config{MaxConcurrency: 5},
		WithListener(ListenerFunc(func(_ string, index int, _ types.TargetResult) {
			mu.Lock()
			completion = append(completion, index)
			mu.Unlock()
		})))

	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: specs})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := names(res); !slices.Equal(got, []string{"t0", "t1", "t2", "t3", "t4"}) {
		t.Errorf("order = %v", got)
	}
	for i, r := range res.PerTarget {
		if r.RecordCount != i+1 {
			t.Errorf("target %d count = %d", i, r.RecordCount)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	slices.Sort(completion)
	if !slices.Equal(completion, []int{0, 1, 2, 3, 4}) {
		t.Errorf("listener saw indexes %v, want each target exactly once", completion)
	}
}

func TestDispatch_PanicIsolated(t *testing.T) {
	bomb := newStub(1)
	bomb.panicOn = true
	ok := newStub(3)
	collector := metrics.NewCollector()
	d := New(newStubFactory(map[string]*stubAdapter{"bomb": bomb, "ok": ok}), Config{}, WithMetrics(collector))

	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: []types.TargetSpec{
		target(types.KindSession, "bomb", "title = a"),
		target(types.KindSession, "ok", "title = a"),
	}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	b := res.PerTarget[0]
	if b.Diagnostic == nil || b.Diagnostic.Kind != types.DiagInternal || b.Diagnostic.Details != "stub exploded" {
		t.Errorf("bomb = %+v", b.Diagnostic)
	}
	if res.PerTarget[1].RecordCount != 3 || res.TotalCount != 3 {
		t.Errorf("ok = %+v", res.PerTarget[1])
	}
	if n := bomb.disconnects.Load(); n != 1 {
		t.Errorf("panicking target disconnects = %d, want 1", n)
	}
	s := collector.Snapshot()
	if s.TargetsPanicked != 1 || s.TargetsSucceeded != 1 || s.TargetsFailed != 1 {
		t.Errorf("metrics = %+v", s)
	}
}

func TestDispatch_QueryErrorsScopedPerTarget(t *testing.T) {
	session, http := newStub(1), newStub(2)
	f := newStubFactory(map[string]*stubAdapter{"session": session, "http": http, "broken": newStub(9)})
	d := New(f, Config{})

	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: []types.TargetSpec{
		target(types.KindSession, "session", "shelfmark = qa76"),
		target(types.KindHTTP, "http", "shelfmark = qa76"),
		target(types.KindHTTP, "broken", "title = (unbalanced"),
	}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if d := res.PerTarget[0].Diagnostic; d == nil || d.Code != types.CodeUnsupportedIndex || d.Details != "shelfmark" {
		t.Errorf("session diagnostic = %+v", d)
	}
	if d := res.PerTarget[2].Diagnostic; d == nil || d.Kind != types.DiagSyntax {
		t.Errorf("broken diagnostic = %+v", d)
	}
	if res.PerTarget[1].Diagnostic != nil || res.TotalCount != 2 {
		t.Errorf("http = %+v, total = %d", res.PerTarget[1], res.TotalCount)
	}
	if f.createdCount("session") != 0 || f.createdCount("broken") != 0 {
		t.Error("adapters were created for targets whose query failed")
	}
}

func TestDispatch_NoUsableTarget(t *testing.T) {
	f := newStubFactory(map[string]*stubAdapter{})
	d := New(f, Config{})

	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: []types.TargetSpec{
		target(types.KindSession, "a", "title ="),
		target(types.KindSession, "b", "colour = red"),
	}})
	if !errors.Is(err, ErrNoUsableTarget) {
		t.Fatalf("err = %v, want ErrNoUsableTarget", err)
	}
	if res == nil || len(res.PerTarget) != 2 || res.TotalCount != 0 {
		t.Fatalf("res = %+v", res)
	}
	for _, r := range res.PerTarget {
		if r.Diagnostic == nil || r.Diagnostic.IsSurrogate() {
			t.Errorf("%s diagnostic = %+v", r.Name, r.Diagnostic)
		}
	}

	if _, err := d.Dispatch(t.Context(), types.FederationRequest{}); !errors.Is(err, ErrNoTargets) {
		t.Errorf("empty request err = %v, want ErrNoTargets", err)
	}
}

func TestDispatch_ConnectFailure(t *testing.T) {
	down := newStub(1)
	down.connectErr = &backend.ConnectError{Target: "down", Err: errors.New("connection refused")}
	d := New(newStubFactory(map[string]*stubAdapter{"down": down, "up": newStub(1)}), Config{})

	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: []types.TargetSpec{
		target(types.KindSession, "down", "title = a"),
		target(types.KindSession, "up", "title = a"),
	}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if d := res.PerTarget[0].Diagnostic; d == nil || d.Kind != types.DiagConnection {
		t.Errorf("diagnostic = %+v", d)
	}
	if n := down.disconnects.Load(); n != 1 {
		t.Errorf("disconnects after failed connect = %d, want 1", n)
	}
	if res.TotalCount != 1 {
		t.Errorf("TotalCount = %d", res.TotalCount)
	}
}

func TestDispatch_UnregisteredKind(t *testing.T) {
	reg := backend.Registry{
		types.KindHTTP: backend.FactoryFunc(func(types.TargetSpec) (backend.Adapter, error) {
			return newStub(4), nil
		}),
	}
	d := New(reg, Config{})

	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: []types.TargetSpec{
		target(types.KindSession, "z", "title = a"),
		target(types.KindHTTP, "s", "title = a"),
	}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if d := res.PerTarget[0].Diagnostic; d == nil || d.Kind != types.DiagConnection {
		t.Errorf("diagnostic = %+v", d)
	}
	if res.TotalCount != 4 {
		t.Errorf("TotalCount = %d", res.TotalCount)
	}
}

func TestDispatch_BoundedPool(t *testing.T) {
	var active, maxActive atomic.Int32
	stubs := map[string]*stubAdapter{}
	var specs []types.TargetSpec
	for i := range 6 {
		name := fmt.Sprintf("t%d", i)
		s := newStub(1)
		s.delay = 20 * time.Millisecond
		s.active, s.maxActive = &active, &maxActive
		stubs[name] = s
		specs = append(specs, target(types.KindSession, name, "title = a"))
	}
	d := New(newStubFactory(stubs), Config{MaxConcurrency: 2})

	res, err := d.Dispatch(t.Context(), types.FederationRequest{Targets: specs})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.TotalCount != 6 {
		t.Errorf("TotalCount = %d", res.TotalCount)
	}
	if m := maxActive.Load(); m > 2 {
		t.Errorf("max concurrent searches = %d, want <= 2", m)
	}
}

func TestDispatch_CallerCancellation(t *testing.T) {
	hung := newStub(1)
	hung.hang = true
	d := New(newStubFactory(map[string]*stubAdapter{"hung": hung}), Config{Deadline: -1})

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(30*time.Millisecond, cancel)
	res, err := d.Dispatch(ctx, types.FederationRequest{Targets: []types.TargetSpec{
		target(types.KindSession, "hung", "title = a"),
	}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if d := res.PerTarget[0].Diagnostic; d == nil || d.Kind != types.DiagTimeout {
		t.Errorf("diagnostic = %+v", d)
	}
	if n := hung.disconnects.Load(); n != 1 {
		t.Errorf("disconnects = %d, want 1", n)
	}
}
