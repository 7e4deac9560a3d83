package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/fedsearch/archive"
	"github.com/pithecene-io/fedsearch/log"
	"github.com/pithecene-io/fedsearch/metrics"
	"github.com/pithecene-io/fedsearch/types"
)

type recorder struct {
	events []*FederationCompletedEvent
	err    error
}

func (r *recorder) Publish(_ context.Context, e *FederationCompletedEvent) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error { return nil }

func testResult() *types.FederationResult {
	return &types.FederationResult{
		RequestID:  "req-9",
		TotalCount: 5,
		PerTarget: []types.TargetResult{
			{Name: "A", RecordCount: 5},
			{Name: "B", Diagnostic: types.Timeout("late")},
		},
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(testResult(), 1500*time.Millisecond, "file:///tmp/archive")

	if e.EventType != EventType || e.EventVersion != EventVersion {
		t.Errorf("type/version = %s/%s", e.EventType, e.EventVersion)
	}
	if e.RequestID != "req-9" || e.TotalCount != 5 || e.Targets != 2 {
		t.Errorf("event = %+v", e)
	}
	if e.Outcome != types.OutcomePartial {
		t.Errorf("Outcome = %q", e.Outcome)
	}
	if len(e.FailedTargets) != 1 || e.FailedTargets[0] != "B" {
		t.Errorf("FailedTargets = %v", e.FailedTargets)
	}
	if e.DurationMs != 1500 || e.ArchivePath != "file:///tmp/archive" {
		t.Errorf("duration/archive = %d/%s", e.DurationMs, e.ArchivePath)
	}
	if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
		t.Errorf("Timestamp %q: %v", e.Timestamp, err)
	}
}

func TestDeliver(t *testing.T) {
	var buf bytes.Buffer
	logger, err := log.New(&buf, "debug")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	collector := metrics.NewCollector()
	event := NewEvent(testResult(), time.Second, "")

	ok := &recorder{}
	Deliver(t.Context(), ok, event, logger, collector)
	failing := &recorder{err: errors.New("broker down")}
	Deliver(t.Context(), failing, event, logger, collector)
	Deliver(t.Context(), nil, event, logger, collector)

	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("published %d/%d events", len(ok.events), len(failing.events))
	}
	s := collector.Snapshot()
	if s.NotifyPublishSuccess != 1 || s.NotifyPublishFailure != 1 {
		t.Errorf("success/failure = %d/%d", s.NotifyPublishSuccess, s.NotifyPublishFailure)
	}
	if !strings.Contains(buf.String(), "broker down") {
		t.Errorf("failure not logged: %s", buf.String())
	}
}

func TestHooks_Completed(t *testing.T) {
	rec := &recorder{}
	h := &Hooks{Notifier: rec, Metrics: metrics.NewCollector()}

	if path := h.Completed(t.Context(), testResult(), 2*time.Second); path != "" {
		t.Errorf("path = %q without an archive", path)
	}
	if len(rec.events) != 1 || rec.events[0].RequestID != "req-9" || rec.events[0].DurationMs != 2000 {
		t.Fatalf("events = %+v", rec.events)
	}

	var nilHooks *Hooks
	if nilHooks.Completed(t.Context(), testResult(), 0) != "" || nilHooks.Close() != nil {
		t.Error("nil hooks should be a no-op")
	}
}

func TestHooks_ArchiveThenNotify(t *testing.T) {
	store := lode.NewMemory()
	a, err := archive.New("fedsearch", func() (lode.Store, error) { return store, nil }, "mem://hooks")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	rec := &recorder{}
	h := &Hooks{Archive: a, Notifier: rec}

	path := h.Completed(t.Context(), testResult(), time.Second)
	if !strings.HasPrefix(path, "mem://hooks/fedsearch/") {
		t.Errorf("path = %q", path)
	}
	if len(rec.events) != 1 || rec.events[0].ArchivePath != path {
		t.Errorf("event archive path = %+v, want %q", rec.events, path)
	}
}
