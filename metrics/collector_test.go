package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.IncRequestStarted()
	c.IncRequestStarted()
	c.IncRequestCompleted()
	c.IncRequestRejected()
	c.IncTargetDispatched()
	c.IncTargetDispatched()
	c.IncTargetDispatched()
	c.IncTargetPanicked()
	c.ObserveTarget("", false, 10, 1)
	c.ObserveTarget("timeout", true, 0, 0)
	c.ObserveTarget("internal", false, 0, 0)
	c.IncArchiveWriteSuccess()
	c.IncArchiveWriteFailure()
	c.IncNotifyPublishSuccess()
	c.IncNotifyPublishFailure()
	c.IncNotifyPublishFailure()

	s := c.Snapshot()
	checks := []struct {
		name      string
		got, want int64
	}{
		{"RequestsStarted", s.RequestsStarted, 2},
		{"RequestsCompleted", s.RequestsCompleted, 1},
		{"RequestsRejected", s.RequestsRejected, 1},
		{"TargetsDispatched", s.TargetsDispatched, 3},
		{"TargetsSucceeded", s.TargetsSucceeded, 1},
		{"TargetsFailed", s.TargetsFailed, 2},
		{"TargetsTimedOut", s.TargetsTimedOut, 1},
		{"TargetsPanicked", s.TargetsPanicked, 1},
		{"RecordsReturned", s.RecordsReturned, 10},
		{"SurrogateRecords", s.SurrogateRecords, 1},
		{"ArchiveWriteSuccess", s.ArchiveWriteSuccess, 1},
		{"ArchiveWriteFailure", s.ArchiveWriteFailure, 1},
		{"NotifyPublishSuccess", s.NotifyPublishSuccess, 1},
		{"NotifyPublishFailure", s.NotifyPublishFailure, 2},
		{"DiagnosticsByKind[timeout]", s.DiagnosticsByKind["timeout"], 1},
		{"DiagnosticsByKind[internal]", s.DiagnosticsByKind["internal"], 1},
	}
	for _, chk := range checks {
		if chk.got != chk.want {
			t.Errorf("%s = %d, want %d", chk.name, chk.got, chk.want)
		}
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.IncRequestStarted()
	c.ObserveTarget("timeout", true, 1, 1)
	c.IncArchiveWriteFailure()
	s := c.Snapshot()
	if s.RequestsStarted != 0 || s.DiagnosticsByKind == nil {
		t.Errorf("nil snapshot = %+v", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector()
	c.ObserveTarget("protocol", false, 0, 0)
	s := c.Snapshot()
	c.ObserveTarget("protocol", false, 0, 0)
	if s.DiagnosticsByKind["protocol"] != 1 {
		t.Errorf("snapshot map mutated: %v", s.DiagnosticsByKind)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncTargetDispatched()
			c.ObserveTarget("", false, 2, 0)
		}()
	}
	wg.Wait()
	s := c.Snapshot()
	if s.TargetsDispatched != 50 || s.RecordsReturned != 100 {
		t.Errorf("dispatched = %d, records = %d", s.TargetsDispatched, s.RecordsReturned)
	}
}

func TestExporter(t *testing.T) {
	c := NewCollector()
	c.IncRequestStarted()
	c.IncRequestCompleted()
	c.ObserveTarget("connection", false, 0, 0)
	c.ObserveTarget("", false, 3, 1)

	e := NewExporter(c)
	expected := `
# HELP fedsearch_diagnostics_total Non-surrogate target diagnostics by kind.
# TYPE fedsearch_diagnostics_total counter
fedsearch_diagnostics_total{kind="connection"} 1
# HELP fedsearch_records_total Records returned to callers by type.
# TYPE fedsearch_records_total counter
fedsearch_records_total{type="record"} 3
fedsearch_records_total{type="surrogate"} 1
# HELP fedsearch_requests_total Federation requests by outcome.
# TYPE fedsearch_requests_total counter
fedsearch_requests_total{outcome="completed"} 1
fedsearch_requests_total{outcome="rejected"} 0
fedsearch_requests_total{outcome="started"} 1
`
	if err := testutil.CollectAndCompare(e, strings.NewReader(expected),
		"fedsearch_requests_total", "fedsearch_diagnostics_total", "fedsearch_records_total"); err != nil {
		t.Error(err)
	}

	if n := testutil.CollectAndCount(e, "fedsearch_targets_total"); n != 3 {
		t.Errorf("targets_total series = %d, want 3", n)
	}
}

func TestRegistry(t *testing.T) {
	reg := Registry(NewCollector())
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "fedsearch_requests_total" {
			found = true
		}
	}
	if !found {
		t.Error("fedsearch_requests_total not registered")
	}
}
