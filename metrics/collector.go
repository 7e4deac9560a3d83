// Package metrics provides process-wide federation counters.
//
// The Collector accumulates counters across dispatches. It is a leaf package:
// dispatch code records outcomes through small typed methods, and the
// Prometheus exporter reads Snapshots rather than the live counters.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Request lifecycle
	RequestsStarted   int64
	RequestsCompleted int64
	// RequestsRejected counts requests where no target had a usable query.
	RequestsRejected int64

	// Targets
	TargetsDispatched int64
	TargetsSucceeded  int64
	TargetsFailed     int64
	TargetsTimedOut   int64
	TargetsPanicked   int64
	// DiagnosticsByKind counts non-surrogate diagnostics by kind.
	DiagnosticsByKind map[string]int64

	// Records
	RecordsReturned  int64
	SurrogateRecords int64

	// Side channels
	ArchiveWriteSuccess  int64
	ArchiveWriteFailure  int64
	NotifyPublishSuccess int64
	NotifyPublishFailure int64
}

// Collector accumulates counters. Thread-safe via sync.Mutex.
// All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsStarted   int64
	requestsCompleted int64
	requestsRejected  int64

	targetsDispatched int64
	targetsSucceeded  int64
	targetsFailed     int64
	targetsTimedOut   int64
	targetsPanicked   int64
	diagnosticsByKind map[string]int64

	recordsReturned  int64
	surrogateRecords int64

	archiveWriteSuccess  int64
	archiveWriteFailure  int64
	notifyPublishSuccess int64
	notifyPublishFailure int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{diagnosticsByKind: make(map[string]int64)}
}

func (c *Collector) add(f func()) {
	if c == nil {
		return
	}
	c.mu.Lock()
	f()
	c.mu.Unlock()
}

// --- Request lifecycle ---

// IncRequestStarted records a dispatch start.
func (c *Collector) IncRequestStarted() { c.add(func() { c.requestsStarted++ }) }

// IncRequestCompleted records a dispatch that produced a federation result.
func (c *Collector) IncRequestCompleted() { c.add(func() { c.requestsCompleted++ }) }

// IncRequestRejected records a dispatch with no usable target.
func (c *Collector) IncRequestRejected() { c.add(func() { c.requestsRejected++ }) }

// --- Targets ---

// IncTargetDispatched records a target task submitted to the pool.
func (c *Collector) IncTargetDispatched() { c.add(func() { c.targetsDispatched++ }) }

// IncTargetPanicked records a target task that panicked and was recovered.
func (c *Collector) IncTargetPanicked() { c.add(func() { c.targetsPanicked++ }) }

// ObserveTarget records a finished target. The diagnostic is described by
// its kind so this package stays free of domain types; an empty kind means
// the target was usable.
func (c *Collector) ObserveTarget(diagKind string, timedOut bool, records, surrogates int) {
	c.add(func() {
		if diagKind == "" {
			c.targetsSucceeded++
		} else {
			c.targetsFailed++
			c.diagnosticsByKind[diagKind]++
		}
		if timedOut {
			c.targetsTimedOut++
		}
		c.recordsReturned += int64(records)
		c.surrogateRecords += int64(surrogates)
	})
}

// --- Side channels ---

// IncArchiveWriteSuccess records a successful archive write.
func (c *Collector) IncArchiveWriteSuccess() { c.add(func() { c.archiveWriteSuccess++ }) }

// IncArchiveWriteFailure records a failed archive write.
func (c *Collector) IncArchiveWriteFailure() { c.add(func() { c.archiveWriteFailure++ }) }

// IncNotifyPublishSuccess records a delivered completion notification.
func (c *Collector) IncNotifyPublishSuccess() { c.add(func() { c.notifyPublishSuccess++ }) }

// IncNotifyPublishFailure records a failed completion notification.
func (c *Collector) IncNotifyPublishFailure() { c.add(func() { c.notifyPublishFailure++ }) }

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{DiagnosticsByKind: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RequestsStarted:   c.requestsStarted,
		RequestsCompleted: c.requestsCompleted,
		RequestsRejected:  c.requestsRejected,

		TargetsDispatched: c.targetsDispatched,
		TargetsSucceeded:  c.targetsSucceeded,
		TargetsFailed:     c.targetsFailed,
		TargetsTimedOut:   c.targetsTimedOut,
		TargetsPanicked:   c.targetsPanicked,
		DiagnosticsByKind: maps.Clone(c.diagnosticsByKind),

		RecordsReturned:  c.recordsReturned,
		SurrogateRecords: c.surrogateRecords,

		ArchiveWriteSuccess:  c.archiveWriteSuccess,
		ArchiveWriteFailure:  c.archiveWriteFailure,
		NotifyPublishSuccess: c.notifyPublishSuccess,
		NotifyPublishFailure: c.notifyPublishFailure,
	}
}
