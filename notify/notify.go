// Package notify defines the completion-notification boundary.
//
// After a federation request finishes, the gateway may publish one
// FederationCompletedEvent to a downstream system. Delivery is best effort:
// a failed publish is logged and counted, never surfaced to the caller.
package notify

import (
	"context"
	"time"

	"github.com/pithecene-io/fedsearch/log"
	"github.com/pithecene-io/fedsearch/metrics"
	"github.com/pithecene-io/fedsearch/types"
)

// EventVersion is the payload version of FederationCompletedEvent.
const EventVersion = "1"

// EventType is the event_type of every completion event.
const EventType = "federation_completed"

// FederationCompletedEvent is the payload published when a federation
// request finishes.
type FederationCompletedEvent struct {
	EventVersion  string   `json:"event_version"`
	EventType     string   `json:"event_type"`
	RequestID     string   `json:"request_id"`
	Outcome       string   `json:"outcome"` // complete, partial, failed
	TotalCount    int      `json:"total_count"`
	Targets       int      `json:"targets"`
	FailedTargets []string `json:"failed_targets,omitempty"`
	ArchivePath   string   `json:"archive_path,omitempty"`
	Timestamp     string   `json:"timestamp"` // RFC 3339
	DurationMs    int64    `json:"duration_ms"`
}

// NewEvent builds the completion event for result. archivePath is empty
// when the result was not archived.
func NewEvent(result *types.FederationResult, elapsed time.Duration, archivePath string) *FederationCompletedEvent {
	return &FederationCompletedEvent{
		EventVersion:  EventVersion,
		EventType:     EventType,
		RequestID:     result.RequestID,
		Outcome:       result.Outcome(),
		TotalCount:    result.TotalCount,
		Targets:       len(result.PerTarget),
		FailedTargets: result.Failed(),
		ArchivePath:   archivePath,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		DurationMs:    elapsed.Milliseconds(),
	}
}

// Notifier publishes completion events to a downstream system.
type Notifier interface {
	// Publish sends event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *FederationCompletedEvent) error

	// Close releases notifier resources.
	Close() error
}

// Deliver publishes event through n, logging and counting the outcome.
// A nil notifier is a no-op.
func Deliver(ctx context.Context, n Notifier, event *FederationCompletedEvent, logger *log.Logger, collector *metrics.Collector) {
	if n == nil {
		return
	}
	if err := n.Publish(ctx, event); err != nil {
		collector.IncNotifyPublishFailure()
		logger.Warn("completion notification failed", map[string]any{
			"request_id": event.RequestID,
			"error":      err.Error(),
		})
		return
	}
	collector.IncNotifyPublishSuccess()
	logger.Debug("completion notification sent", map[string]any{
		"request_id": event.RequestID,
	})
}
