package notify

import (
	"context"
	"time"

	"github.com/pithecene-io/fedsearch/archive"
	"github.com/pithecene-io/fedsearch/log"
	"github.com/pithecene-io/fedsearch/metrics"
	"github.com/pithecene-io/fedsearch/types"
)

// Hooks runs the optional side channels of a finished federation: archive
// the result, then publish the completion event. Nil fields are skipped.
type Hooks struct {
	Archive  *archive.Archive
	Notifier Notifier
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// Completed archives result and notifies downstream. It returns the archive
// path, empty when nothing was archived. Side-channel failures are logged
// and counted only.
func (h *Hooks) Completed(ctx context.Context, result *types.FederationResult, elapsed time.Duration) string {
	if h == nil || result == nil {
		return ""
	}
	logger := h.Logger
	if logger == nil {
		logger = log.Nop()
	}

	var path string
	if h.Archive != nil {
		// Archive errors are already logged and counted by the archive.
		path, _ = h.Archive.Write(ctx, result, time.Now())
	}
	Deliver(ctx, h.Notifier, NewEvent(result, elapsed, path), logger, h.Metrics)
	return path
}

// Close releases the notifier.
func (h *Hooks) Close() error {
	if h == nil || h.Notifier == nil {
		return nil
	}
	return h.Notifier.Close()
}
