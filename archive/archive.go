// Package archive keeps a write-mostly record of federation results in a
// lode dataset.
//
// Each federation result is written as one JSONL snapshot holding one record
// per target, Hive-partitioned by day and target. The archive is optional;
// the gateway works without one.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/fedsearch/log"
	"github.com/pithecene-io/fedsearch/metrics"
	"github.com/pithecene-io/fedsearch/types"
)

// DefaultDataset is the dataset id used when none is configured.
const DefaultDataset = "fedsearch"

// RecordKind identifies archived target results.
const RecordKind = "target_result"

// Partition keys, in layout order.
var partitionKeys = []string{"day", "target"}

// ErrNotArchived is returned when no archived records match a lookup.
var ErrNotArchived = errors.New("no archived records found")

// Archive writes federation results to a lode dataset.
type Archive struct {
	dataset  lode.Dataset
	location string
	logger   *log.Logger
	metrics  *metrics.Collector
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Archive) { a.logger = l }
}

// WithMetrics sets the collector counting archive writes.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Archive) { a.metrics = c }
}

// New opens the dataset on factory. location is a human-readable root
// (e.g. file:///var/lib/fedsearch) used in returned archive paths.
func New(dataset string, factory lode.StoreFactory, location string, opts ...Option) (*Archive, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := openDataset(dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	a := &Archive{
		dataset:  ds,
		location: strings.TrimSuffix(location, "/") + "/" + dataset,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.Nop()
	}
	return a, nil
}

// NewFS opens a filesystem-backed archive rooted at root.
func NewFS(dataset, root string, opts ...Option) (*Archive, error) {
	return New(dataset, lode.NewFSFactory(root), "file://"+root, opts...)
}

func openDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Day returns the partition day for t: YYYY-MM-DD in UTC.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Write archives result as one snapshot and returns its archive path.
// Failures are counted, logged and returned.
func (a *Archive) Write(ctx context.Context, result *types.FederationResult, completedAt time.Time) (string, error) {
	if len(result.PerTarget) == 0 {
		return "", nil
	}
	records := make([]any, 0, len(result.PerTarget))
	for i, r := range result.PerTarget {
		records = append(records, toRecordMap(result, i, r, completedAt))
	}

	snap, err := a.dataset.Write(ctx, records, lode.Metadata{})
	if err != nil {
		err = WrapWriteError(err, a.location)
		a.metrics.IncArchiveWriteFailure()
		a.logger.Warn("archive write failed", map[string]any{
			"request_id": result.RequestID,
			"error":      err.Error(),
		})
		return "", err
	}
	a.metrics.IncArchiveWriteSuccess()
	path := fmt.Sprintf("%s/%v", a.location, snap.ID)
	a.logger.Debug("federation result archived", map[string]any{
		"request_id": result.RequestID,
		"path":       path,
	})
	return path, nil
}

// Lookup returns the archived target records of requestID, newest snapshot
// first. A non-empty target restricts the lookup to that target's partition.
func (a *Archive) Lookup(ctx context.Context, requestID, target string) ([]map[string]any, error) {
	snapshots, err := a.dataset.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, a.location)
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "target", target) {
			continue
		}
		data, err := a.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/%v", a.location, snap.ID))
		}

		var out []map[string]any
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKind {
				continue
			}
			if toString(record["request_id"]) != requestID {
				continue
			}
			if target != "" && toString(record["target"]) != target {
				continue
			}
			out = append(out, record)
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, ErrNotArchived
}

// Location returns the archive root including the dataset id.
func (a *Archive) Location() string {
	return a.location
}

// snapshotMatchesFilter reports whether any file in snap lies in the
// key=value partition. An empty value matches everything.
func snapshotMatchesFilter(snap *lode.Snapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so that
// target=loc does not match target=loc2.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for part := range strings.SplitSeq(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
