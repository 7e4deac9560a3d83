package metrics

import (
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fedsearch"

// Exporter exposes a Collector's Snapshot as Prometheus counters.
// It implements prometheus.Collector.
type Exporter struct {
	source *Collector

	requests    *prometheus.Desc
	targets     *prometheus.Desc
	timeouts    *prometheus.Desc
	panics      *prometheus.Desc
	diagnostics *prometheus.Desc
	records     *prometheus.Desc
	archive     *prometheus.Desc
	notify      *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter creates an exporter reading from c.
func NewExporter(c *Collector) *Exporter {
	return &Exporter{
		source: c,
		requests: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "requests_total"),
			"Federation requests by outcome.", []string{"outcome"}, nil),
		targets: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "targets_total"),
			"Target tasks by outcome.", []string{"outcome"}, nil),
		timeouts: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "target_timeouts_total"),
			"Target tasks cut off by a deadline.", nil, nil),
		panics: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "target_panics_total"),
			"Target tasks that panicked and were recovered.", nil, nil),
		diagnostics: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "diagnostics_total"),
			"Non-surrogate target diagnostics by kind.", []string{"kind"}, nil),
		records: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "records_total"),
			"Records returned to callers by type.", []string{"type"}, nil),
		archive: prometheus.NewDesc(prometheus.BuildFQName(namespace, "archive", "writes_total"),
			"Archive writes by result.", []string{"result"}, nil),
		notify: prometheus.NewDesc(prometheus.BuildFQName(namespace, "notify", "publishes_total"),
			"Completion notifications by result.", []string{"result"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		e.requests, e.targets, e.timeouts, e.panics, e.diagnostics, e.records, e.archive, e.notify,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.source.Snapshot()
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(e.requests, s.RequestsStarted, "started")
	counter(e.requests, s.RequestsCompleted, "completed")
	counter(e.requests, s.RequestsRejected, "rejected")

	counter(e.targets, s.TargetsDispatched, "dispatched")
	counter(e.targets, s.TargetsSucceeded, "succeeded")
	counter(e.targets, s.TargetsFailed, "failed")
	counter(e.timeouts, s.TargetsTimedOut)
	counter(e.panics, s.TargetsPanicked)

	kinds := make([]string, 0, len(s.DiagnosticsByKind))
	for k := range s.DiagnosticsByKind {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		counter(e.diagnostics, s.DiagnosticsByKind[k], k)
	}

	counter(e.records, s.RecordsReturned, "record")
	counter(e.records, s.SurrogateRecords, "surrogate")

	counter(e.archive, s.ArchiveWriteSuccess, "success")
	counter(e.archive, s.ArchiveWriteFailure, "failure")
	counter(e.notify, s.NotifyPublishSuccess, "success")
	counter(e.notify, s.NotifyPublishFailure, "failure")
}

// Registry returns a registry holding an exporter for c plus the standard
// Go runtime and process collectors.
func Registry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewExporter(c),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
