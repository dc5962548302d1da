// Package metrics records queue view activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Recorder holds every collector of one queue view. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	sortRuns     *prometheus.CounterVec
	sortDuration *prometheus.HistogramVec
	bulkOps      *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	deltas       *prometheus.CounterVec
	completed    prometheus.Counter
	jobs         *prometheus.GaugeVec
}

// NewRecorder creates and registers the collectors on reg
func NewRecorder(reg *prometheus.Registry) (*Recorder, error) {
	r := &Recorder{
		gatherer: reg,
		sortRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffqueue_sort_runs_total",
				Help: "Ordering recomputations by strategy",
			},
			[]string{"strategy"},
		),
		sortDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ffqueue_sort_duration_seconds",
				Help:    "Time spent producing an ordering",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 9),
			},
			[]string{"strategy"},
		),
		bulkOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffqueue_bulk_operations_total",
				Help: "Bulk and single-job commands by action and result",
			},
			[]string{"action", "result"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffqueue_snapshot_refreshes_total",
				Help: "Snapshot refreshes by result",
			},
			[]string{"result"},
		),
		deltas: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffqueue_deltas_total",
				Help: "Pushed queue deltas by result",
			},
			[]string{"result"},
		),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ffqueue_completed_jobs_total",
			Help: "Jobs observed transitioning to completed",
		}),
		jobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ffqueue_jobs",
				Help: "Jobs in the local collection by status",
			},
			[]string{"status"},
		),
	}

	for _, c := range []prometheus.Collector{r.sortRuns, r.sortDuration, r.bulkOps, r.refreshes, r.deltas, r.completed, r.jobs} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return r, nil
}

// ObserveSort records one ordering run
func (r *Recorder) ObserveSort(strategy string, d time.Duration) {
	if r == nil {
		return
	}
	r.sortRuns.WithLabelValues(strategy).Inc()
	r.sortDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// CountBulk records the outcome of a command
func (r *Recorder) CountBulk(action, result string) {
	if r == nil {
		return
	}
	r.bulkOps.WithLabelValues(action, result).Inc()
}

// CountRefresh records a snapshot refresh
func (r *Recorder) CountRefresh(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.refreshes.WithLabelValues(result).Inc()
}

// CountDelta records a pushed delta
func (r *Recorder) CountDelta(result string) {
	if r == nil {
		return
	}
	r.deltas.WithLabelValues(result).Inc()
}

// IncCompleted counts one job newly completed
func (r *Recorder) IncCompleted() {
	if r == nil {
		return
	}
	r.completed.Inc()
}

// SetJobCounts replaces the per-status gauge
func (r *Recorder) SetJobCounts(counts map[string]int) {
	if r == nil {
		return
	}
	r.jobs.Reset()
	for status, n := range counts {
		r.jobs.WithLabelValues(status).Set(float64(n))
	}
}

// WriteText dumps every registered metric in the text exposition format
func (r *Recorder) WriteText(w io.Writer) error {
	if r == nil {
		return nil
	}
	families, err := r.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
