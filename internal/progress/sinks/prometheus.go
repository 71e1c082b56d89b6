package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
)

// PrometheusSink exports run progress as Prometheus gauges and counters.
type PrometheusSink struct {
	tasksTotal     prometheus.Gauge
	tasksCompleted prometheus.Gauge
	workersActive  prometheus.Gauge
	workersFailed  prometheus.Gauge
	progressRatio  prometheus.Gauge
	mergedRows     prometheus.Gauge
	snapshots      prometheus.Counter
	workerExits    *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grsearch_tasks_total",
			Help: "Tasks in the input of the current run.",
		}),
		tasksCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grsearch_tasks_completed",
			Help: "Distinct tasks with a completion marker.",
		}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grsearch_workers_active",
			Help: "Worker processes still running.",
		}),
		workersFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grsearch_workers_failed",
			Help: "Workers that exited with a non-zero code.",
		}),
		progressRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grsearch_run_progress_ratio",
			Help: "Completed over total tasks.",
		}),
		mergedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grsearch_merged_rows",
			Help: "Data rows in the latest merged output.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grsearch_snapshots_total",
			Help: "Intermediate snapshots written.",
		}),
		workerExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grsearch_worker_exits_total",
			Help: "Worker exits partitioned by exit code.",
		}, []string{"exit_code"}),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksTotal,
		s.tasksCompleted,
		s.workersActive,
		s.workersFailed,
		s.progressRatio,
		s.mergedRows,
		s.snapshots,
		s.workerExits,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSnapshot:
			s.snapshots.Inc()
			s.mergedRows.Set(float64(evt.Rows))
		case progress.StageWorkerExit:
			s.workerExits.WithLabelValues(strconv.Itoa(evt.ExitCode)).Inc()
		case progress.StageRunDone:
			s.mergedRows.Set(float64(evt.Rows))
		}
		if evt.Stage != progress.StageSnapshot && evt.Stage != progress.StageWorkerExit {
			s.setCounters(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) setCounters(evt progress.Event) {
	s.tasksTotal.Set(float64(evt.Total))
	s.tasksCompleted.Set(float64(evt.Completed))
	s.workersActive.Set(float64(evt.Active))
	s.workersFailed.Set(float64(evt.Failed))
	s.progressRatio.Set(evt.Fraction())
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
