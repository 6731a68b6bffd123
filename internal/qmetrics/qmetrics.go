// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

// Package qmetrics instruments worker and supervisor operations with
// Prometheus counters and gauges, registered per instance rather than
// as package-level globals.
package qmetrics

import (
	"github.com/jjeffery/kv"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics bundles the counters/gauges one worker or supervisor needs.
// Held on a struct, rather than package-level vars, so that multiple
// workers in one process (a test harness, say) don't collide on a
// single global registration.
type Metrics struct {
	Reserved   *prometheus.CounterVec
	Acked      *prometheus.CounterVec
	Requeued   *prometheus.CounterVec
	Released   *prometheus.CounterVec
	LostReclaimed *prometheus.CounterVec
	QueueLen   *prometheus.GaugeVec
	Progress   *prometheus.GaugeVec
}

// New builds and registers a fresh Metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default
// registry; production callers typically pass
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_items_reserved_total",
			Help: "Number of items successfully reserved by a worker.",
		}, []string{"build_id", "worker_id"}),
		Acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_items_acknowledged_total",
			Help: "Number of items acknowledged by a worker.",
		}, []string{"build_id", "worker_id"}),
		Requeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_items_requeued_total",
			Help: "Number of items successfully requeued by a worker.",
		}, []string{"build_id", "worker_id"}),
		Released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_items_released_total",
			Help: "Number of items voluntarily released without counting against the requeue budget.",
		}, []string{"build_id", "worker_id"}),
		LostReclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_items_lost_reclaimed_total",
			Help: "Number of items reclaimed from an expired reservation.",
		}, []string{"build_id", "worker_id"}),
		QueueLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_length",
			Help: "Items pending plus in-flight, as last observed by this worker.",
		}, []string{"build_id", "worker_id"}),
		Progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_progress",
			Help: "Items known finished, as last observed by this worker.",
		}, []string{"build_id", "worker_id"}),
	}
	reg.MustRegister(m.Reserved, m.Acked, m.Requeued, m.Released, m.LostReclaimed, m.QueueLen, m.Progress)
	return m
}

// CounterValue reads back a single counter's current value.
func CounterValue(metric *prometheus.CounterVec, labels prometheus.Labels) (float64, error) {
	dtoMetric := &dto.Metric{}
	if errGo := metric.With(labels).Write(dtoMetric); errGo != nil {
		return 0, kv.Wrap(errGo)
	}
	return dtoMetric.Counter.GetValue(), nil
}

// GaugeValue reads back a single gauge's current value.
func GaugeValue(metric *prometheus.GaugeVec, labels prometheus.Labels) (float64, error) {
	dtoMetric := &dto.Metric{}
	if errGo := metric.With(labels).Write(dtoMetric); errGo != nil {
		return 0, kv.Wrap(errGo)
	}
	return dtoMetric.Gauge.GetValue(), nil
}
