// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

// Package supervisor implements the passive observer side of the
// coordination protocol: a process that shares a build_id with a fleet
// of workers but never reserves or acknowledges anything itself.
package supervisor

import (
	"context"
	"time"

	"github.com/leaf-ai/distributed-queue/internal/qlog"
	"github.com/leaf-ai/distributed-queue/internal/qmetrics"
	"github.com/leaf-ai/distributed-queue/internal/queuestore"
)

const pollInterval = 100 * time.Millisecond

// observerLabel stands in for worker_id on a Supervisor's metric series:
// a Supervisor has no worker identity of its own.
const observerLabel = "supervisor"

// Option configures a Supervisor at construction time.
type Option func(*options)

type options struct {
	metrics *qmetrics.Metrics
}

// WithMetrics attaches a Metrics bundle; without one, no Prometheus
// series are updated.
func WithMetrics(m *qmetrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Supervisor observes a build's progress without participating in it.
type Supervisor struct {
	client  *queuestore.Client
	logger  *qlog.Logger
	metrics *qmetrics.Metrics
	buildID string
}

// New opens a store connection scoped to buildID. It never attempts
// master election.
func New(redisURL, buildID string, masterWaitTimeout time.Duration, logger *qlog.Logger, opts ...Option) (*Supervisor, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	client, err := queuestore.NewClient(redisURL, buildID, masterWaitTimeout)
	if err != nil {
		return nil, err
	}
	return &Supervisor{client: client, logger: logger, metrics: o.metrics, buildID: buildID}, nil
}

// Close releases the store connection.
func (s *Supervisor) Close() error { return s.client.Close() }

// Len returns items not yet finished: pending plus in-flight.
func (s *Supervisor) Len(ctx context.Context) (int, error) {
	l, err := s.client.Len(ctx)
	if err == nil && s.metrics != nil {
		s.metrics.QueueLen.With(map[string]string{"build_id": s.buildID, "worker_id": observerLabel}).Set(float64(l))
	}
	return int(l), err
}

// Progress returns max(0, total-Len()), where total is read from the
// store the first time Progress finds it published.
func (s *Supervisor) Progress(ctx context.Context) (int, error) {
	p, err := s.client.Progress(ctx)
	if err == nil && s.metrics != nil {
		s.metrics.Progress.With(map[string]string{"build_id": s.buildID, "worker_id": observerLabel}).Set(float64(p))
	}
	return int(p), err
}

// IsEmpty reports whether Len() == 0.
func (s *Supervisor) IsEmpty(ctx context.Context) (bool, error) {
	return s.client.IsEmpty(ctx)
}

// WaitForWorkers first waits for a master to publish "ready" (or
// "finished"), then polls until the queue drains. It returns false,
// without an error, if the master is never observed to become ready
// before master_wait_timeout elapses.
func (s *Supervisor) WaitForWorkers(ctx context.Context) (bool, error) {
	if errGo := s.client.WaitForMaster(ctx); errGo != nil {
		if s.logger != nil {
			s.logger.Warn("supervisor gave up waiting for master", "cause", errGo.Error())
		}
		return false, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		empty, err := s.client.IsEmpty(ctx)
		if err != nil {
			return false, err
		}
		if empty {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
