// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

// Package worker implements the distributed side of the coordination
// protocol: master election, queue population, the reservation loop,
// and the ack/requeue/release surface a consumer drives per item.
package worker

import (
	"context"
	"math"
	"time"

	"go.uber.org/atomic"

	"github.com/go-stack/stack"
	"github.com/google/uuid"
	"github.com/jjeffery/kv"

	"github.com/leaf-ai/distributed-queue/internal/ident"
	"github.com/leaf-ai/distributed-queue/internal/qlog"
	"github.com/leaf-ai/distributed-queue/internal/qmetrics"
	"github.com/leaf-ai/distributed-queue/internal/queuecfg"
	"github.com/leaf-ai/distributed-queue/internal/queuestore"
)

const reservationRetryDelay = 50 * time.Millisecond

// state names the worker's position in its lifecycle. It is tracked
// internally only; consumers drive the worker through
// Next/Acknowledge/Requeue/Release/Shutdown without inspecting it.
type state int

const (
	stateUnstarted state = iota
	stateConstructed
	stateRunning
	stateDraining
	stateTerminal
)

// ReservationError is returned when a consumer calls Acknowledge,
// Requeue, or Release on an item it never received from Next. This
// indicates a bug in the caller, not a transient condition.
type ReservationError struct {
	Item string
}

func (e *ReservationError) Error() string {
	return "item " + e.Item + " is not currently reserved by this worker"
}

// Option configures a Worker at construction time.
type Option func(*options)

type options struct {
	logger   *qlog.Logger
	metrics  *qmetrics.Metrics
}

// WithLogger attaches a logger; without one, worker operations are
// silent.
func WithLogger(l *qlog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics attaches a Metrics bundle; without one, no Prometheus
// series are updated.
func WithMetrics(m *qmetrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Worker is a single logical participant in a build: it attempts master
// election, optionally populates the queue, and then loops reserving
// and disposing of items on behalf of one consumer goroutine.
type Worker[T ident.Identifier] struct {
	client   *queuestore.Client
	registry *ident.Registry[T]
	buildID  string
	workerID string
	cfg      queuecfg.Config

	logger  *qlog.Logger
	metrics *qmetrics.Metrics

	shutdownRequired *atomic.Bool
	reserved         map[T]struct{}
	st               state
}

// New opens a store connection, attempts master election, and (if this
// worker wins) populates the queue from items. items must be the same
// list, in the same order, across every worker sharing buildID.
func New[T ident.Identifier](ctx context.Context, redisURL, buildID string, items []T, cfg queuecfg.Config, opts ...Option) (*Worker[T], error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}

	registry, errGo := ident.NewRegistry(items)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	client, err := queuestore.NewClient(redisURL, buildID, cfg.MasterWaitTimeout)
	if err != nil {
		return nil, err
	}

	w := &Worker[T]{
		client:           client,
		registry:         registry,
		buildID:          buildID,
		workerID:         workerID,
		cfg:              cfg,
		logger:           o.logger,
		metrics:          o.metrics,
		shutdownRequired: atomic.NewBool(false),
		reserved:         make(map[T]struct{}),
		st:               stateUnstarted,
	}

	encoded := make([]string, len(items))
	for i, item := range items {
		encoded[i] = item.Encode()
	}
	if errGo := client.ElectMaster(ctx, workerID, encoded); errGo != nil {
		_ = client.Close()
		return nil, errGo
	}
	w.st = stateConstructed

	if w.logger != nil {
		w.logger.Info("worker constructed", "build_id", buildID, "worker_id", workerID, "is_master", client.IsMaster(), "total", len(items))
	}

	return w, nil
}

// IsMaster reports whether this worker won the build's master election.
func (w *Worker[T]) IsMaster() bool { return w.client.IsMaster() }

// SetMasterWaitTimeout overrides the construction-time default.
func (w *Worker[T]) SetMasterWaitTimeout(d time.Duration) { w.client.SetMasterWaitTimeout(d) }

// IsShutdownRequired reports whether Shutdown has been called.
func (w *Worker[T]) IsShutdownRequired() bool { return w.shutdownRequired.Load() }

// Shutdown requests that the next call to Next yield terminal. Any item
// already reserved must still be acknowledged, requeued, or released by
// the consumer; Shutdown does not abandon it automatically. Safe to call
// from a different goroutine than the one driving Next.
func (w *Worker[T]) Shutdown() { w.shutdownRequired.Store(true) }

// Total returns the item count fixed at construction.
func (w *Worker[T]) Total() int { return int(w.client.Total()) }

// Len returns items not yet finished: pending plus in-flight.
func (w *Worker[T]) Len(ctx context.Context) (int, error) {
	l, err := w.client.Len(ctx)
	if err == nil && w.metrics != nil {
		w.metrics.QueueLen.With(reservationLabels(w.buildID, w.workerID)).Set(float64(l))
	}
	return int(l), err
}

// Progress returns max(0, Total()-Len()).
func (w *Worker[T]) Progress(ctx context.Context) (int, error) {
	p, err := w.client.Progress(ctx)
	if err == nil && w.metrics != nil {
		w.metrics.Progress.With(reservationLabels(w.buildID, w.workerID)).Set(float64(p))
	}
	return int(p), err
}

// IsEmpty reports whether Len() == 0.
func (w *Worker[T]) IsEmpty(ctx context.Context) (bool, error) {
	return w.client.IsEmpty(ctx)
}

// Close releases the worker's store connection.
func (w *Worker[T]) Close() error { return w.client.Close() }

// Next blocks until an item is available, the worker is shut down, the
// queue has drained, or ctx is cancelled. ok=false ends iteration: it is
// returned after Shutdown, once the queue has drained, or when no master
// is observed ready within the master-wait timeout.
func (w *Worker[T]) Next(ctx context.Context) (item T, ok bool, err error) {
	var zero T

	if errGo := w.client.WaitForMaster(ctx); errGo != nil {
		w.st = stateTerminal
		if w.logger != nil {
			w.logger.Warn("giving up waiting for master", "worker_id", w.workerID, "cause", errGo.Error())
		}
		return zero, false, nil
	}
	if w.st == stateConstructed {
		w.st = stateRunning
	}

	for {
		if w.shutdownRequired.Load() {
			w.st = stateDraining
			if len(w.reserved) == 0 {
				w.st = stateTerminal
			}
			return zero, false, nil
		}

		empty, errGo := w.client.IsEmpty(ctx)
		if errGo != nil {
			if waitErr := w.sleepOrDone(ctx); waitErr != nil {
				return zero, false, waitErr
			}
			continue
		}
		if empty {
			w.st = stateDraining
			if len(w.reserved) == 0 {
				w.st = stateTerminal
			}
			return zero, false, nil
		}

		encoded, reserveOK, errGo := w.client.ReserveLost(ctx, w.workerID, w.cfg.Timeout)
		viaLost := errGo == nil && reserveOK
		if errGo == nil && !reserveOK {
			encoded, reserveOK, errGo = w.client.Reserve(ctx, w.workerID, w.cfg.Timeout)
		}
		if errGo != nil {
			if waitErr := w.sleepOrDone(ctx); waitErr != nil {
				return zero, false, waitErr
			}
			continue
		}
		if !reserveOK {
			if waitErr := w.sleepOrDone(ctx); waitErr != nil {
				return zero, false, waitErr
			}
			continue
		}

		decoded, decodeOK := w.registry.Decode(encoded)
		if !decodeOK {
			// Authoritative registry couldn't resolve it: treat as no
			// item this tick. The lease expires and reserve_lost will
			// recover it for whichever worker tries next.
			if w.logger != nil {
				w.logger.Warn("reserved item failed to decode", "encoded", encoded, "worker_id", w.workerID)
			}
			continue
		}

		w.reserved[decoded] = struct{}{}
		if w.metrics != nil {
			labels := reservationLabels(w.buildID, w.workerID)
			if viaLost {
				w.metrics.LostReclaimed.With(labels).Inc()
			} else {
				w.metrics.Reserved.With(labels).Inc()
			}
		}
		return decoded, true, nil
	}
}

func (w *Worker[T]) sleepOrDone(ctx context.Context) error {
	timer := time.NewTimer(reservationRetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acknowledge marks item permanently finished. errorPayload may be
// empty; a non-empty payload is retained for queuestore.ErrorReportTTL.
// It fails with *ReservationError if item was never yielded by Next (or
// was already disposed of).
func (w *Worker[T]) Acknowledge(ctx context.Context, item T, errorPayload string) (bool, error) {
	if _, held := w.reserved[item]; !held {
		return false, &ReservationError{Item: item.Encode()}
	}
	delete(w.reserved, item)

	ok, err := w.client.Acknowledge(ctx, w.workerID, item.Encode(), errorPayload)
	if err != nil {
		return false, err
	}
	if w.metrics != nil && ok {
		w.metrics.Acked.With(reservationLabels(w.buildID, w.workerID)).Inc()
	}
	w.maybeFinishDraining()
	return ok, nil
}

// Requeue returns item to the queue, subject to the per-item and
// global caps. A false return with a nil error means the caps rejected
// the requeue, not that anything went wrong; the caller must then
// Acknowledge instead.
func (w *Worker[T]) Requeue(ctx context.Context, item T) (bool, error) {
	if _, held := w.reserved[item]; !held {
		return false, &ReservationError{Item: item.Encode()}
	}

	globalMax := int64(math.Ceil(w.cfg.RequeueTolerance * float64(w.Total())))
	if w.cfg.MaxRequeues == 0 || globalMax == 0 {
		return false, nil
	}

	ok, err := w.client.Requeue(ctx, item.Encode(), int64(w.cfg.MaxRequeues), globalMax, queuestore.DefaultRequeueOffset)
	if err != nil {
		return false, err
	}
	if ok {
		delete(w.reserved, item)
		if w.metrics != nil {
			w.metrics.Requeued.With(reservationLabels(w.buildID, w.workerID)).Inc()
		}
	}
	return ok, nil
}

// Release voluntarily abandons item without spending requeue budget. It
// returns to the tail of the queue for any worker to reserve again.
func (w *Worker[T]) Release(ctx context.Context, item T) (bool, error) {
	if _, held := w.reserved[item]; !held {
		return false, &ReservationError{Item: item.Encode()}
	}

	ok, err := w.client.Release(ctx, item.Encode())
	if err != nil {
		return false, err
	}
	if ok {
		delete(w.reserved, item)
		if w.metrics != nil {
			w.metrics.Released.With(reservationLabels(w.buildID, w.workerID)).Inc()
		}
	}
	w.maybeFinishDraining()
	return ok, nil
}

func (w *Worker[T]) maybeFinishDraining() {
	if w.st == stateDraining && len(w.reserved) == 0 {
		w.st = stateTerminal
	}
}

func reservationLabels(buildID, workerID string) map[string]string {
	return map[string]string{"build_id": buildID, "worker_id": workerID}
}
