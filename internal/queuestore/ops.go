// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

package queuestore

import (
	"context"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"
	"github.com/redis/go-redis/v9"
)

// ErrorReportTTL bounds how long an acknowledge call's failure payload
// survives in the store.
const ErrorReportTTL = 8 * time.Hour

// Reserve atomically pops one item off the queue and leases it to
// workerID until now+timeout. It returns ok=false with a nil error when
// the queue has nothing left to hand out.
func (c *Client) Reserve(ctx context.Context, workerID string, timeout time.Duration) (item string, ok bool, err error) {
	res, errGo := reserveScript.Run(ctx, c.rdb, []string{
		c.Key("queue"),
		c.Key("running"),
		c.Key("processed"),
		c.Key("worker", workerID, "queue"),
		c.Key("owners"),
	}, c.Timestamp(), timeout.Seconds(), workerID).Result()
	return decodeReserveResult(res, errGo)
}

// ReserveLost atomically re-leases the oldest reservation whose deadline
// has already passed. It returns ok=false with a nil error when no
// reservation is currently overdue.
func (c *Client) ReserveLost(ctx context.Context, workerID string, timeout time.Duration) (item string, ok bool, err error) {
	res, errGo := reserveLostScript.Run(ctx, c.rdb, []string{
		c.Key("running"),
		c.Key("completed"),
		c.Key("worker", workerID, "queue"),
		c.Key("owners"),
	}, c.Timestamp(), timeout.Seconds(), workerID).Result()
	return decodeReserveResult(res, errGo)
}

func decodeReserveResult(res interface{}, errGo error) (item string, ok bool, err error) {
	if errGo != nil && errGo != redis.Nil {
		return "", false, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	s, isString := res.(string)
	if !isString {
		return "", false, nil
	}
	return s, true, nil
}

// Acknowledge marks item permanently finished, provided workerID still
// owns its reservation. errorPayload may be empty; when non-empty it is
// retained for ErrorReportTTL under the item's error-reports key. ok is
// false when workerID no longer owns the reservation (it has already
// been reclaimed by ReserveLost).
func (c *Client) Acknowledge(ctx context.Context, workerID, item, errorPayload string) (ok bool, err error) {
	res, errGo := acknowledgeScript.Run(ctx, c.rdb, []string{
		c.Key("running"),
		c.Key("processed"),
		c.Key("owners"),
		c.Key("error-reports"),
		c.Key("completed"),
	}, workerID, item, errorPayload, int64(ErrorReportTTL.Seconds())).Result()
	return decodeBoolResult(res, errGo)
}

// Requeue returns item to the queue at an offset-from-tail position,
// provided neither the per-item cap maxPerItem nor the build-wide cap
// maxGlobal (summed across all items' requeue counts) has been reached.
// offset is typically DefaultRequeueOffset.
func (c *Client) Requeue(ctx context.Context, item string, maxPerItem, maxGlobal, offset int64) (ok bool, err error) {
	res, errGo := requeueScript.Run(ctx, c.rdb, []string{
		c.Key("processed"),
		c.Key("requeues-count"),
		c.Key("queue"),
		c.Key("running"),
		c.Key("worker-queue"), // KEYS[5] slot, bound but never written by requeue.lua: requeue has no single owning worker to audit against.
		c.Key("owners"),
		c.Key("error-reports"),
	}, maxPerItem, maxGlobal, item, offset).Result()
	return decodeBoolResult(res, errGo)
}

// Release returns item to the tail of the queue unconditionally,
// provided it is still reserved. Used for voluntary give-backs, e.g. a
// worker shutting down cleanly with work still in hand.
func (c *Client) Release(ctx context.Context, item string) (ok bool, err error) {
	res, errGo := releaseScript.Run(ctx, c.rdb, []string{
		c.Key("running"),
		c.Key("queue"),
		c.Key("owners"),
	}, item).Result()
	return decodeBoolResult(res, errGo)
}

// Heartbeat extends item's reservation deadline to now+timeout,
// provided workerID still owns it.
func (c *Client) Heartbeat(ctx context.Context, workerID, item string, timeout time.Duration) (ok bool, err error) {
	res, errGo := heartbeatScript.Run(ctx, c.rdb, []string{
		c.Key("running"),
		c.Key("owners"),
	}, workerID, item, c.Timestamp()+timeout.Seconds()).Result()
	return decodeBoolResult(res, errGo)
}

func decodeBoolResult(res interface{}, errGo error) (bool, error) {
	if errGo != nil && errGo != redis.Nil {
		return false, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	n, isInt := res.(int64)
	if !isInt {
		return false, nil
	}
	return n == 1, nil
}
