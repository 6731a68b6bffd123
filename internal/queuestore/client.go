// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

// Package queuestore implements the shared-store side of the coordination
// protocol: the key-naming/connection "base client" and the six atomic
// multi-key operations, each backed by an embedded Lua script run through
// go-redis.
package queuestore

import (
	"context"
	"strconv"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
	"github.com/redis/go-redis/v9"
)

// DefaultRequeueOffset is the literal offset preserved for compatibility
// rather than derived from queue length or worker count.
const DefaultRequeueOffset = 42

const keyPrefix = "build"

const (
	statusSetup    = "setup"
	statusReady    = "ready"
	statusFinished = "finished"
)

// Client is the base client shared by Worker and Supervisor: a store
// connection, the build's namespace, and master-election/length
// accounting that doesn't require knowing whether the caller is a
// worker or a passive observer.
type Client struct {
	rdb               *redis.Client
	buildID           string
	isMaster          bool
	total             *int64
	masterWaitTimeout time.Duration
}

// NewClient opens a connection to a Redis-compatible store and scopes it
// to buildID. masterWaitTimeout defaults to 10s.
func NewClient(redisURL, buildID string, masterWaitTimeout time.Duration) (*Client, error) {
	opts, errGo := redis.ParseURL(redisURL)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()).With("redis_url", redisURL)
	}
	if masterWaitTimeout <= 0 {
		masterWaitTimeout = 10 * time.Second
	}
	return &Client{
		rdb:               redis.NewClient(opts),
		buildID:           buildID,
		masterWaitTimeout: masterWaitTimeout,
	}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// IsMaster reports whether this client won master election.
func (c *Client) IsMaster() bool { return c.isMaster }

// SetMasterWaitTimeout overrides the construction-time default.
func (c *Client) SetMasterWaitTimeout(d time.Duration) { c.masterWaitTimeout = d }

// Key joins the build namespace and the supplied parts with ":".
func (c *Client) Key(parts ...string) string {
	allParts := make([]string, 0, len(parts)+2)
	allParts = append(allParts, keyPrefix, c.buildID)
	allParts = append(allParts, parts...)
	result := allParts[0]
	for _, p := range allParts[1:] {
		result += ":" + p
	}
	return result
}

// Timestamp returns seconds since epoch as a fractional real, strictly
// monotone between calls separated by >=1ms.
func (c *Client) Timestamp() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// MasterStatus returns the current master-status value, or "" if absent.
func (c *Client) MasterStatus(ctx context.Context) (string, error) {
	status, errGo := c.rdb.Get(ctx, c.Key("master-status")).Result()
	if errGo == redis.Nil {
		return "", nil
	}
	if errGo != nil {
		return "", kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()).With("build_id", c.buildID)
	}
	return status, nil
}

// WaitForMaster polls master-status at 100ms granularity until it is
// "ready" or "finished". If this client is master it returns
// immediately. It fails with LostMasterError once masterWaitTimeout has
// elapsed without observing one of those two statuses.
func (c *Client) WaitForMaster(ctx context.Context) error {
	if c.isMaster {
		return nil
	}

	deadline := time.Now().Add(c.masterWaitTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := c.MasterStatus(ctx)
		if err != nil {
			return err
		}
		if status == statusReady || status == statusFinished {
			return nil
		}
		if time.Now().After(deadline) {
			return &LostMasterError{ObservedStatus: status, Timeout: c.masterWaitTimeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Len reports items not yet finished: pending in queue plus in-flight.
// Items in `completed` are excluded.
func (c *Client) Len(ctx context.Context) (int64, error) {
	queueLen, errGo := c.rdb.LLen(ctx, c.Key("queue")).Result()
	if errGo != nil {
		return 0, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	runningLen, errGo := c.rdb.ZCard(ctx, c.Key("running")).Result()
	if errGo != nil {
		return 0, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return queueLen + runningLen, nil
}

// IsEmpty reports whether Len() == 0.
func (c *Client) IsEmpty(ctx context.Context) (bool, error) {
	l, err := c.Len(ctx)
	if err != nil {
		return false, err
	}
	return l == 0, nil
}

// Progress reports max(0, total-Len()). Total is cached locally once
// known; workers learn it at construction via ElectMaster, while a
// passive Supervisor fetches it lazily from the store on first use
// (it never changes for the lifetime of a build).
func (c *Client) Progress(ctx context.Context) (int64, error) {
	if c.total == nil {
		if err := c.refreshTotal(ctx); err != nil {
			return 0, err
		}
	}
	if c.total == nil {
		return 0, nil
	}
	l, err := c.Len(ctx)
	if err != nil {
		return 0, err
	}
	progress := *c.total - l
	if progress < 0 {
		progress = 0
	}
	return progress, nil
}

func (c *Client) refreshTotal(ctx context.Context) error {
	val, errGo := c.rdb.Get(ctx, c.Key("total")).Result()
	if errGo == redis.Nil {
		return nil
	}
	if errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	total, errGo := strconv.ParseInt(val, 10, 64)
	if errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()).With("raw_total", val)
	}
	c.total = &total
	return nil
}

// ForceMasterStatus overwrites master-status directly, bypassing
// election. It exists for tests that need to simulate a master that
// crashed mid-setup or got stuck in an unrecognized state.
func (c *Client) ForceMasterStatus(ctx context.Context, status string) error {
	if errGo := c.rdb.Set(ctx, c.Key("master-status"), status, 0).Err(); errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// Total returns the build's item count, or 0 before it's known.
func (c *Client) Total() int64 {
	if c.total == nil {
		return 0
	}
	return *c.total
}

// ElectMaster attempts master election via SETNX and, when this client
// wins, pushes encoded (in iteration order, tail-first-consumable) and
// publishes master-status=ready — all three writes in one pipeline. It
// always registers workerID in the workers set, win or lose.
func (c *Client) ElectMaster(ctx context.Context, workerID string, encoded []string) error {
	statusKey := c.Key("master-status")

	won, errGo := c.rdb.SetNX(ctx, statusKey, statusSetup, 0).Result()
	if errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	if won {
		c.isMaster = true
		total := int64(len(encoded))
		c.total = &total

		queueKey := c.Key("queue")
		totalKey := c.Key("total")

		_, errGo = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(encoded) > 0 {
				args := make([]interface{}, len(encoded))
				for i, e := range encoded {
					args[i] = e
				}
				pipe.LPush(ctx, queueKey, args...)
			}
			pipe.Set(ctx, totalKey, total, 0)
			pipe.Set(ctx, statusKey, statusReady, 0)
			return nil
		})
		if errGo != nil {
			return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
		}
	} else {
		total := int64(len(encoded))
		c.total = &total
	}

	if errGo := c.rdb.SAdd(ctx, c.Key("workers"), workerID).Err(); errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	return nil
}
