// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

// Package queuecfg holds the configuration surface shared by
// internal/worker and internal/supervisor: defaults, optional TOML file
// loading, and environment-variable overrides.
package queuecfg

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"
)

// Config is the per-run configuration for a worker or supervisor.
type Config struct {
	RedisURL          string        `toml:"redis_url"`
	BuildID           string        `toml:"build_id"`
	MaxRequeues       int           `toml:"max_requeues"`
	RequeueTolerance  float64       `toml:"requeue_tolerance"`
	Timeout           time.Duration `toml:"timeout"`
	WorkerID          string        `toml:"worker_id"`
	MasterWaitTimeout time.Duration `toml:"master_wait_timeout"`
}

// Defaults returns the baseline configuration: requeues disabled, a 60s
// reservation timeout, and a 10s master-wait timeout.
// WorkerID is left empty; callers default it to a random UUID at the
// point a worker is actually constructed.
func Defaults() Config {
	return Config{
		MaxRequeues:       0,
		RequeueTolerance:  0.0,
		Timeout:           60 * time.Second,
		MasterWaitTimeout: 10 * time.Second,
	}
}

// Load reads a TOML file on top of Defaults(). Fields absent from the
// file keep their default value.
func Load(path string) (Config, error) {
	cfg := Defaults()
	byts, errGo := os.ReadFile(path)
	if errGo != nil {
		return cfg, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()).With("path", path)
	}
	if errGo := toml.Unmarshal(byts, &cfg); errGo != nil {
		return cfg, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()).With("path", path)
	}
	return cfg, nil
}

// WithEnvOverrides returns a copy of c with any of the recognized
// environment variables applied on top. Unset variables leave the
// corresponding field untouched.
func (c Config) WithEnvOverrides() Config {
	if v := os.Getenv("QUEUE_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("QUEUE_BUILD_ID"); v != "" {
		c.BuildID = v
	}
	if v := os.Getenv("QUEUE_WORKER_ID"); v != "" {
		c.WorkerID = v
	}
	if v := os.Getenv("QUEUE_MAX_REQUEUES"); v != "" {
		if n, errGo := strconv.Atoi(v); errGo == nil {
			c.MaxRequeues = n
		}
	}
	if v := os.Getenv("QUEUE_REQUEUE_TOLERANCE"); v != "" {
		if f, errGo := strconv.ParseFloat(v, 64); errGo == nil {
			c.RequeueTolerance = f
		}
	}
	if v := os.Getenv("QUEUE_TIMEOUT"); v != "" {
		if d, errGo := time.ParseDuration(v); errGo == nil {
			c.Timeout = d
		}
	}
	if v := os.Getenv("QUEUE_MASTER_WAIT_TIMEOUT"); v != "" {
		if d, errGo := time.ParseDuration(v); errGo == nil {
			c.MasterWaitTimeout = d
		}
	}
	return c
}
