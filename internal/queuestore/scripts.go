// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

package queuestore

import (
	_ "embed"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/reserve.lua
var reserveSrc string

//go:embed scripts/reserve_lost.lua
var reserveLostSrc string

//go:embed scripts/acknowledge.lua
var acknowledgeSrc string

//go:embed scripts/requeue.lua
var requeueSrc string

//go:embed scripts/release.lua
var releaseSrc string

//go:embed scripts/heartbeat.lua
var heartbeatSrc string

// Scripts are loaded once per process and cached by go-redis under their
// content's SHA1: redis.Script.Run tries EVALSHA first and transparently
// falls back to EVAL (re-populating the store's script cache) whenever
// the server reports NOSCRIPT, so a client never needs to notice the
// store evicted a cached script.
var (
	reserveScript     = redis.NewScript(reserveSrc)
	reserveLostScript = redis.NewScript(reserveLostSrc)
	acknowledgeScript = redis.NewScript(acknowledgeSrc)
	requeueScript     = redis.NewScript(requeueSrc)
	releaseScript     = redis.NewScript(releaseSrc)
	heartbeatScript   = redis.NewScript(heartbeatSrc)
)
