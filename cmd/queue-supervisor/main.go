// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strconv"
	"syscall"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"
	"github.com/karlmutch/envflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leaf-ai/distributed-queue/internal/qlog"
	"github.com/leaf-ai/distributed-queue/internal/qmetrics"
	"github.com/leaf-ai/distributed-queue/internal/supervisor"
)

var (
	buildTime string
	gitHash   string

	logger = qlog.New("queue-supervisor", "", "")

	redisURLOpt          = flag.String("redis-url", "", "store URL this supervisor observes, e.g. redis://host:6379/0")
	buildIDOpt           = flag.String("build-id", "", "identifier shared by every worker cooperating on the build being observed")
	masterWaitTimeoutOpt = flag.Duration("master-wait-timeout", 10*time.Second, "how long to wait for a master to publish master-status=ready")
	pollTimeoutOpt       = flag.Duration("drain-timeout", 0, "overall deadline for the queue to drain; zero waits indefinitely")
	promAddrOpt          = flag.String("prom-address", "", "address for this supervisor's prometheus http server; disabled when empty")
)

// runPrometheus starts the metrics http server when promAddrOpt is set and
// returns the Metrics instance the supervisor should update, or nil if
// disabled.
func runPrometheus(ctx context.Context) (*qmetrics.Metrics, error) {
	if len(*promAddrOpt) == 0 {
		return nil, nil
	}

	host, port, errGo := net.SplitHostPort(*promAddrOpt)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	if _, errGo := strconv.Atoi(port); errGo != nil {
		return nil, kv.Wrap(errGo, "badly formatted port number for prometheus server").With("stack", stack.Trace().TrimRuntime())
	}

	m := qmetrics.New(prometheus.DefaultRegisterer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	h := http.Server{Addr: net.JoinHostPort(host, port), Handler: mux}

	go func() {
		logger.Info("prometheus listening", "address", h.Addr)
		logger.Warn(fmt.Sprint(h.ListenAndServe()))
	}()
	go func() {
		<-ctx.Done()
		_ = h.Shutdown(context.Background())
	}()

	return m, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, path.Base(os.Args[0]))
	fmt.Fprintln(os.Stderr, "usage: ", os.Args[0], "[arguments]      Distributed Queue Supervisor      ", gitHash, "    ", buildTime)
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Arguments:")
	fmt.Fprintln(os.Stderr, "")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Exits 0 once the build's queue has drained, non-zero if the master is")
	fmt.Fprintln(os.Stderr, "never observed ready or the drain-timeout elapses first.")
}

func main() {
	Main()
}

// Main parses flags/env and runs EntryPoint, exiting non-zero on error
// or on an undrained queue.
func Main() {
	flag.Usage = usage
	envflag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *pollTimeoutOpt > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, *pollTimeoutOpt)
		defer timeoutCancel()
	}

	stopC := make(chan os.Signal, 1)
	signal.Notify(stopC, os.Interrupt, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		<-stopC
		logger.Warn("shutdown signal received")
		cancel()
	}()

	drained, err := EntryPoint(ctx)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
	if !drained {
		logger.Warn("queue did not drain")
		os.Exit(1)
	}
}

// EntryPoint constructs a Supervisor and blocks until the build's queue
// drains or ctx is done.
func EntryPoint(ctx context.Context) (drained bool, err error) {
	if *redisURLOpt == "" {
		return false, fmt.Errorf("-redis-url is required")
	}
	if *buildIDOpt == "" {
		return false, fmt.Errorf("-build-id is required")
	}

	metrics, err := runPrometheus(ctx)
	if err != nil {
		return false, err
	}

	opts := []supervisor.Option{}
	if metrics != nil {
		opts = append(opts, supervisor.WithMetrics(metrics))
	}

	sup, err := supervisor.New(*redisURLOpt, *buildIDOpt, *masterWaitTimeoutOpt, logger, opts...)
	if err != nil {
		return false, err
	}
	defer sup.Close()

	drained, err = sup.WaitForWorkers(ctx)
	if err != nil {
		return false, err
	}
	if drained {
		progress, err := sup.Progress(ctx)
		if err != nil {
			return true, err
		}
		logger.Info("build drained", "progress", progress)
	}
	return drained, nil
}
