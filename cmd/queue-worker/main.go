// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

package main

import (
	"bufio"
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

	"github.com/leaf-ai/distributed-queue/internal/ident"
	"github.com/leaf-ai/distributed-queue/internal/qlog"
	"github.com/leaf-ai/distributed-queue/internal/qmetrics"
	"github.com/leaf-ai/distributed-queue/internal/queuecfg"
	"github.com/leaf-ai/distributed-queue/internal/worker"
)

var (
	buildTime string
	gitHash   string

	startTime = time.Now()

	logger = qlog.New("queue-worker", "", "")

	redisURLOpt  = flag.String("redis-url", "", "store URL this worker coordinates through, e.g. redis://host:6379/0")
	buildIDOpt   = flag.String("build-id", "", "identifier shared by every worker and supervisor cooperating on one build")
	workerIDOpt  = flag.String("worker-id", "", "identifier for this worker; a random UUID is used when empty")
	itemsFileOpt = flag.String("items-file", "", "newline-delimited file of test identifiers; every worker reads it to build its registry, and the master election winner also pushes it onto the queue")
	configOpt    = flag.String("config", "", "optional TOML file of queuecfg.Config defaults")
	promAddrOpt  = flag.String("prom-address", "", "address for this worker's prometheus http server; disabled when empty")
)

// runPrometheus starts the metrics http server when promAddrOpt is set and
// returns the Metrics instance workers should update, or nil if disabled.
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
	fmt.Fprintln(os.Stderr, "usage: ", os.Args[0], "[arguments]      Distributed Queue Worker      ", gitHash, "    ", buildTime)
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Arguments:")
	fmt.Fprintln(os.Stderr, "")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment Variables:")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options can be read from environment variables by changing dashes '-' to underscores")
	fmt.Fprintln(os.Stderr, "and using upper case letters, as well as the QUEUE_* variables queuecfg recognizes.")
}

// main is the production entry point; it exists separately from Main so
// go test can link this command's coverage without invoking os.Exit.
func main() {
	Main()
}

// Main parses flags/env and runs EntryPoint, exiting non-zero on error.
func Main() {
	flag.Usage = usage
	envflag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopC := make(chan os.Signal, 1)
	signal.Notify(stopC, os.Interrupt, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		<-stopC
		logger.Warn("shutdown signal received")
		cancel()
	}()

	if err := EntryPoint(ctx); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}

func loadItems(path string) ([]ident.StringID, error) {
	f, errGo := os.Open(path)
	if errGo != nil {
		return nil, errGo
	}
	defer f.Close()

	var items []ident.StringID
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		items = append(items, ident.StringID(line))
	}
	return items, scanner.Err()
}

// EntryPoint drives one worker's lifetime: construct, then loop Next
// until the queue drains or the worker is shut down. It never runs a
// test itself; acknowledging unconditionally is a placeholder for the
// external executor this package deliberately never implements.
func EntryPoint(ctx context.Context) error {
	if *redisURLOpt == "" {
		return fmt.Errorf("-redis-url is required")
	}
	if *buildIDOpt == "" {
		return fmt.Errorf("-build-id is required")
	}

	cfg := queuecfg.Defaults()
	if *configOpt != "" {
		loaded, err := queuecfg.Load(*configOpt)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg = cfg.WithEnvOverrides()
	if *workerIDOpt != "" {
		cfg.WorkerID = *workerIDOpt
	}

	var items []ident.StringID
	if *itemsFileOpt != "" {
		loaded, errGo := loadItems(*itemsFileOpt)
		if errGo != nil {
			return errGo
		}
		items = loaded
	}

	metrics, err := runPrometheus(ctx)
	if err != nil {
		return err
	}

	opts := []worker.Option{worker.WithLogger(logger)}
	if metrics != nil {
		opts = append(opts, worker.WithMetrics(metrics))
	}

	w, err := worker.New[ident.StringID](ctx, *redisURLOpt, *buildIDOpt, items, cfg, opts...)
	if err != nil {
		return err
	}
	defer w.Close()

	logger.Info("worker started", "is_master", w.IsMaster(), "total", w.Total())

	for {
		item, ok, err := w.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		logger.Info("reserved item", "item", string(item))

		if _, err := w.Acknowledge(ctx, item, ""); err != nil {
			return err
		}
	}

	progress, err := w.Progress(ctx)
	if err != nil {
		return err
	}
	logger.Info("worker drained", "progress", progress, "elapsed", time.Since(startTime))
	return nil
}
