// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

package supervisor

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leaf-ai/distributed-queue/internal/ident"
	"github.com/leaf-ai/distributed-queue/internal/qmetrics"
	"github.com/leaf-ai/distributed-queue/internal/queuecfg"
	"github.com/leaf-ai/distributed-queue/internal/worker"
)

func redisURLForTest(t *testing.T) string {
	url := os.Getenv("QUEUE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("QUEUE_TEST_REDIS_URL not set, skipping test that needs a live store")
	}
	return url
}

func TestWaitForWorkersReturnsOnceDrained(t *testing.T) {
	url := redisURLForTest(t)
	buildID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	ctx := context.Background()

	items := []ident.StringID{"a", "b"}
	w, err := worker.New[ident.StringID](ctx, url, buildID, items, queuecfg.Defaults())
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	defer w.Close()

	sup, err := New(url, buildID, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("supervisor.New: %v", err)
	}
	defer sup.Close()

	done := make(chan struct{})
	go func() {
		for {
			item, ok, err := w.Next(ctx)
			if err != nil || !ok {
				close(done)
				return
			}
			if _, err := w.Acknowledge(ctx, item, ""); err != nil {
				close(done)
				return
			}
		}
	}()

	drained, err := sup.WaitForWorkers(ctx)
	if err != nil {
		t.Fatalf("WaitForWorkers: %v", err)
	}
	if !drained {
		t.Fatal("expected WaitForWorkers to report true once the queue drains")
	}
	<-done
}

func TestProgressGaugeTracksObservedCompletion(t *testing.T) {
	url := redisURLForTest(t)
	buildID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	ctx := context.Background()

	items := []ident.StringID{"a"}
	w, err := worker.New[ident.StringID](ctx, url, buildID, items, queuecfg.Defaults())
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	defer w.Close()

	item, ok, err := w.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next: %v, %v", ok, err)
	}
	if _, err := w.Acknowledge(ctx, item, ""); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics := qmetrics.New(reg)

	sup, err := New(url, buildID, 2*time.Second, nil, WithMetrics(metrics))
	if err != nil {
		t.Fatalf("supervisor.New: %v", err)
	}
	defer sup.Close()

	progress, err := sup.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress != 1 {
		t.Fatalf("Progress() = %d, want 1", progress)
	}

	gaugeVal, err := qmetrics.GaugeValue(metrics.Progress, prometheus.Labels{"build_id": buildID, "worker_id": observerLabel})
	if err != nil {
		t.Fatalf("GaugeValue(Progress): %v", err)
	}
	if gaugeVal != 1 {
		t.Fatalf("Progress gauge = %v, want 1", gaugeVal)
	}
}

func TestWaitForWorkersFailsWhenMasterStuck(t *testing.T) {
	url := redisURLForTest(t)
	buildID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	ctx := context.Background()

	sup, err := New(url, buildID, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("supervisor.New: %v", err)
	}
	defer sup.Close()

	if err := sup.client.ForceMasterStatus(ctx, "setup"); err != nil {
		t.Fatalf("ForceMasterStatus: %v", err)
	}

	drained, err := sup.WaitForWorkers(ctx)
	if err != nil {
		t.Fatalf("WaitForWorkers: %v", err)
	}
	if drained {
		t.Fatal("expected WaitForWorkers to report false when master never becomes ready")
	}
}
