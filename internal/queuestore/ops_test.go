// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

package queuestore

import (
	"context"
	"testing"
	"time"
)

func setupQueueOfOne(t *testing.T, item string) (*Client, context.Context) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	if err := c.ElectMaster(ctx, "setup-worker", []string{item}); err != nil {
		t.Fatalf("ElectMaster: %v", err)
	}
	return c, ctx
}

func TestReserveHandsOutQueuedItem(t *testing.T) {
	c, ctx := setupQueueOfOne(t, "t1")

	item, ok, err := c.Reserve(ctx, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !ok || item != "t1" {
		t.Fatalf("Reserve() = %q, %v, want t1, true", item, ok)
	}

	_, ok, err = c.Reserve(ctx, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("Reserve (empty): %v", err)
	}
	if ok {
		t.Fatal("expected empty queue to report ok=false")
	}
}

func TestReserveSkipsAlreadyProcessedItem(t *testing.T) {
	c, ctx := setupQueueOfOne(t, "t1")

	item, ok, err := c.Reserve(ctx, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Reserve: %q, %v, %v", item, ok, err)
	}
	if ackOK, err := c.Acknowledge(ctx, "worker-a", item, ""); err != nil || !ackOK {
		t.Fatalf("Acknowledge: %v, %v", ackOK, err)
	}

	// Requeue back onto the queue as if a stale caller raced the ack.
	if err := c.rdb.RPush(ctx, c.Key("queue"), item).Err(); err != nil {
		t.Fatalf("RPush: %v", err)
	}

	_, ok, err = c.Reserve(ctx, "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if ok {
		t.Fatal("expected resurrected processed item to be skipped, not handed out")
	}
}

func TestReserveLostReclaimsExpiredReservation(t *testing.T) {
	c, ctx := setupQueueOfOne(t, "t1")

	item, ok, err := c.Reserve(ctx, "worker-a", -time.Second)
	if err != nil || !ok {
		t.Fatalf("Reserve: %q, %v, %v", item, ok, err)
	}

	got, ok, err := c.ReserveLost(ctx, "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("ReserveLost: %v", err)
	}
	if !ok || got != "t1" {
		t.Fatalf("ReserveLost() = %q, %v, want t1, true", got, ok)
	}
}

func TestReserveLostReportsNoneWhenNothingExpired(t *testing.T) {
	c, ctx := setupQueueOfOne(t, "t1")

	if _, ok, err := c.Reserve(ctx, "worker-a", time.Hour); err != nil || !ok {
		t.Fatalf("Reserve: %v, %v", ok, err)
	}

	_, ok, err := c.ReserveLost(ctx, "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("ReserveLost: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false when no reservation has expired")
	}
}

func TestAcknowledgeFailsForWrongOwner(t *testing.T) {
	c, ctx := setupQueueOfOne(t, "t1")

	item, ok, err := c.Reserve(ctx, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Reserve: %v, %v", ok, err)
	}

	ackOK, err := c.Acknowledge(ctx, "worker-b", item, "")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if ackOK {
		t.Fatal("expected Acknowledge by a non-owning worker to fail")
	}
}

func TestAcknowledgeWithErrorPayloadIsRetained(t *testing.T) {
	c, ctx := setupQueueOfOne(t, "t1")

	item, ok, err := c.Reserve(ctx, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Reserve: %v, %v", ok, err)
	}
	if ackOK, err := c.Acknowledge(ctx, "worker-a", item, "boom"); err != nil || !ackOK {
		t.Fatalf("Acknowledge: %v, %v", ackOK, err)
	}

	payload, err := c.rdb.Get(ctx, c.Key("error-reports")+":"+item).Result()
	if err != nil {
		t.Fatalf("Get error-reports: %v", err)
	}
	if payload != "boom" {
		t.Fatalf("error report = %q, want boom", payload)
	}
}

func TestRequeueRespectsPerItemCap(t *testing.T) {
	c, ctx := setupQueueOfOne(t, "t1")

	item, ok, err := c.Reserve(ctx, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Reserve: %v, %v", ok, err)
	}

	if reqOK, err := c.Requeue(ctx, item, 1, 100, DefaultRequeueOffset); err != nil || !reqOK {
		t.Fatalf("Requeue (1st): %v, %v", reqOK, err)
	}

	item2, ok, err := c.Reserve(ctx, "worker-a", time.Minute)
	if err != nil || !ok || item2 != item {
		t.Fatalf("Reserve (2nd): %q, %v, %v", item2, ok, err)
	}

	reqOK, err := c.Requeue(ctx, item, 1, 100, DefaultRequeueOffset)
	if err != nil {
		t.Fatalf("Requeue (2nd): %v", err)
	}
	if reqOK {
		t.Fatal("expected per-item requeue cap of 1 to reject a second requeue")
	}
}

func TestReleaseReturnsItemToQueue(t *testing.T) {
	c, ctx := setupQueueOfOne(t, "t1")

	item, ok, err := c.Reserve(ctx, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Reserve: %v, %v", ok, err)
	}

	relOK, err := c.Release(ctx, item)
	if err != nil || !relOK {
		t.Fatalf("Release: %v, %v", relOK, err)
	}

	l, err := c.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if l != 1 {
		t.Fatalf("Len() = %d, want 1 after release", l)
	}
}

func TestHeartbeatFailsAfterReclaim(t *testing.T) {
	c, ctx := setupQueueOfOne(t, "t1")

	item, ok, err := c.Reserve(ctx, "worker-a", -time.Second)
	if err != nil || !ok {
		t.Fatalf("Reserve: %v, %v", ok, err)
	}
	if _, ok, err := c.ReserveLost(ctx, "worker-b", time.Minute); err != nil || !ok {
		t.Fatalf("ReserveLost: %v, %v", ok, err)
	}

	hbOK, err := c.Heartbeat(ctx, "worker-a", item, time.Minute)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if hbOK {
		t.Fatal("expected heartbeat from the original owner to fail after reclaim")
	}
}
