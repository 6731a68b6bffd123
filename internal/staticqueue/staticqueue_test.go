// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

package staticqueue

import "testing"

func TestBasicIteration(t *testing.T) {
	q := New([]string{"test1", "test2", "test3"}, Config{})

	if got, want := q.Total(), 3; got != want {
		t.Fatalf("Total() = %d, want %d", got, want)
	}
	if got, want := q.Len(), 3; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got, want := q.Progress(), 0; got != want {
		t.Fatalf("Progress() = %d, want %d", got, want)
	}

	if item, ok := q.Next(); !ok || item != "test1" {
		t.Fatalf("Next() = %q, %v, want test1, true", item, ok)
	}
	if got, want := q.Progress(), 1; got != want {
		t.Fatalf("Progress() = %d, want %d", got, want)
	}
	if got, want := q.Len(), 2; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	if item, ok := q.Next(); !ok || item != "test2" {
		t.Fatalf("Next() = %q, %v, want test2, true", item, ok)
	}
	if item, ok := q.Next(); !ok || item != "test3" {
		t.Fatalf("Next() = %q, %v, want test3, true", item, ok)
	}
	if _, ok := q.Next(); ok {
		t.Fatal("expected Next() to report ok=false once drained")
	}

	if got, want := q.Progress(), 3; got != want {
		t.Fatalf("Progress() = %d, want %d", got, want)
	}
	if got, want := q.Len(), 0; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
}

func TestRequeueRespectsMaxPerItem(t *testing.T) {
	cfg := Config{MaxRequeues: 2, RequeueTolerance: 3.0}
	q := New([]string{"test1"}, cfg)

	item, ok := q.Next()
	if !ok || item != "test1" {
		t.Fatalf("Next() = %q, %v", item, ok)
	}

	if !q.Requeue(item) {
		t.Fatal("first requeue should succeed")
	}
	if got, want := q.Len(), 1; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	item, _ = q.Next()
	if !q.Requeue(item) {
		t.Fatal("second requeue should succeed (at limit)")
	}

	item, _ = q.Next()
	if q.Requeue(item) {
		t.Fatal("third requeue should fail, exceeds max-per-item of 2")
	}
	if got, want := q.Len(), 0; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
}

func TestRequeueRespectsGlobalTolerance(t *testing.T) {
	// 2 items, 0.5 tolerance -> ceil(1.0) = 1 requeue allowed total.
	cfg := Config{MaxRequeues: 10, RequeueTolerance: 0.5}
	q := New([]string{"test1", "test2"}, cfg)

	test1, _ := q.Next()
	if !q.Requeue(test1) {
		t.Fatal("expected first requeue to succeed")
	}

	test2, _ := q.Next()
	if q.Requeue(test2) {
		t.Fatal("expected second requeue to fail: global cap reached")
	}
}

func TestRequeueInsertsAtHead(t *testing.T) {
	cfg := Config{MaxRequeues: 1, RequeueTolerance: 1.0}
	q := New([]string{"test1", "test2", "test3"}, cfg)

	test1, _ := q.Next()
	if !q.Requeue(test1) {
		t.Fatal("expected requeue to succeed")
	}

	if item, _ := q.Next(); item != "test1" {
		t.Fatalf("Next() = %q, want requeued test1 first", item)
	}
	if item, _ := q.Next(); item != "test2" {
		t.Fatalf("Next() = %q, want test2", item)
	}
	if item, _ := q.Next(); item != "test3" {
		t.Fatalf("Next() = %q, want test3", item)
	}
}

func TestZeroConfigDisablesRequeues(t *testing.T) {
	q := New([]string{"test1"}, Config{})

	item, _ := q.Next()
	if q.Requeue(item) {
		t.Fatal("expected zero-value Config to disable requeues")
	}
}

func TestRequeueToleranceIsCeilingedNotFloored(t *testing.T) {
	// 3 items, 0.15 tolerance -> ceil(0.45) = 1 requeue allowed total.
	cfg := Config{MaxRequeues: 10, RequeueTolerance: 0.15}
	q := New([]string{"test1", "test2", "test3"}, cfg)

	test1, _ := q.Next()
	if !q.Requeue(test1) {
		t.Fatal("expected ceil(0.45) = 1 to allow the first requeue")
	}

	test2, _ := q.Next()
	if q.Requeue(test2) {
		t.Fatal("expected the second requeue to fail")
	}
}

func TestIsEmptyTracksLen(t *testing.T) {
	q := New([]string{"test1"}, Config{})
	if q.IsEmpty() {
		t.Fatal("expected non-empty queue before draining")
	}
	if _, ok := q.Next(); !ok {
		t.Fatal("expected Next() to yield test1")
	}
	if !q.IsEmpty() {
		t.Fatal("expected IsEmpty() once drained")
	}
}

func TestAcknowledgeAlwaysSucceeds(t *testing.T) {
	q := New([]string{"test1"}, Config{})
	item, _ := q.Next()
	if !q.Acknowledge(item) {
		t.Fatal("expected Acknowledge to always succeed on a static queue")
	}
}
