package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/ktrace/internal/domain/model"
)

func job(id, student string) Job {
	return Job{ID: id, Attempt: model.Attempt{AttemptID: id, StudentID: student, CourseID: "7"}}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, job("a1", "42")) {
		t.Fatal("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.ID != "a1" {
		t.Errorf("expected a1, got %v", got.ID)
	}
	if got.EnqueuedAt.IsZero() {
		t.Error("expected enqueue time to be stamped")
	}
	if got.Key() != (model.Key{StudentID: "42", CourseID: "7"}) {
		t.Errorf("unexpected key %v", got.Key())
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2), WithBufferSize(1))
	ctx := context.Background()

	if q.Capacity() != 2 {
		t.Errorf("expected capacity 2, got %d", q.Capacity())
	}
	if !q.Enqueue(ctx, job("a1", "1")) || !q.Enqueue(ctx, job("a2", "2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, job("a3", "3")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	const producers, perProducer = 10, 50
	q := NewInMemoryQueue(WithCapacity(producers * perProducer))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !q.Enqueue(ctx, job(fmt.Sprintf("a-%d-%d", p, i), fmt.Sprint(p))) {
					t.Errorf("enqueue %d/%d rejected", p, i)
				}
			}
		}(p)
	}
	wg.Wait()

	if l := q.Len(ctx); l != producers*perProducer {
		t.Fatalf("expected %d queued jobs, got %d", producers*perProducer, l)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	seen := 0
	for range q.Dequeue(ctx) {
		seen++
	}
	if seen != producers*perProducer {
		t.Errorf("expected to drain %d jobs, got %d", producers*perProducer, seen)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	if !q.Enqueue(ctx, job("a1", "1")) {
		t.Fatal("expected enqueue to succeed")
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if q.Enqueue(ctx, job("a2", "2")) {
		t.Error("expected enqueue after close to fail")
	}

	ch := q.Dequeue(ctx)
	select {
	case j, ok := <-ch:
		if !ok || j.ID != "a1" {
			t.Errorf("expected queued job to drain after close, got %v %v", j.ID, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out draining closed queue")
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected dequeue channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue channel never closed")
	}
}

func TestInMemoryQueue_CancelledDequeue(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx, cancel := context.WithCancel(context.Background())
	ch := q.Dequeue(ctx)
	cancel()
	_ = q.Enqueue(context.Background(), job("a1", "1"))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("dequeue goroutine did not observe cancellation")
	}
}
