package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	q, err := NewRedisQueue("redis://"+s.Addr(), "docflow:test")
	if err != nil {
		t.Fatalf("failed to create redis queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q, s
}

func TestNewRedisQueueBadURL(t *testing.T) {
	if _, err := NewRedisQueue("not a url", "k"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestEnqueueDequeueAck(t *testing.T) {
	q, s := setupTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, Job{Name: JobExtractText, DocumentID: 7}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, Job{Name: JobDeleteUploadedText, DocumentID: 8}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if d == nil || d.Job.Name != JobExtractText || d.Job.DocumentID != 7 {
		t.Fatalf("expected first job in FIFO order, got %+v", d)
	}
	if d.Job.EnqueuedAt.IsZero() {
		t.Error("expected enqueued_at to be stamped")
	}

	processing, err := s.List("docflow:test:processing")
	if err != nil || len(processing) != 1 {
		t.Fatalf("expected one job in processing list, got %v (%v)", processing, err)
	}

	if err := q.Ack(ctx, d); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if s.Exists("docflow:test:processing") {
		t.Error("expected processing list to be empty after ack")
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 job left, got %d", n)
	}
}

func TestDequeueTimeout(t *testing.T) {
	q, _ := setupTestQueue(t)

	d, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if d != nil {
		t.Fatalf("expected nil delivery on timeout, got %+v", d)
	}
}

func TestDequeueDropsMalformedPayload(t *testing.T) {
	q, s := setupTestQueue(t)
	if _, err := s.Lpush("docflow:test", "{not json"); err != nil {
		t.Fatalf("seed list: %v", err)
	}

	if _, err := q.Dequeue(context.Background(), time.Second); err == nil {
		t.Fatal("expected decode error")
	}
	if s.Exists("docflow:test:processing") {
		t.Error("expected malformed payload to be dropped from processing list")
	}
}

func TestRecoverRequeuesUnackedJobs(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	for i := int64(1); i <= 2; i++ {
		if err := q.Enqueue(ctx, Job{Name: JobExtractText, DocumentID: i}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if _, err := q.Dequeue(ctx, time.Second); err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
	}

	moved, err := q.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 recovered jobs, got %d", moved)
	}

	d, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue after recover failed: %v", err)
	}
	if d == nil || d.Job.DocumentID != 1 {
		t.Fatalf("expected document 1 first after recover, got %+v", d)
	}
}
