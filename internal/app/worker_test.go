package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"docflow/api/internal/queue"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type chanSource struct {
	deliveries chan *queue.Delivery
	mu         sync.Mutex
	acked      []queue.Job
	recovered  bool
	failFirst  bool
}

func (c *chanSource) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error) {
	c.mu.Lock()
	fail := c.failFirst
	c.failFirst = false
	c.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-c.deliveries:
		return d, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (c *chanSource) Ack(_ context.Context, d *queue.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, d.Job)
	return nil
}

func (c *chanSource) Recover(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recovered = true
	return 0, nil
}

func (c *chanSource) ackedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acked)
}

type recordingHandler struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (h *recordingHandler) HandleJob(_ context.Context, job queue.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	return h.err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerAcksFailedJobsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	source := &chanSource{deliveries: make(chan *queue.Delivery, 2), failFirst: true}
	handler := &recordingHandler{err: errors.New("boom")}
	worker := NewWorker(source, handler, zaptest.NewLogger(t), 50*time.Millisecond)
	worker.retryDelay = 10 * time.Millisecond

	source.deliveries <- &queue.Delivery{Job: queue.Job{Name: queue.JobExtractText, DocumentID: 1}}
	source.deliveries <- &queue.Delivery{Job: queue.Job{Name: queue.JobExtractText, DocumentID: 2}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	waitFor(t, "both jobs acked", func() bool { return source.ackedCount() == 2 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	if !source.recovered {
		t.Fatalf("expected worker to recover unacked jobs on start")
	}
}

func TestWorkerDrainsRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.NewRedisQueueWithClient(client, "docflow:test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Enqueue(ctx, queue.Job{Name: queue.JobDeleteUploadedText, DocumentID: 9}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	handler := &recordingHandler{}
	worker := NewWorker(q, handler, zaptest.NewLogger(t), time.Second)
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	waitFor(t, "job handled", func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.jobs) == 1
	})
	waitFor(t, "processing list drained", func() bool { return !mr.Exists("docflow:test:processing") })
	cancel()
	<-done

	if handler.jobs[0].DocumentID != 9 {
		t.Fatalf("unexpected job %+v", handler.jobs[0])
	}
}
