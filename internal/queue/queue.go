// Package queue carries background text-extraction jobs over Redis.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	JobExtractText        = "extract_and_save_pdf_text"
	JobDeleteUploadedText = "delete_uploaded_text"
)

// Job is one unit of background work about a document.
type Job struct {
	Name       string    `json:"name"`
	DocumentID int64     `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is a dequeued job plus the raw payload needed to ack it.
type Delivery struct {
	Job Job
	raw string
}

// RedisQueue is a reliable list queue: jobs move to a processing list while
// they run and are removed from it on Ack.
type RedisQueue struct {
	client     *redis.Client
	key        string
	processing string
}

func NewRedisQueue(redisURL, key string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisQueueWithClient(client, key), nil
}

func NewRedisQueueWithClient(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{
		client:     client,
		key:        key,
		processing: key + ":processing",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Name, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job. It returns nil, nil when the
// wait times out with nothing queued.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BRPopLPush(ctx, q.key, q.processing, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Drop payloads that can never decode so they do not wedge recovery.
		_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &Delivery{Job: job, raw: raw}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, q.processing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", d.Job.Name, err)
	}
	return nil
}

// Recover moves jobs left in the processing list by a crashed worker back
// onto the queue. It returns how many were moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processing, q.key).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover jobs: %w", err)
		}
		moved++
	}
}

// Len reports the number of jobs waiting to be picked up.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
