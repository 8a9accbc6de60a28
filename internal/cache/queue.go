package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RefreshJob asks the worker to re-synchronize one channel from its provider.
type RefreshJob struct {
	ChannelID   string    `json:"channel_id"`
	ExternalID  int       `json:"external_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// DefaultQueue is the Redis list holding refresh jobs.
const DefaultQueue = KeyPrefix + "jobs:refresh"

// Queue is a FIFO of refresh jobs on a Redis list: LPUSH in, BRPOP out.
type Queue struct {
	r    *Redis
	name string
}

// NewQueue returns a queue on the list name, or DefaultQueue when name is empty.
func NewQueue(r *Redis, name string) *Queue {
	if name == "" {
		name = DefaultQueue
	}
	return &Queue{r: r, name: name}
}

// Enqueue pushes job onto the queue.
func (q *Queue) Enqueue(ctx context.Context, job RefreshJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue marshal: %w", err)
	}
	if err := q.r.client.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("queue push: %w", err)
	}
	return nil
}

// Dequeue blocks until a job is available or timeout elapses. On timeout or
// shutdown it returns (nil, nil) so the caller can loop and check ctx.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*RefreshJob, error) {
	result, err := q.r.client.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}
	// BRPop returns [key, value].
	if len(result) < 2 {
		return nil, nil
	}
	return decodeJob(result[1])
}

func decodeJob(raw string) (*RefreshJob, error) {
	var job RefreshJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("queue unmarshal: %w", err)
	}
	if job.ChannelID == "" && job.ExternalID == 0 {
		return nil, fmt.Errorf("queue unmarshal: job names no channel")
	}
	return &job, nil
}
