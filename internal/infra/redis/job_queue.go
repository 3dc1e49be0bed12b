package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/mirror"
)

const (
	defaultRetention = 1000
	defaultPoll      = time.Second
	promoteBatch     = 100
)

// promoteDue moves due jobs from the delayed set onto the ready list in one step.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, job in ipairs(due) do
  redis.call('ZREM', KEYS[1], job)
  redis.call('LPUSH', KEYS[2], job)
end
return #due
`)

// JobQueue is a mirror.Queue on Redis:
//
//	{prefix}:ready       LIST of job JSON, LPUSH / BLMOVE
//	{prefix}:processing  LIST of jobs taken by a worker and not yet settled
//	{prefix}:delayed     ZSET of job JSON scored by due time (unix ms)
//	{prefix}:completed   LIST trimmed to the retention bound
//	{prefix}:failed      LIST trimmed to the retention bound
//	{prefix}:dead        LIST of payloads that could not be decoded
//
// A job stays on the processing list until Complete, Fail or Retry removes it, so a crash
// mid-write leaves it there for RecoverInFlight.
type JobQueue struct {
	client    *redis.Client
	prefix    string
	retention int64
	poll      time.Duration
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]string // job id -> payload as stored on the processing list
}

func NewJobQueue(client *redis.Client, prefix string, retention int) *JobQueue {
	if prefix == "" {
		prefix = "quiz:mirror"
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &JobQueue{
		client:    client,
		prefix:    prefix,
		retention: int64(retention),
		poll:      defaultPoll,
		now:       time.Now,
		inFlight:  make(map[string]string),
	}
}

func (q *JobQueue) Enqueue(ctx context.Context, job mirror.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.client.LPush(ctx, q.key("ready"), raw).Err()
}

func (q *JobQueue) Dequeue(ctx context.Context) (mirror.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return mirror.Job{}, err
		}
		if err := q.promote(ctx); err != nil {
			return mirror.Job{}, err
		}

		raw, err := q.client.BLMove(ctx, q.key("ready"), q.key("processing"), "RIGHT", "LEFT", q.poll).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return mirror.Job{}, err
		}

		var job mirror.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// Undecodable payloads can never be processed.
			q.park(ctx, raw)
			return mirror.Job{}, fmt.Errorf("decode job: %w", err)
		}
		q.mu.Lock()
		q.inFlight[job.ID] = raw
		q.mu.Unlock()
		return job, nil
	}
}

func (q *JobQueue) Retry(ctx context.Context, job mirror.Job, at time.Time) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(at.UnixMilli()), Member: raw})
	q.release(ctx, pipe, job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *JobQueue) Complete(ctx context.Context, job mirror.Job) error {
	return q.retain(ctx, "completed", job)
}

func (q *JobQueue) Fail(ctx context.Context, job mirror.Job) error {
	return q.retain(ctx, "failed", job)
}

// RecoverInFlight puts jobs left on the processing list by a previous process back on the ready
// list. Call it once at startup, before any worker of this prefix runs.
func (q *JobQueue) RecoverInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.key("processing"), q.key("ready"), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Failed returns the retained failed jobs, newest first.
func (q *JobQueue) Failed(ctx context.Context) ([]mirror.Job, error) {
	return q.list(ctx, "failed")
}

// Completed returns the retained completed jobs, newest first.
func (q *JobQueue) Completed(ctx context.Context) ([]mirror.Job, error) {
	return q.list(ctx, "completed")
}

func (q *JobQueue) promote(ctx context.Context) error {
	err := promoteDue.Run(ctx, q.client,
		[]string{q.key("delayed"), q.key("ready")},
		q.now().UnixMilli(), promoteBatch,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("promote delayed jobs: %w", err)
	}
	return nil
}

func (q *JobQueue) retain(ctx context.Context, list string, job mirror.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.key(list), raw)
	pipe.LTrim(ctx, q.key(list), 0, q.retention-1)
	q.release(ctx, pipe, job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// release queues the removal of a settled job from the processing list.
func (q *JobQueue) release(ctx context.Context, pipe redis.Pipeliner, jobID string) {
	q.mu.Lock()
	raw, ok := q.inFlight[jobID]
	delete(q.inFlight, jobID)
	q.mu.Unlock()
	if ok {
		pipe.LRem(ctx, q.key("processing"), 1, raw)
	}
}

func (q *JobQueue) park(ctx context.Context, raw string) {
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.key("dead"), raw)
	pipe.LTrim(ctx, q.key("dead"), 0, q.retention-1)
	pipe.LRem(ctx, q.key("processing"), 1, raw)
	_, _ = pipe.Exec(ctx)
}

func (q *JobQueue) list(ctx context.Context, list string) ([]mirror.Job, error) {
	raws, err := q.client.LRange(ctx, q.key(list), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]mirror.Job, 0, len(raws))
	for _, raw := range raws {
		var job mirror.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *JobQueue) key(name string) string {
	return q.prefix + ":" + name
}
