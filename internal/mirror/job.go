package mirror

import (
	"context"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
)

// Job is one durable mirror task: a mutation plus its delivery bookkeeping.
type Job struct {
	ID         string          `json:"id"`
	Mutation   domain.Mutation `json:"mutation"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	LastError  string          `json:"lastError,omitempty"`
}

// NewJob wraps a mutation in a fresh job.
func NewJob(m domain.Mutation, now time.Time) Job {
	return Job{
		ID:         uuid.NewString(),
		Mutation:   m,
		EnqueuedAt: now,
	}
}

// Queue is a durable job queue with delayed retries and bounded retention of finished jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is ready or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
	// Retry makes the job ready again at the given time.
	Retry(ctx context.Context, job Job, at time.Time) error
	Complete(ctx context.Context, job Job) error
	Fail(ctx context.Context, job Job) error
}

// Store is the durable side every job is written to. Each call must be idempotent or safe to retry.
// A duplicate answer must come back as a permanent error (see backoff.Permanent).
type Store interface {
	UpsertPlayer(ctx context.Context, sessionID string, player domain.Participant, at time.Time) error
	MarkSessionStarted(ctx context.Context, sessionID string, at time.Time) error
	InsertAnswer(ctx context.Context, sessionID string, player domain.Participant, answer domain.AnswerRecord) error
	MarkPlayerLeft(ctx context.Context, sessionID, playerID string, at time.Time) error
	FinishSession(ctx context.Context, sessionID string, at time.Time, standings []domain.LeaderboardEntry) error
}
