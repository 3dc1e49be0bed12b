package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/mirror"
)

func newTestQueue(t *testing.T, retention int) (*JobQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewJobQueue(newClient(mr), "test:mirror", retention), mr
}

func TestJobQueueRoundTrip(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	ctx := context.Background()

	player := domain.Participant{ID: "p-1", DisplayName: "Ana"}
	job := mirror.NewJob(domain.Mutation{Kind: domain.MutationPlayerJoined, SessionID: "s-1", Player: &player}, time.Now())
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != job.ID || got.Mutation.Player == nil || got.Mutation.Player.DisplayName != "Ana" {
		t.Fatalf("unexpected job %+v", got)
	}
}

func TestJobQueueRetryWaitsForDueTime(t *testing.T) {
	q, mr := newTestQueue(t, 10)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	job := mirror.NewJob(domain.Mutation{Kind: domain.MutationSessionStarted, SessionID: "s-1"}, now)
	job.Attempt = 1
	if err := q.Retry(ctx, job, now.Add(2*time.Second)); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if err := q.promote(ctx); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if mr.Exists("test:mirror:ready") {
		t.Fatalf("expected job to stay delayed before its due time")
	}

	now = now.Add(2 * time.Second)
	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != job.ID || got.Attempt != 1 {
		t.Fatalf("expected retried job with attempt 1, got %+v", got)
	}
}

func TestJobQueueRetentionIsBounded(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		job := mirror.NewJob(domain.Mutation{Kind: domain.MutationPlayerLeft, SessionID: "s-1"}, time.Now())
		job.LastError = "boom"
		if err := q.Fail(ctx, job); err != nil {
			t.Fatalf("fail: %v", err)
		}
		if err := q.Complete(ctx, job); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	failed, err := q.Failed(ctx)
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	completed, err := q.Completed(ctx)
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	if len(failed) != 3 || len(completed) != 3 {
		t.Fatalf("expected 3 retained jobs each, got failed=%d completed=%d", len(failed), len(completed))
	}
	if failed[0].LastError != "boom" {
		t.Fatalf("expected last error kept, got %+v", failed[0])
	}
}

func TestJobQueueKeepsJobUntilSettled(t *testing.T) {
	q, mr := newTestQueue(t, 10)
	ctx := context.Background()

	job := mirror.NewJob(domain.Mutation{Kind: domain.MutationSessionStarted, SessionID: "s-1"}, time.Now())
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if items, _ := mr.List("test:mirror:processing"); len(items) != 1 {
		t.Fatalf("expected the job on the processing list while it runs, got %v", items)
	}

	got.Attempt++
	got.LastError = "changed while processing"
	if err := q.Complete(ctx, got); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if mr.Exists("test:mirror:processing") {
		t.Fatalf("expected the processing list to be empty after complete")
	}
}

func TestJobQueueRecoversJobsOfACrashedWorker(t *testing.T) {
	q, mr := newTestQueue(t, 10)
	ctx := context.Background()

	job := mirror.NewJob(domain.Mutation{Kind: domain.MutationPlayerLeft, SessionID: "s-1"}, time.Now())
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// A new process over the same keys picks the abandoned job up again.
	restarted := NewJobQueue(newClient(mr), "test:mirror", 10)
	n, err := restarted.RecoverInFlight(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one recovered job, got n=%d err=%v", n, err)
	}
	got, err := restarted.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after recovery: %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("expected recovered job %s, got %s", job.ID, got.ID)
	}
}

func TestJobQueueRetryReleasesProcessingEntry(t *testing.T) {
	q, mr := newTestQueue(t, 10)
	ctx := context.Background()

	job := mirror.NewJob(domain.Mutation{Kind: domain.MutationSessionStarted, SessionID: "s-1"}, time.Now())
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	got.Attempt = 1
	if err := q.Retry(ctx, got, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if mr.Exists("test:mirror:processing") {
		t.Fatalf("expected retry to release the processing entry")
	}
	if members, _ := mr.ZMembers("test:mirror:delayed"); len(members) != 1 {
		t.Fatalf("expected one delayed job, got %v", members)
	}
}
