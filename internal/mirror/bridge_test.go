package mirror_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/mirror"
	"live-quiz-service/internal/telemetry"
)

type fakeStore struct {
	mu       sync.Mutex
	calls    map[domain.MutationKind]int
	failures int
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: make(map[domain.MutationKind]int)}
}

// failWith makes the next n calls return err; n < 0 fails forever.
func (s *fakeStore) failWith(err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err, s.failures = err, n
}

func (s *fakeStore) record(kind domain.MutationKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[kind]++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return s.err
	}
	return nil
}

func (s *fakeStore) count(kind domain.MutationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func (s *fakeStore) UpsertPlayer(context.Context, string, domain.Participant, time.Time) error {
	return s.record(domain.MutationPlayerJoined)
}

func (s *fakeStore) MarkSessionStarted(context.Context, string, time.Time) error {
	return s.record(domain.MutationSessionStarted)
}

func (s *fakeStore) InsertAnswer(context.Context, string, domain.Participant, domain.AnswerRecord) error {
	return s.record(domain.MutationAnswerRecorded)
}

func (s *fakeStore) MarkPlayerLeft(context.Context, string, string, time.Time) error {
	return s.record(domain.MutationPlayerLeft)
}

func (s *fakeStore) FinishSession(context.Context, string, time.Time, []domain.LeaderboardEntry) error {
	return s.record(domain.MutationSessionFinished)
}

type harness struct {
	bridge  *mirror.Bridge
	queue   *memory.JobQueue
	store   *fakeStore
	metrics *telemetry.Metrics
}

func newHarness(t *testing.T, cfg mirror.Config) harness {
	t.Helper()
	if cfg.Backoff == 0 {
		cfg.Backoff = 10 * time.Millisecond
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	queue := memory.NewJobQueue(10)
	t.Cleanup(queue.Close)
	store := newFakeStore()
	metrics := telemetry.NewMetrics(nil)
	return harness{
		bridge:  mirror.NewBridge(queue, store, cfg, mirror.WithMetrics(metrics)),
		queue:   queue,
		store:   store,
		metrics: metrics,
	}
}

func (h harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.bridge.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func (h harness) jobs(kind domain.MutationKind, outcome string) float64 {
	return testutil.ToFloat64(h.metrics.MirrorJobs().WithLabelValues(string(kind), outcome))
}

func joined(sessionID string) domain.Mutation {
	return domain.Mutation{
		Kind:      domain.MutationPlayerJoined,
		SessionID: sessionID,
		Player:    &domain.Participant{ID: "p-1", DisplayName: "Ana"},
		At:        time.Now(),
	}
}

func TestBridgeWritesMutations(t *testing.T) {
	h := newHarness(t, mirror.Config{})
	h.run(t)

	h.bridge.Record(joined("s-1"))
	h.bridge.Record(domain.Mutation{Kind: domain.MutationSessionStarted, SessionID: "s-1", At: time.Now()})

	require.Eventually(t, func() bool { return len(h.queue.Completed()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, h.store.count(domain.MutationPlayerJoined))
	require.Equal(t, 1, h.store.count(domain.MutationSessionStarted))
	require.Equal(t, 1.0, h.jobs(domain.MutationPlayerJoined, telemetry.OutcomeSucceeded))
}

func TestBridgeRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, mirror.Config{Attempts: 3})
	h.store.failWith(errors.New("connection reset"), 2)
	h.run(t)

	h.bridge.Record(joined("s-1"))

	require.Eventually(t, func() bool { return len(h.queue.Completed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 3, h.store.count(domain.MutationPlayerJoined))
	require.Equal(t, 2.0, h.jobs(domain.MutationPlayerJoined, telemetry.OutcomeRetry))
	require.Equal(t, 3, h.queue.Completed()[0].Attempt)
	require.Empty(t, h.queue.Failed())
}

func TestBridgeGivesUpAfterAttempts(t *testing.T) {
	h := newHarness(t, mirror.Config{Attempts: 3})
	h.store.failWith(errors.New("database is down"), -1)
	h.run(t)

	h.bridge.Record(joined("s-1"))

	require.Eventually(t, func() bool { return len(h.queue.Failed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	failed := h.queue.Failed()[0]
	require.Equal(t, 3, failed.Attempt)
	require.Contains(t, failed.LastError, "database is down")
	require.Equal(t, 3, h.store.count(domain.MutationPlayerJoined))
	require.Equal(t, 1.0, h.jobs(domain.MutationPlayerJoined, telemetry.OutcomeDead))
	require.Empty(t, h.queue.Completed())
}

func TestBridgeDuplicateAnswerIsPermanent(t *testing.T) {
	h := newHarness(t, mirror.Config{Attempts: 3})
	h.store.failWith(backoff.Permanent(domain.ErrDuplicateAnswer), -1)
	h.run(t)

	h.bridge.Record(domain.Mutation{
		Kind:      domain.MutationAnswerRecorded,
		SessionID: "s-1",
		Player:    &domain.Participant{ID: "p-1"},
		Answer:    &domain.AnswerRecord{QuestionIndex: 0, PointsEarned: 875},
		At:        time.Now(),
	})

	require.Eventually(t, func() bool { return len(h.queue.Failed()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, h.store.count(domain.MutationAnswerRecorded))
	require.Equal(t, 1, h.queue.Failed()[0].Attempt)
}

func TestBridgeRejectsMalformedMutation(t *testing.T) {
	h := newHarness(t, mirror.Config{})
	h.run(t)

	h.bridge.Record(domain.Mutation{Kind: domain.MutationAnswerRecorded, SessionID: "s-1"})

	require.Eventually(t, func() bool { return len(h.queue.Failed()) == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, h.store.count(domain.MutationAnswerRecorded))
}

func TestBridgeDropsWhenOutboxIsFull(t *testing.T) {
	h := newHarness(t, mirror.Config{Outbox: 1})

	h.bridge.Record(joined("s-1"))
	h.bridge.Record(joined("s-2"))

	require.Equal(t, 1.0, h.jobs(domain.MutationPlayerJoined, telemetry.OutcomeDropped))
}

func TestBridgeDrainsOnShutdown(t *testing.T) {
	h := newHarness(t, mirror.Config{DrainTimeout: time.Second})
	h.bridge.Record(joined("s-1"))
	h.bridge.Record(domain.Mutation{Kind: domain.MutationPlayerLeft, SessionID: "s-1", Player: &domain.Participant{ID: "p-1"}, At: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.bridge.Run(ctx))

	require.Len(t, h.queue.Completed(), 2)
	require.Equal(t, 1, h.store.count(domain.MutationPlayerLeft))
}

func TestRetryDelayDoubles(t *testing.T) {
	cfg := mirror.Config{}
	require.Equal(t, 2*time.Second, cfg.RetryDelay(1))
	require.Equal(t, 4*time.Second, cfg.RetryDelay(2))
	require.Equal(t, 8*time.Second, cfg.RetryDelay(3))

	capped := mirror.Config{Backoff: time.Second, MaxBackoff: 3 * time.Second}
	require.Equal(t, 3*time.Second, capped.RetryDelay(5))
}
