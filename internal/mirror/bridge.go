package mirror

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/telemetry"
)

const (
	defaultWorkers      = 8
	defaultAttempts     = 3
	defaultBackoff      = 2 * time.Second
	defaultMaxBackoff   = time.Minute
	defaultOutbox       = 4096
	defaultJobTimeout   = 30 * time.Second
	defaultDrainTimeout = 10 * time.Second
	drainIdle           = 200 * time.Millisecond
	dequeuePause        = time.Second
)

// Config tunes the bridge. Zero values fall back to the defaults.
type Config struct {
	Workers      int
	Attempts     int
	Backoff      time.Duration
	MaxBackoff   time.Duration
	Outbox       int
	JobTimeout   time.Duration
	DrainTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.Attempts <= 0 {
		c.Attempts = defaultAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = c.Backoff
	}
	if c.Outbox <= 0 {
		c.Outbox = defaultOutbox
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	return c
}

// RetryDelay is the wait before the next attempt after the given (1-based) failed attempt:
// Backoff, 2*Backoff, 4*Backoff... capped at MaxBackoff.
func (c Config) RetryDelay(attempt int) time.Duration {
	c = c.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	d := c.Backoff
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Bridge mirrors in-memory mutations into durable storage. Record only touches a buffered outbox;
// a forwarder moves mutations into the queue and a bounded pool of workers writes them out.
type Bridge struct {
	queue   Queue
	store   Store
	cfg     Config
	outbox  chan domain.Mutation
	now     func() time.Time
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// BridgeOption customizes a Bridge.
type BridgeOption func(*Bridge)

func WithLogger(l *zap.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

func WithMetrics(m *telemetry.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

func WithClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) { b.now = now }
}

func NewBridge(queue Queue, store Store, cfg Config, opts ...BridgeOption) *Bridge {
	cfg = cfg.normalized()
	b := &Bridge{
		queue:  queue,
		store:  store,
		cfg:    cfg,
		outbox: make(chan domain.Mutation, cfg.Outbox),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Record hands a mutation over without blocking. When the outbox is full the mutation is dropped;
// the in-memory session stays authoritative either way.
func (b *Bridge) Record(m domain.Mutation) {
	select {
	case b.outbox <- m:
		b.metrics.OutboxDepth(len(b.outbox))
	default:
		b.metrics.MirrorJob(string(m.Kind), telemetry.OutcomeDropped)
		b.logger.Error("mirror outbox full, mutation dropped",
			zap.String("kind", string(m.Kind)),
			zap.String("session_id", m.SessionID),
		)
	}
}

// Run forwards and processes jobs until ctx is done, then drains what is already queued within
// the drain timeout. In-flight jobs are never cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	var eg errgroup.Group
	eg.Go(func() error {
		b.forward(ctx)
		return nil
	})
	for i := 0; i < b.cfg.Workers; i++ {
		eg.Go(func() error {
			b.work(ctx)
			return nil
		})
	}
	err := eg.Wait()

	b.drain()
	return err
}

func (b *Bridge) forward(ctx context.Context) {
	for {
		select {
		case m := <-b.outbox:
			b.enqueue(ctx, m)
		case <-ctx.Done():
			for {
				select {
				case m := <-b.outbox:
					b.enqueue(ctx, m)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) enqueue(ctx context.Context, m domain.Mutation) {
	b.metrics.OutboxDepth(len(b.outbox))
	job := NewJob(m, b.now())

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.JobTimeout)
	defer cancel()

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		return b.queue.Enqueue(ctx, job)
	}, policy)
	if err != nil {
		b.metrics.MirrorJob(string(m.Kind), telemetry.OutcomeDropped)
		b.logger.Error("mirror enqueue failed, mutation dropped",
			zap.String("job_id", job.ID),
			zap.String("kind", string(m.Kind)),
			zap.String("session_id", m.SessionID),
			zap.Error(err),
		)
	}
}

func (b *Bridge) work(ctx context.Context) {
	for {
		job, err := b.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("mirror dequeue failed", zap.Error(err))
			select {
			case <-time.After(dequeuePause):
			case <-ctx.Done():
				return
			}
			continue
		}
		b.process(ctx, job)
	}
}

func (b *Bridge) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DrainTimeout)
	defer cancel()

	for ctx.Err() == nil {
		idle, idleCancel := context.WithTimeout(ctx, drainIdle)
		job, err := b.queue.Dequeue(idle)
		idleCancel()
		if err != nil {
			return
		}
		b.process(ctx, job)
	}
}

// process makes one attempt at a job and settles it: completed, rescheduled, or failed for good.
func (b *Bridge) process(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.JobTimeout)
	defer cancel()

	job.Attempt++
	kind := string(job.Mutation.Kind)
	log := b.logger.With(
		zap.String("job_id", job.ID),
		zap.String("kind", kind),
		zap.String("session_id", job.Mutation.SessionID),
		zap.Int("attempt", job.Attempt),
	)

	started := time.Now()
	err := b.apply(ctx, job.Mutation)
	b.metrics.MirrorDuration(kind, time.Since(started))

	switch {
	case err == nil:
		b.metrics.MirrorJob(kind, telemetry.OutcomeSucceeded)
		if qErr := b.queue.Complete(ctx, job); qErr != nil {
			log.Warn("mirror complete bookkeeping failed", zap.Error(qErr))
		}
	case isPermanent(err) || job.Attempt >= b.cfg.Attempts:
		job.LastError = err.Error()
		b.metrics.MirrorJob(kind, telemetry.OutcomeDead)
		log.Error("mirror job failed permanently", zap.Error(err))
		if qErr := b.queue.Fail(ctx, job); qErr != nil {
			log.Warn("mirror fail bookkeeping failed", zap.Error(qErr))
		}
	default:
		job.LastError = err.Error()
		delay := b.cfg.RetryDelay(job.Attempt)
		b.metrics.MirrorJob(kind, telemetry.OutcomeRetry)
		log.Warn("mirror job failed, retrying", zap.Duration("delay", delay), zap.Error(err))
		if qErr := b.queue.Retry(ctx, job, b.now().Add(delay)); qErr != nil {
			log.Error("mirror retry scheduling failed, job lost", zap.Error(qErr))
		}
	}
}

func (b *Bridge) apply(ctx context.Context, m domain.Mutation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(fmt.Errorf("mirror: store panic: %v, stack: %s", r, debug.Stack()))
		}
	}()

	switch m.Kind {
	case domain.MutationPlayerJoined:
		if m.Player == nil {
			return malformed(m)
		}
		return b.store.UpsertPlayer(ctx, m.SessionID, *m.Player, m.At)
	case domain.MutationSessionStarted:
		return b.store.MarkSessionStarted(ctx, m.SessionID, m.At)
	case domain.MutationAnswerRecorded:
		if m.Player == nil || m.Answer == nil {
			return malformed(m)
		}
		return b.store.InsertAnswer(ctx, m.SessionID, *m.Player, *m.Answer)
	case domain.MutationPlayerLeft:
		if m.Player == nil {
			return malformed(m)
		}
		return b.store.MarkPlayerLeft(ctx, m.SessionID, m.Player.ID, m.At)
	case domain.MutationSessionFinished:
		return b.store.FinishSession(ctx, m.SessionID, m.At, m.Standings)
	default:
		return malformed(m)
	}
}

func malformed(m domain.Mutation) error {
	return backoff.Permanent(fmt.Errorf("mirror: malformed %q mutation for session %s", m.Kind, m.SessionID))
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return true
	}
	return errors.Is(err, domain.ErrAlreadyAnswered)
}
