package app

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
)

// SessionRepository abstracts where live sessions are registered (in-memory, Redis-backed, etc).
type SessionRepository interface {
	Get(sessionID string) (*Session, bool)
	// GetOrCreate returns the registered session, or registers the one built by create.
	// The boolean reports whether create was used.
	GetOrCreate(sessionID string, create func() *Session) (*Session, bool)
	LookupPin(pin string) (string, bool)
	Delete(sessionID string)
	List() []*Session
}

// SessionDirectory resolves a session id to its recorded host, quiz and pin.
type SessionDirectory interface {
	LoadSession(ctx context.Context, sessionID string) (domain.SessionRecord, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Mirror receives every mutation that must reach durable storage. Record must not block.
type Mirror interface {
	Record(m domain.Mutation)
}

type noopMirror struct{}

func (noopMirror) Record(domain.Mutation) {}

// Coordinator contains the live game use cases.
type Coordinator struct {
	sessions  SessionRepository
	directory SessionDirectory
	quizzes   QuizRepository
	mirror    Mirror
	now       func() time.Time
	logger    *zap.Logger
	loads     singleflight.Group
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithMirror wires the durable persistence bridge.
func WithMirror(m Mirror) Option {
	return func(c *Coordinator) { c.mirror = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func NewCoordinator(store SessionRepository, directory SessionDirectory, quizzes QuizRepository, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessions:  store,
		directory: directory,
		quizzes:   quizzes,
		mirror:    noopMirror{},
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize brings a session live for its host. The boolean reports whether the session was
// already registered, in which case the snapshot is a resync and the question source is not read.
func (c *Coordinator) Initialize(ctx context.Context, sessionID, hostID string) (domain.Snapshot, bool, error) {
	if session, ok := c.sessions.Get(sessionID); ok {
		return c.resyncHost(session, hostID)
	}

	// Callers deduplicated onto one load share its result; only the first to claim a freshly
	// created session reports it as new.
	type loaded struct {
		session *Session
		fresh   *atomic.Bool
	}
	v, err, _ := c.loads.Do(sessionID+"|"+hostID, func() (interface{}, error) {
		record, err := c.directory.LoadSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if record.HostID != hostID {
			return nil, domain.ErrNotRecordedHost
		}
		quiz, err := c.quizzes.GetQuiz(ctx, record.QuizID)
		if err != nil {
			return nil, err
		}
		if len(quiz.Questions) == 0 {
			return nil, domain.ErrEmptyQuiz
		}
		session, created := c.sessions.GetOrCreate(sessionID, func() *Session {
			return newSession(record, quiz.Questions, c.now, c.mirror)
		})
		if created {
			c.logger.Info("game initialized",
				zap.String("session_id", sessionID),
				zap.String("quiz_id", record.QuizID),
				zap.Int("questions", len(quiz.Questions)),
			)
		}
		l := loaded{session: session, fresh: &atomic.Bool{}}
		l.fresh.Store(created)
		return l, nil
	})
	if err != nil {
		return domain.Snapshot{}, false, err
	}

	l := v.(loaded)
	if !l.fresh.CompareAndSwap(true, false) {
		return c.resyncHost(l.session, hostID)
	}
	snap, err := l.session.join(domain.Participant{ID: hostID})
	return snap, false, err
}

func (c *Coordinator) resyncHost(session *Session, hostID string) (domain.Snapshot, bool, error) {
	if !session.isHost(hostID) {
		return domain.Snapshot{}, true, domain.ErrNotRecordedHost
	}
	snap, err := session.join(domain.Participant{ID: hostID})
	return snap, true, err
}

// Join adds a participant to the roster, or reattaches a known one.
func (c *Coordinator) Join(_ context.Context, sessionID string, participant domain.Participant) (domain.Snapshot, error) {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	return session.join(participant)
}

// Start opens the first question (or resumes a paused one).
func (c *Coordinator) Start(_ context.Context, sessionID, hostID string) (domain.Snapshot, error) {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	return session.start(hostID)
}

// SubmitAnswer scores a player's answer to the live question.
func (c *Coordinator) SubmitAnswer(_ context.Context, sessionID, playerID string, submission domain.AnswerSubmission) (domain.AnswerOutcome, error) {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrSessionNotFound
	}
	return session.submit(playerID, submission)
}

// EndQuestion closes the live question. The boolean reports whether anything changed.
func (c *Coordinator) EndQuestion(_ context.Context, sessionID string) (domain.QuestionResult, bool, error) {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return domain.QuestionResult{}, false, domain.ErrSessionNotFound
	}
	result, changed := session.endQuestion()
	return result, changed, nil
}

// NextQuestion moves the host's game on to the following question, or finishes it.
func (c *Coordinator) NextQuestion(_ context.Context, sessionID, callerID string) (domain.Snapshot, error) {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	return session.nextQuestion(callerID)
}

// ForceEnd finishes the game immediately.
func (c *Coordinator) ForceEnd(_ context.Context, sessionID, hostID string) (domain.GameOver, error) {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return domain.GameOver{}, domain.ErrSessionNotFound
	}
	over, err := session.forceEnd(hostID)
	if err == nil {
		c.logger.Info("game force ended", zap.String("session_id", sessionID))
	}
	return over, err
}

// Disconnect records that a participant's connection went away.
func (c *Coordinator) Disconnect(_ context.Context, sessionID, participantID string) error {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.disconnect(participantID)
	return nil
}

// Leaderboard returns the current ranking.
func (c *Coordinator) Leaderboard(_ context.Context, sessionID string) ([]domain.LeaderboardEntry, error) {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.leaderboard(), nil
}

// State returns a resynchronized snapshot for any participant.
func (c *Coordinator) State(_ context.Context, sessionID string) (domain.Snapshot, error) {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return domain.Snapshot{}, domain.ErrSessionNotFound
	}
	return session.resync(), nil
}

// Subscribe returns a channel that receives every event of a session.
// The caller must invoke the returned cancel function to avoid leaks.
func (c *Coordinator) Subscribe(_ context.Context, sessionID string) (<-chan domain.Event, func(), error) {
	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := session.Channel().Subscribe()
	return ch, cancel, nil
}

// ResolvePin maps a join code to its session id.
func (c *Coordinator) ResolvePin(pin string) (string, error) {
	id, ok := c.sessions.LookupPin(pin)
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	return id, nil
}

// SweepExpired closes every live question whose time ran out, and returns how many it closed.
func (c *Coordinator) SweepExpired() int {
	n := 0
	for _, session := range c.sessions.List() {
		if session.expire() {
			n++
		}
	}
	return n
}

// EvictFinished drops sessions that finished more than ttl ago.
func (c *Coordinator) EvictFinished(ttl time.Duration) int {
	cutoff := c.now().Add(-ttl)
	n := 0
	for _, session := range c.sessions.List() {
		if !session.finishedBefore(cutoff) {
			continue
		}
		c.sessions.Delete(session.ID())
		session.close()
		n++
		c.logger.Info("game evicted", zap.String("session_id", session.ID()))
	}
	return n
}
