package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
)

const opTimeout = 2 * time.Second

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions themselves stay in a local map so the in-process broadcast keeps working;
// Redis carries a liveness marker per session and the pin to session id mapping.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		logger:   logger,
		sessions: make(map[string]*app.Session),
	}
}

// GetOrCreate registers the session locally first; the Redis keys are written after the registry
// lock is released so a slow Redis never stalls lookups of other sessions.
func (s *SessionStore) GetOrCreate(sessionID string, create func() *app.Session) (*app.Session, bool) {
	s.mu.Lock()
	if session, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return session, false
	}
	session := create()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, liveKey(sessionID), "1", s.ttl)
	if pin := session.Pin(); pin != "" {
		pipe.Set(ctx, pinKey(pin), sessionID, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("session liveness marker failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return session, true
}

func (s *SessionStore) Get(sessionID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

// LookupPin resolves a pin through Redis so pins issued by any instance are found.
func (s *SessionStore) LookupPin(pin string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	id, err := s.client.Get(ctx, pinKey(pin)).Result()
	if err == nil {
		return id, true
	}
	if !errors.Is(err, redis.Nil) {
		s.logger.Warn("pin lookup failed", zap.String("pin", pin), zap.Error(err))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, session := range s.sessions {
		if session.Pin() == pin {
			return id, true
		}
	}
	return "", false
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	keys := []string{liveKey(sessionID)}
	if pin := session.Pin(); pin != "" {
		keys = append(keys, pinKey(pin))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("session key cleanup failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *SessionStore) List() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

// Len reports how many sessions this instance holds.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func liveKey(sessionID string) string {
	return "quiz:session:" + sessionID
}

func pinKey(pin string) string {
	return "quiz:pin:" + pin
}
