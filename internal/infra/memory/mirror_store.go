package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"live-quiz-service/internal/domain"
)

type answerKey struct {
	sessionID     string
	questionIndex int
	playerID      string
}

// SessionSummary is what MirrorStore keeps per session.
type SessionSummary struct {
	StartedAt  *time.Time
	FinishedAt *time.Time
	Players    map[string]domain.Participant
	Left       map[string]time.Time
	Standings  []domain.LeaderboardEntry
}

// MirrorStore is a process-local mirror.Store for running without Postgres. Like the game_answers
// table it holds at most one answer per (session, question, player).
type MirrorStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionSummary
	answers  map[answerKey]domain.AnswerRecord
}

func NewMirrorStore() *MirrorStore {
	return &MirrorStore{
		sessions: make(map[string]*SessionSummary),
		answers:  make(map[answerKey]domain.AnswerRecord),
	}
}

func (s *MirrorStore) UpsertPlayer(_ context.Context, sessionID string, player domain.Participant, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := s.sessionLocked(sessionID)
	summary.Players[player.ID] = player
	delete(summary.Left, player.ID)
	return nil
}

func (s *MirrorStore) MarkSessionStarted(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := s.sessionLocked(sessionID)
	if summary.StartedAt == nil {
		summary.StartedAt = &at
	}
	return nil
}

func (s *MirrorStore) InsertAnswer(_ context.Context, sessionID string, player domain.Participant, answer domain.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{sessionID: sessionID, questionIndex: answer.QuestionIndex, playerID: player.ID}
	if _, ok := s.answers[key]; ok {
		return backoff.Permanent(domain.ErrDuplicateAnswer)
	}
	s.answers[key] = answer
	s.sessionLocked(sessionID).Players[player.ID] = player
	return nil
}

func (s *MirrorStore) MarkPlayerLeft(_ context.Context, sessionID, playerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLocked(sessionID).Left[playerID] = at
	return nil
}

func (s *MirrorStore) FinishSession(_ context.Context, sessionID string, at time.Time, standings []domain.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := s.sessionLocked(sessionID)
	if summary.FinishedAt == nil {
		summary.FinishedAt = &at
	}
	summary.Standings = append([]domain.LeaderboardEntry(nil), standings...)
	return nil
}

// Answers counts the stored answers of a session.
func (s *MirrorStore) Answers(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.answers {
		if key.sessionID == sessionID {
			n++
		}
	}
	return n
}

// Session returns a copy of the stored summary.
func (s *MirrorStore) Session(sessionID string) (SessionSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.sessions[sessionID]
	if !ok {
		return SessionSummary{}, false
	}
	out := *summary
	out.Players = make(map[string]domain.Participant, len(summary.Players))
	for k, v := range summary.Players {
		out.Players[k] = v
	}
	out.Left = make(map[string]time.Time, len(summary.Left))
	for k, v := range summary.Left {
		out.Left[k] = v
	}
	out.Standings = append([]domain.LeaderboardEntry(nil), summary.Standings...)
	return out, true
}

func (s *MirrorStore) sessionLocked(sessionID string) *SessionSummary {
	summary, ok := s.sessions[sessionID]
	if !ok {
		summary = &SessionSummary{
			Players: make(map[string]domain.Participant),
			Left:    make(map[string]time.Time),
		}
		s.sessions[sessionID] = summary
	}
	return summary
}
