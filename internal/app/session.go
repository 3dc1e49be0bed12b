package app

import (
	"math"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// Session is the in-memory state of one live game. Every operation takes the session mutex for its
// whole duration, so one event is handled to completion before the next for the same game.
type Session struct {
	mu         sync.Mutex
	state      domain.Session
	questions  []domain.Question
	roster     map[string]int
	lastResult *domain.QuestionResult
	openedAt   time.Time

	now     func() time.Time
	mirror  Mirror
	channel *Channel
}

// NewSession builds a waiting session outside of a Coordinator, mostly for registries and tests.
func NewSession(record domain.SessionRecord, questions []domain.Question) *Session {
	return newSession(record, questions, time.Now, noopMirror{})
}

func newSession(record domain.SessionRecord, questions []domain.Question, now func() time.Time, mirror Mirror) *Session {
	return &Session{
		state: domain.Session{
			ID:                   record.ID,
			HostID:               record.HostID,
			QuizID:               record.QuizID,
			Pin:                  record.Pin,
			Status:               domain.StatusWaiting,
			Players:              []domain.Player{},
			CurrentQuestionIndex: -1,
			TotalQuestions:       len(questions),
		},
		questions: questions,
		roster:    make(map[string]int),
		now:       now,
		mirror:    mirror,
		channel:   newChannel(),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.state.ID
}

// Pin returns the join code.
func (s *Session) Pin() string {
	return s.state.Pin
}

// Channel exposes the broadcast group of the session.
func (s *Session) Channel() *Channel {
	return s.channel
}

// State returns a copy of the session state.
func (s *Session) State() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyStateLocked()
}

func (s *Session) join(p domain.Participant) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)

	if p.ID == s.state.HostID {
		s.state.HostConnected = true
		snap := s.snapshotLocked(now)
		s.publishLocked(domain.EventGameUpdate, snap)
		return snap, nil
	}

	if i, ok := s.roster[p.ID]; ok {
		s.state.Players[i].Connected = true
		snap := s.snapshotLocked(now)
		s.publishLocked(domain.EventGameUpdate, snap)
		return snap, nil
	}

	if s.state.Status == domain.StatusFinished {
		return domain.Snapshot{}, domain.ErrGameFinished
	}

	s.roster[p.ID] = len(s.state.Players)
	s.state.Players = append(s.state.Players, domain.Player{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Avatar:      p.Avatar,
		Answers:     []domain.AnswerRecord{},
		Connected:   true,
		JoinedAt:    now,
	})

	snap := s.snapshotLocked(now)
	s.publishLocked(domain.EventGameUpdate, snap)
	participant := p
	s.mirror.Record(domain.Mutation{
		Kind:      domain.MutationPlayerJoined,
		SessionID: s.state.ID,
		Player:    &participant,
		At:        now,
	})
	return snap, nil
}

func (s *Session) start(hostID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hostID != s.state.HostID {
		return domain.Snapshot{}, domain.ErrHostOnly
	}
	if s.state.Status != domain.StatusWaiting {
		return domain.Snapshot{}, domain.ErrNotWaiting
	}
	if s.connectedPlayersLocked() == 0 {
		return domain.Snapshot{}, domain.ErrNoPlayers
	}

	now := s.now()
	index := s.state.CurrentQuestionIndex
	if index < 0 {
		index = 0
	}
	s.openQuestionLocked(index, now)
	if s.state.StartedAt == nil {
		startedAt := now
		s.state.StartedAt = &startedAt
	}

	snap := s.snapshotLocked(now)
	s.publishLocked(domain.EventGameStarted, snap)
	s.mirror.Record(domain.Mutation{
		Kind:      domain.MutationSessionStarted,
		SessionID: s.state.ID,
		At:        *s.state.StartedAt,
	})
	return snap, nil
}

func (s *Session) submit(playerID string, sub domain.AnswerSubmission) (domain.AnswerOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.roster[playerID]
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrParticipantNotFound
	}
	player := &s.state.Players[i]
	index := s.state.CurrentQuestionIndex

	if index >= 0 && player.HasAnswered(index) {
		return domain.AnswerOutcome{}, domain.ErrDuplicateAnswer
	}

	now := s.now()
	if s.state.Status != domain.StatusInProgress || s.state.IsCurrentQuestionEnded {
		return domain.AnswerOutcome{}, domain.ErrLateAnswer
	}
	if ends := s.state.CurrentQuestionEndsAt; ends != nil && now.After(*ends) {
		s.expireLocked(now)
		return domain.AnswerOutcome{}, domain.ErrLateAnswer
	}

	question := s.questions[index]
	answerTime := sub.AnswerTime
	if answerTime < 0 || math.IsNaN(answerTime) {
		answerTime = s.elapsedLocked(now)
	}

	correct, earned := Evaluate(question, sub.Answer, answerTime)
	record := domain.AnswerRecord{
		QuestionIndex:  index,
		SelectedAnswer: sub.Answer,
		AnswerTime:     answerTime,
		IsCorrect:      correct,
		PointsEarned:   earned,
		SubmittedAt:    now,
	}
	player.Answers = append(player.Answers, record)
	player.Score += earned

	s.publishLocked(domain.EventPlayerAnswered, domain.PlayerAnswered{
		PlayerID:      playerID,
		QuestionIndex: index,
		AnsweredCount: s.answeredCountLocked(index),
		TotalPlayers:  len(s.state.Players),
	})
	answer := record
	answer.SelectedAnswer.Order = append([]string(nil), record.SelectedAnswer.Order...)
	s.mirror.Record(domain.Mutation{
		Kind:      domain.MutationAnswerRecorded,
		SessionID: s.state.ID,
		Player:    &domain.Participant{ID: player.ID, DisplayName: player.DisplayName, Avatar: player.Avatar},
		Answer:    &answer,
		At:        now,
	})

	return domain.AnswerOutcome{
		QuestionIndex: index,
		IsCorrect:     correct,
		PointsEarned:  earned,
		TotalScore:    player.Score,
	}, nil
}

// endQuestion closes the live question. Outside in_progress it changes nothing and returns the
// result of the last closed question, so repeated timer triggers are harmless.
func (s *Session) endQuestion() (domain.QuestionResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != domain.StatusInProgress {
		return s.lastResultLocked(), false
	}
	return s.endQuestionLocked(s.now()), true
}

func (s *Session) nextQuestion(callerID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if callerID != s.state.HostID {
		return domain.Snapshot{}, domain.ErrHostOnly
	}
	if s.state.Status != domain.StatusWaitingForNextQuestion {
		if s.state.Status == domain.StatusFinished {
			return domain.Snapshot{}, domain.ErrGameFinished
		}
		return domain.Snapshot{}, domain.ErrNotBetween
	}

	now := s.now()
	next := s.state.CurrentQuestionIndex + 1
	if next >= s.state.TotalQuestions {
		s.finishLocked(now)
		snap := s.snapshotLocked(now)
		s.publishLocked(domain.EventGameFinished, s.gameOverLocked())
		return snap, nil
	}

	s.openQuestionLocked(next, now)
	snap := s.snapshotLocked(now)
	s.publishLocked(domain.EventNextQuestionStarted, snap)
	return snap, nil
}

func (s *Session) forceEnd(hostID string) (domain.GameOver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hostID != s.state.HostID {
		return domain.GameOver{}, domain.ErrHostOnly
	}
	if s.state.Status == domain.StatusFinished {
		return domain.GameOver{}, domain.ErrGameFinished
	}

	s.finishLocked(s.now())
	over := s.gameOverLocked()
	s.publishLocked(domain.EventGameForceEnded, over)
	return over, nil
}

// disconnect marks a participant as gone. Unknown participants are ignored. A question whose time
// already ran out is closed before the roster check, so it is never paused and reopened.
func (s *Session) disconnect(participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)
	if participantID == s.state.HostID {
		s.state.HostConnected = false
		s.publishLocked(domain.EventHostDisconnected, domain.PresenceChange{
			ParticipantID:    participantID,
			ConnectedPlayers: s.connectedPlayersLocked(),
		})
		return
	}

	i, ok := s.roster[participantID]
	if !ok || !s.state.Players[i].Connected {
		return
	}
	s.state.Players[i].Connected = false
	connected := s.connectedPlayersLocked()
	s.publishLocked(domain.EventPlayerDisconnected, domain.PresenceChange{
		ParticipantID:    participantID,
		ConnectedPlayers: connected,
	})
	s.mirror.Record(domain.Mutation{
		Kind:      domain.MutationPlayerLeft,
		SessionID: s.state.ID,
		Player:    &domain.Participant{ID: participantID},
		At:        now,
	})

	if connected == 0 && s.state.Status == domain.StatusInProgress {
		s.state.Status = domain.StatusWaiting
		s.state.CurrentQuestionEndsAt = nil
		s.state.IsCurrentQuestionEnded = false
		s.publishLocked(domain.EventGamePaused, s.snapshotLocked(now))
	}
}

func (s *Session) leaderboard() []domain.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BuildLeaderboard(s.state.Players)
}

func (s *Session) isHost(participantID string) bool {
	return participantID == s.state.HostID
}

func (s *Session) finishedBefore(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.FinishedAt != nil && s.state.FinishedAt.Before(t)
}

func (s *Session) close() {
	s.channel.Close()
}

// openQuestionLocked makes index the live question. A question without a time limit has no end
// time and only closes through endQuestion.
func (s *Session) openQuestionLocked(index int, now time.Time) {
	s.openedAt = now
	s.state.CurrentQuestionIndex = index
	s.state.Status = domain.StatusInProgress
	s.state.IsCurrentQuestionEnded = false
	s.state.CurrentQuestionEndsAt = nil
	if limit := s.questions[index].TimeLimit; limit > 0 {
		ends := now.Add(time.Duration(limit) * time.Second)
		s.state.CurrentQuestionEndsAt = &ends
	}
}

func (s *Session) endQuestionLocked(now time.Time) domain.QuestionResult {
	index := s.state.CurrentQuestionIndex
	s.state.IsCurrentQuestionEnded = true
	s.state.Status = domain.StatusWaitingForNextQuestion
	s.state.CurrentQuestionEndsAt = nil

	result := domain.QuestionResult{
		QuestionIndex: index,
		CorrectAnswer: correctAnswerOf(s.questions[index]),
		Leaderboard:   BuildLeaderboard(s.state.Players),
	}
	if index >= s.state.TotalQuestions-1 {
		s.finishLocked(now)
		result.Finished = true
	}
	s.lastResult = &result

	s.publishLocked(domain.EventQuestionEnded, result)
	if result.Finished {
		s.publishLocked(domain.EventGameFinished, s.gameOverLocked())
	}
	return result
}

func (s *Session) finishLocked(now time.Time) {
	s.state.Status = domain.StatusFinished
	s.state.CurrentQuestionEndsAt = nil
	finishedAt := now
	s.state.FinishedAt = &finishedAt

	s.mirror.Record(domain.Mutation{
		Kind:      domain.MutationSessionFinished,
		SessionID: s.state.ID,
		Standings: BuildLeaderboard(s.state.Players),
		At:        now,
	})
}

func (s *Session) gameOverLocked() domain.GameOver {
	over := domain.GameOver{Leaderboard: BuildLeaderboard(s.state.Players)}
	if s.state.FinishedAt != nil {
		over.FinishedAt = *s.state.FinishedAt
	}
	return over
}

func (s *Session) lastResultLocked() domain.QuestionResult {
	if s.lastResult != nil {
		return *s.lastResult
	}
	return domain.QuestionResult{
		QuestionIndex: s.state.CurrentQuestionIndex,
		Leaderboard:   BuildLeaderboard(s.state.Players),
		Finished:      s.state.Status == domain.StatusFinished,
	}
}

func (s *Session) elapsedLocked(now time.Time) float64 {
	return math.Max(0, now.Sub(s.openedAt).Seconds())
}

func (s *Session) connectedPlayersLocked() int {
	n := 0
	for _, p := range s.state.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (s *Session) answeredCountLocked(index int) int {
	n := 0
	for _, p := range s.state.Players {
		if p.HasAnswered(index) {
			n++
		}
	}
	return n
}

func (s *Session) publishLocked(eventType string, payload any) {
	s.channel.Publish(domain.Event{Type: eventType, Payload: payload})
}
