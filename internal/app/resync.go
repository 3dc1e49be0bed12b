package app

import (
	"hash/fnv"
	"math/rand"
	"slices"
	"time"

	"live-quiz-service/internal/domain"
)

// resync builds the snapshot handed to a (re)attaching client. A question whose end time passed
// unnoticed is closed first, through the same transition as an explicit end.
func (s *Session) resync() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)
	return s.snapshotLocked(now)
}

// expire closes the live question when its time is up. It reports whether it did.
func (s *Session) expire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked(s.now())
}

func (s *Session) expireLocked(now time.Time) bool {
	if s.state.Status != domain.StatusInProgress || s.state.IsCurrentQuestionEnded {
		return false
	}
	ends := s.state.CurrentQuestionEndsAt
	if ends == nil || !now.After(*ends) {
		return false
	}
	s.endQuestionLocked(now)
	return true
}

func (s *Session) snapshotLocked(now time.Time) domain.Snapshot {
	snap := domain.Snapshot{
		Session:    s.publicStateLocked(),
		Pin:        s.state.Pin,
		ServerTime: now,
	}
	if i := s.state.CurrentQuestionIndex; i >= 0 && i < len(s.questions) && s.state.Status != domain.StatusFinished {
		q := publicQuestion(s.state.ID, i, s.questions[i])
		snap.CurrentQuestion = &q
	}
	return snap
}

// publicStateLocked is the copy handed to clients. While a question is open its answers, and the
// points they earned, stay hidden until the question ends.
func (s *Session) publicStateLocked() domain.Session {
	out := s.copyStateLocked()
	if out.Status != domain.StatusInProgress {
		return out
	}
	live := out.CurrentQuestionIndex
	for i := range out.Players {
		p := &out.Players[i]
		p.Answers = slices.DeleteFunc(p.Answers, func(a domain.AnswerRecord) bool {
			if a.QuestionIndex == live {
				p.Score -= a.PointsEarned
				return true
			}
			return false
		})
	}
	return out
}

func (s *Session) copyStateLocked() domain.Session {
	out := s.state
	out.Players = make([]domain.Player, len(s.state.Players))
	for i, p := range s.state.Players {
		p.Answers = slices.Clone(p.Answers)
		if p.Answers == nil {
			p.Answers = []domain.AnswerRecord{}
		}
		out.Players[i] = p
	}
	out.CurrentQuestionEndsAt = copyTime(s.state.CurrentQuestionEndsAt)
	out.StartedAt = copyTime(s.state.StartedAt)
	out.FinishedAt = copyTime(s.state.FinishedAt)
	return out
}

// publicQuestion strips everything that reveals the answer. Ordering items are shuffled with a
// seed derived from the session and index, so every client and every resync sees the same order.
func publicQuestion(sessionID string, index int, q domain.Question) domain.PublicQuestion {
	options := make([]domain.PublicOption, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, domain.PublicOption{ID: opt.ID, Text: opt.Text})
	}
	if q.Type == domain.QuestionOrdering {
		h := fnv.New64a()
		_, _ = h.Write([]byte(sessionID))
		rnd := rand.New(rand.NewSource(int64(h.Sum64()) + int64(index)))
		rnd.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })
	}
	return domain.PublicQuestion{
		Index:     index,
		ID:        q.ID,
		Type:      q.Type,
		Prompt:    q.Prompt,
		Options:   options,
		TimeLimit: q.TimeLimit,
		Points:    q.Points,
		MediaURL:  q.MediaURL,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
