package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"live-quiz-service/internal/domain"
)

const uniqueViolation = "23505"

type sessionRow struct {
	bun.BaseModel `bun:"table:game_sessions"`

	ID         string     `bun:"id,pk"`
	Status     string     `bun:"status"`
	StartedAt  *time.Time `bun:"started_at"`
	FinishedAt *time.Time `bun:"finished_at"`
}

type playerRow struct {
	bun.BaseModel `bun:"table:game_players"`

	SessionID   string     `bun:"session_id,pk"`
	PlayerID    string     `bun:"player_id,pk"`
	DisplayName string     `bun:"display_name"`
	Avatar      string     `bun:"avatar"`
	Score       int        `bun:"score"`
	Rank        *int       `bun:"rank"`
	JoinedAt    time.Time  `bun:"joined_at"`
	LeftAt      *time.Time `bun:"left_at"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:game_answers"`

	ID             int64                 `bun:"id,pk,autoincrement"`
	SessionID      string                `bun:"session_id"`
	QuestionIndex  int                   `bun:"question_index"`
	PlayerID       string                `bun:"player_id"`
	SelectedAnswer domain.SelectedAnswer `bun:"selected_answer,type:jsonb"`
	AnswerTime     float64               `bun:"answer_time"`
	IsCorrect      bool                  `bun:"is_correct"`
	PointsEarned   int                   `bun:"points_earned"`
	SubmittedAt    time.Time             `bun:"submitted_at"`
}

// MirrorStore writes live game mutations to Postgres with bun. It implements mirror.Store.
type MirrorStore struct {
	db *bun.DB
}

func NewMirrorStore(db *bun.DB) *MirrorStore {
	return &MirrorStore{db: db}
}

func (s *MirrorStore) UpsertPlayer(ctx context.Context, sessionID string, player domain.Participant, at time.Time) error {
	return upsertPlayer(ctx, s.db, sessionID, player, at)
}

func (s *MirrorStore) MarkSessionStarted(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*sessionRow)(nil)).
		Set("status = CASE WHEN status = ? THEN status ELSE ? END", string(domain.StatusFinished), string(domain.StatusInProgress)).
		Set("started_at = COALESCE(started_at, ?)", at).
		Where("id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, sessionID)
}

// InsertAnswer stores the answer and bumps the player's score in one transaction.
// Once FinishSession has ranked the player the final score is left alone.
// A second answer for the same (session, question, player) is a permanent error.
func (s *MirrorStore) InsertAnswer(ctx context.Context, sessionID string, player domain.Participant, answer domain.AnswerRecord) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(&playerRow{
				SessionID:   sessionID,
				PlayerID:    player.ID,
				DisplayName: player.DisplayName,
				Avatar:      player.Avatar,
				JoinedAt:    answer.SubmittedAt,
			}).
			On("CONFLICT (session_id, player_id) DO NOTHING").
			Exec(ctx); err != nil {
			return err
		}
		row := &answerRow{
			SessionID:      sessionID,
			QuestionIndex:  answer.QuestionIndex,
			PlayerID:       player.ID,
			SelectedAnswer: answer.SelectedAnswer,
			AnswerTime:     answer.AnswerTime,
			IsCorrect:      answer.IsCorrect,
			PointsEarned:   answer.PointsEarned,
			SubmittedAt:    answer.SubmittedAt,
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*playerRow)(nil)).
			Set("score = score + ?", answer.PointsEarned).
			Where("session_id = ? AND player_id = ?", sessionID, player.ID).
			Where("rank IS NULL").
			Exec(ctx)
		return err
	})
	if isUniqueViolation(err) {
		return backoff.Permanent(domain.Wrap(domain.CodeAlreadyAnswered, err,
			"answer for question %d by %s already stored", answer.QuestionIndex, player.ID))
	}
	return err
}

func (s *MirrorStore) MarkPlayerLeft(ctx context.Context, sessionID, playerID string, at time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*playerRow)(nil)).
		Set("left_at = ?", at).
		Where("session_id = ? AND player_id = ?", sessionID, playerID).
		Exec(ctx)
	return err
}

// FinishSession closes the session row and writes the final score and rank of every player.
func (s *MirrorStore) FinishSession(ctx context.Context, sessionID string, at time.Time, standings []domain.LeaderboardEntry) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*sessionRow)(nil)).
			Set("status = ?", string(domain.StatusFinished)).
			Set("finished_at = COALESCE(finished_at, ?)", at).
			Where("id = ?", sessionID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := requireRow(res, sessionID); err != nil {
			return err
		}
		for _, entry := range standings {
			rank := entry.Rank
			row := &playerRow{
				SessionID:   sessionID,
				PlayerID:    entry.PlayerID,
				DisplayName: entry.DisplayName,
				Avatar:      entry.Avatar,
				Score:       entry.Score,
				Rank:        &rank,
				JoinedAt:    at,
			}
			if _, err := tx.NewInsert().
				Model(row).
				On("CONFLICT (session_id, player_id) DO UPDATE").
				Set("score = EXCLUDED.score").
				Set("rank = EXCLUDED.rank").
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertPlayer(ctx context.Context, db bun.IDB, sessionID string, player domain.Participant, at time.Time) error {
	row := &playerRow{
		SessionID:   sessionID,
		PlayerID:    player.ID,
		DisplayName: player.DisplayName,
		Avatar:      player.Avatar,
		JoinedAt:    at,
	}
	_, err := db.NewInsert().
		Model(row).
		On("CONFLICT (session_id, player_id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("avatar = EXCLUDED.avatar").
		Set("left_at = NULL").
		Exec(ctx)
	return err
}

func requireRow(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return backoff.Permanent(domain.Wrap(domain.CodeNotFound, domain.ErrSessionNotFound, "session %s has no open row", sessionID))
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation
}
