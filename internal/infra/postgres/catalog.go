package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// Catalog loads quiz JSONB and session records from Postgres.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := c.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, domain.Wrap(domain.CodeTransientStorage, err, "load quiz")
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	if quiz.ID == "" {
		quiz.ID = quizID
	}
	return quiz, nil
}

func (c *Catalog) LoadSession(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	record := domain.SessionRecord{ID: sessionID}
	err := c.pool.QueryRow(ctx,
		`SELECT host_id, quiz_id, pin FROM game_sessions WHERE id=$1`, sessionID,
	).Scan(&record.HostID, &record.QuizID, &record.Pin)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, domain.Wrap(domain.CodeTransientStorage, err, "load session")
	}
	return record, nil
}

// SaveQuiz upserts quiz content.
func (c *Catalog) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	raw, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = c.pool.Exec(ctx, `
		INSERT INTO quizzes (id, title, data) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, data = EXCLUDED.data`,
		quiz.ID, quiz.Title, raw,
	)
	return err
}

// CreateSession schedules a game that its host may later initialize.
func (c *Catalog) CreateSession(ctx context.Context, record domain.SessionRecord) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO game_sessions (id, host_id, quiz_id, pin) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		record.ID, record.HostID, record.QuizID, record.Pin,
	)
	return err
}
