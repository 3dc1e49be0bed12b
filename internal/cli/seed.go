package cli

import (
	"log"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/postgres"
)

// NewSeedCmd stores the demo quiz and a demo session in Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var (
		sessionID string
		hostID    string
		pin       string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a demo quiz and schedule a session for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			catalog := postgres.NewCatalog(pool)
			for _, quiz := range sampleQuizzes() {
				if err := catalog.SaveQuiz(cmd.Context(), quiz); err != nil {
					return err
				}
			}
			record := domain.SessionRecord{ID: sessionID, HostID: hostID, QuizID: "quiz-1", Pin: pin}
			if err := catalog.CreateSession(cmd.Context(), record); err != nil {
				return err
			}
			log.Printf("seeded session %s (pin %s) hosted by %s", sessionID, pin, hostID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "demo-session", "session id to schedule")
	cmd.Flags().StringVar(&hostID, "host", "host-1", "host identity of the session")
	cmd.Flags().StringVar(&pin, "pin", "123456", "join pin of the session")
	return cmd
}
