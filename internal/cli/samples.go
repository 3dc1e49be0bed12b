package cli

import "live-quiz-service/internal/domain"

// sampleQuizzes backs the in-memory catalog when no Postgres is configured, and the seed command.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionMultipleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					TimeLimit: 20,
					Points:    1000,
				},
				{
					ID:     "q2",
					Type:   domain.QuestionTrueFalse,
					Prompt: "The Pacific is the largest ocean.",
					Options: []domain.Option{
						{ID: "true", Text: "True", Correct: true},
						{ID: "false", Text: "False"},
					},
					TimeLimit: 10,
					Points:    500,
				},
				{
					ID:          "q3",
					Type:        domain.QuestionShortAnswer,
					Prompt:      "Capital of France?",
					CorrectText: "Paris",
					TimeLimit:   30,
					Points:      1000,
				},
				{
					ID:     "q4",
					Type:   domain.QuestionOrdering,
					Prompt: "Order these planets by distance from the sun.",
					Options: []domain.Option{
						{ID: "earth", Text: "Earth"},
						{ID: "mercury", Text: "Mercury"},
						{ID: "venus", Text: "Venus"},
					},
					CorrectOrder: []string{"mercury", "venus", "earth"},
					TimeLimit:    30,
					Points:       1000,
				},
				{
					ID:     "q5",
					Type:   domain.QuestionPoll,
					Prompt: "How did you like this quiz?",
					Options: []domain.Option{
						{ID: "great", Text: "Great"},
						{ID: "ok", Text: "OK"},
					},
					TimeLimit: 15,
					Points:    200,
				},
			},
		},
	}
}
