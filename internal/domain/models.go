package domain

import "time"

// Status is the lifecycle state of a live game session.
type Status string

const (
	StatusWaiting                Status = "waiting"
	StatusInProgress             Status = "in_progress"
	StatusWaitingForNextQuestion Status = "waiting_for_next_question"
	StatusFinished               Status = "finished"
)

// QuestionType selects the correctness rule applied to a submission.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionOrdering       QuestionType = "ordering"
	QuestionPoll           QuestionType = "poll"
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is one entry of the read-only question snapshot a session is built from.
type Question struct {
	ID           string       `json:"id"`
	Type         QuestionType `json:"type"`
	Prompt       string       `json:"prompt"`
	Options      []Option     `json:"options,omitempty"`
	CorrectText  string       `json:"correctText,omitempty"`
	CorrectOrder []string     `json:"correctOrder,omitempty"`
	TimeLimit    int          `json:"timeLimit"` // seconds
	Points       int          `json:"points"`
	MediaURL     string       `json:"mediaUrl,omitempty"`
}

// Quiz is a collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// SessionRecord is what the session directory knows about a game before it goes live.
type SessionRecord struct {
	ID     string
	HostID string
	QuizID string
	Pin    string
}

// Participant is an already-authenticated identity attaching to a session.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// SelectedAnswer carries whichever answer shape the question type expects.
type SelectedAnswer struct {
	OptionID string   `json:"optionId,omitempty"`
	Text     string   `json:"text,omitempty"`
	Order    []string `json:"order,omitempty"`
}

// AnswerSubmission models the scoring signal from clients.
// AnswerTime is the elapsed seconds reported by the client; negative means unknown.
type AnswerSubmission struct {
	Answer     SelectedAnswer
	AnswerTime float64
}

// AnswerRecord is one scored answer of a player.
type AnswerRecord struct {
	QuestionIndex  int            `json:"questionIndex"`
	SelectedAnswer SelectedAnswer `json:"selectedAnswer"`
	AnswerTime     float64        `json:"answerTime"`
	IsCorrect      bool           `json:"isCorrect"`
	PointsEarned   int            `json:"pointsEarned"`
	SubmittedAt    time.Time      `json:"submittedAt"`
}

// Player is a participant on the roster of a session together with their results.
type Player struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	Avatar      string         `json:"avatar,omitempty"`
	Score       int            `json:"score"`
	Answers     []AnswerRecord `json:"answers"`
	Connected   bool           `json:"connected"`
	JoinedAt    time.Time      `json:"joinedAt"`
}

// HasAnswered reports whether the player already holds an answer for the question index.
func (p Player) HasAnswered(questionIndex int) bool {
	for _, a := range p.Answers {
		if a.QuestionIndex == questionIndex {
			return true
		}
	}
	return false
}

// Session is the authoritative state of one live game.
type Session struct {
	ID                     string     `json:"id"`
	HostID                 string     `json:"hostId"`
	QuizID                 string     `json:"quizId"`
	Pin                    string     `json:"pin"`
	Status                 Status     `json:"status"`
	Players                []Player   `json:"players"`
	CurrentQuestionIndex   int        `json:"currentQuestionIndex"`
	CurrentQuestionEndsAt  *time.Time `json:"currentQuestionEndsAt,omitempty"`
	IsCurrentQuestionEnded bool       `json:"isCurrentQuestionEnded"`
	StartedAt              *time.Time `json:"startedAt,omitempty"`
	FinishedAt             *time.Time `json:"finishedAt,omitempty"`
	TotalQuestions         int        `json:"totalQuestions"`
	HostConnected          bool       `json:"hostConnected"`
}

// PublicOption is an option with its correctness flag removed.
type PublicOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PublicQuestion is the client-facing view of a question: nothing that reveals the answer.
type PublicQuestion struct {
	Index     int            `json:"index"`
	ID        string         `json:"id"`
	Type      QuestionType   `json:"type"`
	Prompt    string         `json:"prompt"`
	Options   []PublicOption `json:"options,omitempty"`
	TimeLimit int            `json:"timeLimit"`
	Points    int            `json:"points"`
	MediaURL  string         `json:"mediaUrl,omitempty"`
}

// Snapshot is the full client-facing state used by gameUpdate, join and resync alike.
type Snapshot struct {
	Session         Session         `json:"session"`
	CurrentQuestion *PublicQuestion `json:"currentQuestion,omitempty"`
	Pin             string          `json:"pin"`
	ServerTime      time.Time       `json:"serverTime"`
}

// LeaderboardEntry is a ranked view of a player.
type LeaderboardEntry struct {
	Rank              int    `json:"rank"`
	PlayerID          string `json:"playerId"`
	DisplayName       string `json:"displayName"`
	Avatar            string `json:"avatar,omitempty"`
	Score             int    `json:"score"`
	LastAnswerCorrect bool   `json:"lastAnswerCorrect"`
	LastPointsEarned  int    `json:"lastPointsEarned"`
}

// CorrectAnswer reveals the expected answer once a question has ended.
type CorrectAnswer struct {
	OptionID string   `json:"optionId,omitempty"`
	Text     string   `json:"text,omitempty"`
	Order    []string `json:"order,omitempty"`
}

// QuestionResult is broadcast when a question closes.
type QuestionResult struct {
	QuestionIndex int                `json:"questionIndex"`
	CorrectAnswer CorrectAnswer      `json:"correctAnswer"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
	Finished      bool               `json:"finished"`
}

// AnswerOutcome is the unicast result of a submission.
type AnswerOutcome struct {
	QuestionIndex int  `json:"questionIndex"`
	IsCorrect     bool `json:"isCorrect"`
	PointsEarned  int  `json:"pointsEarned"`
	TotalScore    int  `json:"totalScore"`
}
