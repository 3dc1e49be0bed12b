package domain

import "time"

// Outbound event types.
const (
	EventGameInitialized        = "gameInitialized"
	EventGameAlreadyInitialized = "gameAlreadyInitialized"
	EventGameUpdate             = "gameUpdate"
	EventGameStarted            = "gameStarted"
	EventAnswerSubmitted        = "answerSubmitted"
	EventPlayerAnswered         = "playerAnswered"
	EventQuestionEnded          = "questionEnded"
	EventNextQuestionStarted    = "nextQuestionStarted"
	EventGameFinished           = "gameFinished"
	EventGameForceEnded         = "gameForceEnded"
	EventGamePaused             = "gamePaused"
	EventPlayerDisconnected     = "playerDisconnected"
	EventHostDisconnected       = "hostDisconnected"
	EventCurrentLeaderboard     = "currentLeaderboard"

	EventInitGameError  = "initGameError"
	EventJoinGameError  = "joinGameError"
	EventAnswerError    = "answerError"
	EventStartGameError = "startGameError"
	EventError          = "error"
)

// Event is one message fanned out to the members of a session.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// PlayerAnswered tells everyone that a player locked in an answer, without revealing it.
type PlayerAnswered struct {
	PlayerID      string `json:"playerId"`
	QuestionIndex int    `json:"questionIndex"`
	AnsweredCount int    `json:"answeredCount"`
	TotalPlayers  int    `json:"totalPlayers"`
}

// PresenceChange is broadcast when a participant drops off.
type PresenceChange struct {
	ParticipantID    string `json:"participantId"`
	ConnectedPlayers int    `json:"connectedPlayers"`
}

// GameOver carries the final standings.
type GameOver struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	FinishedAt  time.Time          `json:"finishedAt"`
}

// MutationKind names a registry mutation that must survive a restart.
type MutationKind string

const (
	MutationPlayerJoined    MutationKind = "player_joined"
	MutationSessionStarted  MutationKind = "session_started"
	MutationAnswerRecorded  MutationKind = "answer_recorded"
	MutationPlayerLeft      MutationKind = "player_left"
	MutationSessionFinished MutationKind = "session_finished"
)

// Mutation is the event value handed to the durable mirror after an in-memory change.
type Mutation struct {
	Kind      MutationKind       `json:"kind"`
	SessionID string             `json:"sessionId"`
	Player    *Participant       `json:"player,omitempty"`
	Answer    *AnswerRecord      `json:"answer,omitempty"`
	Standings []LeaderboardEntry `json:"standings,omitempty"`
	At        time.Time          `json:"at"`
}
