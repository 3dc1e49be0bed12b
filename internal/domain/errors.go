package domain

import (
	"errors"
	"fmt"
)

// Code classifies an error for the originating connection.
type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeUnauthorized     Code = "unauthorized"
	CodeForbidden        Code = "forbidden"
	CodeAlreadyAnswered  Code = "already_answered"
	CodeQuestionClosed   Code = "question_closed"
	CodeInvalidArgument  Code = "invalid_argument"
	CodeTransientStorage Code = "transient_storage"
	CodeInternal         Code = "internal"
)

// Error is a coded domain error. Two errors match under errors.Is when their codes match.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || t.Message == e.Message)
}

// NewError builds a coded error.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a coded error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), err: cause}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Kind sentinels match any error of the code.
var (
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrUnauthorized     = &Error{Code: CodeUnauthorized}
	ErrForbidden        = &Error{Code: CodeForbidden}
	ErrAlreadyAnswered  = &Error{Code: CodeAlreadyAnswered}
	ErrQuestionClosed   = &Error{Code: CodeQuestionClosed}
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument}
	ErrTransientStorage = &Error{Code: CodeTransientStorage}
)

var (
	// ErrSessionNotFound is returned when a quiz session has not been initialized.
	ErrSessionNotFound = NewError(CodeNotFound, "game session not found")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = NewError(CodeNotFound, "player not found in game")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = NewError(CodeNotFound, "quiz not found")
	// ErrQuestionNotFound indicates the current question index points nowhere.
	ErrQuestionNotFound = NewError(CodeNotFound, "question not found")
	// ErrEmptyQuiz indicates a quiz without questions cannot be hosted.
	ErrEmptyQuiz = NewError(CodeInvalidArgument, "quiz has no questions")

	ErrNotRecordedHost = NewError(CodeUnauthorized, "caller is not the host of this game")
	ErrHostOnly        = NewError(CodeForbidden, "only the host can do this")
	ErrNotWaiting      = NewError(CodeForbidden, "game is not waiting to start")
	ErrNoPlayers       = NewError(CodeForbidden, "game needs at least one connected player")
	ErrNotBetween      = NewError(CodeForbidden, "game is not between questions")
	ErrGameFinished    = NewError(CodeForbidden, "game already finished")

	ErrDuplicateAnswer = NewError(CodeAlreadyAnswered, "question already answered")
	ErrLateAnswer      = NewError(CodeQuestionClosed, "question is closed")
)
