package app

import (
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"live-quiz-service/internal/domain"
)

var half = decimal.NewFromFloat(0.5)

// Evaluate maps a submission to (correct, points). It never fails: an answer shape that does not
// fit the question type is simply incorrect.
func Evaluate(question domain.Question, answer domain.SelectedAnswer, answerTime float64) (bool, int) {
	if !isCorrect(question, answer) {
		return false, 0
	}
	return true, points(question, answerTime)
}

func isCorrect(q domain.Question, answer domain.SelectedAnswer) bool {
	switch q.Type {
	case domain.QuestionMultipleChoice, domain.QuestionTrueFalse:
		correct := correctOptionID(q)
		return correct != "" && answer.OptionID == correct
	case domain.QuestionPoll:
		return true
	case domain.QuestionShortAnswer:
		expected := normalizeText(q.CorrectText)
		return expected != "" && normalizeText(answer.Text) == expected
	case domain.QuestionOrdering:
		return len(q.CorrectOrder) > 0 && slices.Equal(answer.Order, q.CorrectOrder)
	default:
		return false
	}
}

// points applies the speed bonus: poll questions earn a flat half, everything else earns between
// half and the full base value depending on how much of the time limit was left.
func points(q domain.Question, answerTime float64) int {
	base := decimal.NewFromInt(int64(q.Points))
	if q.Type == domain.QuestionPoll {
		return int(base.Mul(half).Round(0).IntPart())
	}

	bonus := decimal.Zero
	if q.TimeLimit > 0 && !math.IsNaN(answerTime) && !math.IsInf(answerTime, 0) {
		limit := decimal.NewFromInt(int64(q.TimeLimit))
		elapsed := decimal.NewFromFloat(math.Max(0, answerTime))
		bonus = decimal.Max(decimal.Zero, limit.Sub(elapsed).Div(limit))
	}
	factor := half.Add(half.Mul(bonus))
	return int(base.Mul(factor).Round(0).IntPart())
}

func correctOptionID(q domain.Question) string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// correctAnswerOf is what questionEnded reveals.
func correctAnswerOf(q domain.Question) domain.CorrectAnswer {
	switch q.Type {
	case domain.QuestionMultipleChoice, domain.QuestionTrueFalse:
		return domain.CorrectAnswer{OptionID: correctOptionID(q)}
	case domain.QuestionShortAnswer:
		return domain.CorrectAnswer{Text: q.CorrectText}
	case domain.QuestionOrdering:
		return domain.CorrectAnswer{Order: slices.Clone(q.CorrectOrder)}
	default:
		return domain.CorrectAnswer{}
	}
}
