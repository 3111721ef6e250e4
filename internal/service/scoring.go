package service

import (
	"examdesk_backend/internal/model"
	"examdesk_backend/internal/util"
	"strconv"
	"strings"
)

// Selection is a learner's answer to one question: chosen option IDs for
// choice questions, a typed value for numeric ones.
type Selection struct {
	OptionIDs []uint `json:"optionIds,omitempty"`
	Value     string `json:"value,omitempty"`
}

func (s Selection) Empty() bool {
	return len(s.OptionIDs) == 0 && strings.TrimSpace(s.Value) == ""
}

// QuestionResult is the graded outcome for a single question.
type QuestionResult struct {
	QuestionID uint
	Attempted  bool
	Correct    bool
	// Marks is the signed delta this question contributed: +marks when
	// correct, -negative marks when wrong, 0 when skipped.
	Marks float64
}

// ScoreSummary is the full graded result of an attempt.
type ScoreSummary struct {
	Attempted int
	Correct   int
	Wrong     int
	Skipped   int

	// RawMarks is the unclamped sum over all questions. ObtainedMarks is
	// RawMarks floored at zero; the floor applies to the total only, never
	// per question.
	RawMarks      float64
	ObtainedMarks float64
	Percentage    float64
	Passed        bool

	PerQuestion []QuestionResult
}

// ScoreAttempt grades a complete answer set against the test's question list.
// It is a pure function: no I/O, no clock, identical inputs give identical
// results. Unanswered and empty-selection questions count as skipped. Choice
// questions require exact-set equality with the correct option set, with no
// partial credit. Answers keyed by a question ID absent from the question
// list are ignored.
//
// A non-positive totalMarks makes the percentage undefined, so grading fails
// rather than committing an incorrect score.
func ScoreAttempt(questions []model.Question, answers map[uint]Selection, totalMarks, passPercentage float64) (*ScoreSummary, error) {
	if totalMarks <= 0 {
		return nil, util.ErrScoreNotComputable
	}

	summary := &ScoreSummary{
		PerQuestion: make([]QuestionResult, 0, len(questions)),
	}

	for _, q := range questions {
		result := QuestionResult{QuestionID: q.ID}

		sel, ok := answers[q.ID]
		if !ok || sel.Empty() {
			summary.Skipped++
			summary.PerQuestion = append(summary.PerQuestion, result)
			continue
		}

		result.Attempted = true
		summary.Attempted++

		if answerIsCorrect(&q, sel) {
			result.Correct = true
			result.Marks = q.Marks
			summary.Correct++
			summary.RawMarks += q.Marks
		} else {
			result.Marks = -q.NegativeMarks
			summary.Wrong++
			summary.RawMarks -= q.NegativeMarks
		}

		summary.PerQuestion = append(summary.PerQuestion, result)
	}

	summary.ObtainedMarks = summary.RawMarks
	if summary.ObtainedMarks < 0 {
		summary.ObtainedMarks = 0
	}
	summary.Percentage = summary.ObtainedMarks / totalMarks * 100
	summary.Passed = summary.Percentage >= passPercentage

	return summary, nil
}

func answerIsCorrect(q *model.Question, sel Selection) bool {
	if q.Type == model.Numeric {
		return numericMatch(q.AnswerText, sel.Value)
	}
	return exactSetMatch(correctOptionIDs(q), sel.OptionIDs)
}

// exactSetMatch reports whether the selected option set equals the correct
// set precisely. {A} or {A,B,C} against a correct set {A,C} are both wrong.
func exactSetMatch(correct, selected []uint) bool {
	if len(correct) == 0 {
		return false
	}

	want := make(map[uint]bool, len(correct))
	for _, id := range correct {
		want[id] = true
	}

	seen := make(map[uint]bool, len(selected))
	for _, id := range selected {
		if !want[id] {
			return false
		}
		seen[id] = true
	}
	return len(seen) == len(want)
}

// numericMatch compares a typed value to the expected answer. Values that
// parse as numbers compare numerically, so "0.50" matches "0.5"; anything
// else falls back to a trimmed, case-insensitive string comparison.
func numericMatch(expected, got string) bool {
	expected = strings.TrimSpace(expected)
	got = strings.TrimSpace(got)
	if expected == "" || got == "" {
		return false
	}

	ev, eerr := strconv.ParseFloat(expected, 64)
	gv, gerr := strconv.ParseFloat(got, 64)
	if eerr == nil && gerr == nil {
		return ev == gv
	}
	return strings.EqualFold(expected, got)
}

func correctOptionIDs(q *model.Question) []uint {
	var ids []uint
	for _, opt := range q.Options {
		if opt.IsCorrect {
			ids = append(ids, opt.ID)
		}
	}
	return ids
}
