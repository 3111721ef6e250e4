package service

import (
	"examdesk_backend/internal/model"
	"examdesk_backend/internal/util"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleChoice(id uint, marks, negative float64, correctOpt uint, otherOpts ...uint) model.Question {
	q := model.Question{Type: model.SingleChoice, Marks: marks, NegativeMarks: negative}
	q.ID = id
	q.Options = append(q.Options, option(correctOpt, true))
	for _, o := range otherOpts {
		q.Options = append(q.Options, option(o, false))
	}
	return q
}

func multiChoice(id uint, marks, negative float64, correct []uint, wrong []uint) model.Question {
	q := model.Question{Type: model.MultipleChoice, Marks: marks, NegativeMarks: negative}
	q.ID = id
	for _, o := range correct {
		q.Options = append(q.Options, option(o, true))
	}
	for _, o := range wrong {
		q.Options = append(q.Options, option(o, false))
	}
	return q
}

func numericQuestion(id uint, marks float64, expected string) model.Question {
	q := model.Question{Type: model.Numeric, Marks: marks, AnswerText: expected}
	q.ID = id
	return q
}

func TestScoreAttemptWorkedExample(t *testing.T) {
	questions := []model.Question{
		singleChoice(1, 1, 0, 11, 12),
		singleChoice(2, 1, 0.25, 21, 22),
	}
	answers := map[uint]Selection{
		1: {OptionIDs: []uint{11}},
		2: {OptionIDs: []uint{22}},
	}

	summary, err := ScoreAttempt(questions, answers, 2, 50)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Correct)
	assert.Equal(t, 1, summary.Wrong)
	assert.Equal(t, 0, summary.Skipped)
	assert.InDelta(t, 0.75, summary.ObtainedMarks, 1e-9)
	assert.InDelta(t, 37.5, summary.Percentage, 1e-9)
	assert.False(t, summary.Passed)
}

func TestScoreAttemptExactSetEquality(t *testing.T) {
	q := multiChoice(1, 4, 1, []uint{11, 13}, []uint{12, 14})
	questions := []model.Question{q}

	cases := []struct {
		name     string
		selected []uint
		correct  bool
	}{
		{"exact set", []uint{11, 13}, true},
		{"order independent", []uint{13, 11}, true},
		{"duplicate selections collapse", []uint{11, 11, 13}, true},
		{"subset", []uint{11}, false},
		{"superset", []uint{11, 13, 12}, false},
		{"disjoint", []uint{12, 14}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			summary, err := ScoreAttempt(questions, map[uint]Selection{1: {OptionIDs: tc.selected}}, 4, 50)
			require.NoError(t, err)
			require.Len(t, summary.PerQuestion, 1)
			assert.Equal(t, tc.correct, summary.PerQuestion[0].Correct)
			if tc.correct {
				assert.InDelta(t, 4.0, summary.ObtainedMarks, 1e-9)
			} else {
				assert.InDelta(t, 0.0, summary.ObtainedMarks, 1e-9)
				assert.InDelta(t, -1.0, summary.PerQuestion[0].Marks, 1e-9)
			}
		})
	}
}

func TestScoreAttemptCountsPartitionQuestions(t *testing.T) {
	questions := []model.Question{
		singleChoice(1, 1, 0, 11, 12),
		singleChoice(2, 1, 0, 21, 22),
		singleChoice(3, 1, 0, 31, 32),
		numericQuestion(4, 1, "42"),
	}
	answers := map[uint]Selection{
		1: {OptionIDs: []uint{11}},
		2: {OptionIDs: []uint{22}},
		3: {}, // empty selection counts as skipped
	}

	summary, err := ScoreAttempt(questions, answers, 4, 50)
	require.NoError(t, err)

	assert.Equal(t, len(questions), summary.Correct+summary.Wrong+summary.Skipped)
	assert.Equal(t, summary.Attempted, summary.Correct+summary.Wrong)
	assert.Equal(t, 2, summary.Skipped)
}

func TestScoreAttemptFloorAppliesToTotalOnly(t *testing.T) {
	questions := []model.Question{
		singleChoice(1, 1, 2, 11, 12),
		singleChoice(2, 1, 2, 21, 22),
	}
	answers := map[uint]Selection{
		1: {OptionIDs: []uint{12}},
		2: {OptionIDs: []uint{22}},
	}

	summary, err := ScoreAttempt(questions, answers, 2, 50)
	require.NoError(t, err)

	assert.InDelta(t, -4.0, summary.RawMarks, 1e-9)
	assert.InDelta(t, 0.0, summary.ObtainedMarks, 1e-9)
	assert.InDelta(t, 0.0, summary.Percentage, 1e-9)
	assert.InDelta(t, -2.0, summary.PerQuestion[0].Marks, 1e-9)
	assert.False(t, summary.Passed)
}

func TestScoreAttemptNumericMatching(t *testing.T) {
	questions := []model.Question{numericQuestion(1, 1, "0.5")}

	cases := []struct {
		value   string
		correct bool
	}{
		{"0.5", true},
		{"0.50", true},
		{" .5 ", true},
		{"1/2", false},
		{"0.51", false},
		{"", false},
	}

	for _, tc := range cases {
		summary, err := ScoreAttempt(questions, map[uint]Selection{1: {Value: tc.value}}, 1, 50)
		require.NoError(t, err)
		if tc.value == "" {
			assert.Equal(t, 1, summary.Skipped, "value %q", tc.value)
			continue
		}
		assert.Equal(t, tc.correct, summary.PerQuestion[0].Correct, "value %q", tc.value)
	}
}

func TestScoreAttemptDeterministic(t *testing.T) {
	test, questions := choiceTest()
	answers := map[uint]Selection{
		10: {OptionIDs: []uint{101}},
		20: {OptionIDs: []uint{201, 203}},
	}

	first, err := ScoreAttempt(questions, answers, test.TotalMarks, test.PassPercentage)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ScoreAttempt(questions, answers, test.TotalMarks, test.PassPercentage)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestScoreAttemptIgnoresUnknownQuestionKeys(t *testing.T) {
	questions := []model.Question{singleChoice(1, 1, 0, 11, 12)}
	answers := map[uint]Selection{
		1:   {OptionIDs: []uint{11}},
		999: {OptionIDs: []uint{1}},
	}

	summary, err := ScoreAttempt(questions, answers, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempted)
	assert.Len(t, summary.PerQuestion, 1)
	assert.InDelta(t, 100.0, summary.Percentage, 1e-9)
	assert.True(t, summary.Passed)
}

func TestScoreAttemptPassBoundary(t *testing.T) {
	questions := []model.Question{
		singleChoice(1, 1, 0, 11, 12),
		singleChoice(2, 1, 0, 21, 22),
	}
	answers := map[uint]Selection{1: {OptionIDs: []uint{11}}}

	summary, err := ScoreAttempt(questions, answers, 2, 50)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, summary.Percentage, 1e-9)
	assert.True(t, summary.Passed, "percentage equal to the pass mark passes")
}

func TestScoreAttemptZeroTotalMarks(t *testing.T) {
	questions := []model.Question{singleChoice(1, 1, 0, 11, 12)}

	_, err := ScoreAttempt(questions, map[uint]Selection{1: {OptionIDs: []uint{11}}}, 0, 50)
	assert.ErrorIs(t, err, util.ErrScoreNotComputable)

	_, err = ScoreAttempt(questions, map[uint]Selection{}, -3, 50)
	assert.ErrorIs(t, err, util.ErrScoreNotComputable)
}

func TestScoreAttemptNoCorrectOptionsNeverMatches(t *testing.T) {
	q := model.Question{Type: model.SingleChoice, Marks: 1}
	q.ID = 1
	q.Options = []model.QuestionOption{option(11, false), option(12, false)}

	summary, err := ScoreAttempt([]model.Question{q}, map[uint]Selection{1: {OptionIDs: []uint{11}}}, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Wrong)
}
