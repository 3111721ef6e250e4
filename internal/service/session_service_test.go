package service

import (
	"context"
	"examdesk_backend/internal/model"
	"examdesk_backend/internal/util"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCreatesAttemptAndSanitizesQuestions(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)

	assert.False(t, result.Resumed)
	assert.False(t, result.TakenOver)
	assert.Equal(t, model.AttemptInProgress, result.Attempt.Status)
	assert.Equal(t, 1, result.Attempt.AttemptNumber)
	assert.NotEmpty(t, result.SessionToken)
	assert.InDelta(t, test.DurationSeconds, result.RemainingSeconds, 1)

	require.Len(t, result.Questions, 2)
	for _, q := range result.Questions {
		for _, o := range q.Options {
			assert.NotZero(t, o.ID)
			assert.NotEmpty(t, o.Text)
		}
	}
}

func TestStartRejectsUnpublishedAndEmptyTests(t *testing.T) {
	test, questions := choiceTest()
	test.IsPublished = false
	f := newSessionFixture(test, questions)

	_, err := f.svc.Start(context.Background(), test.ID, 7)
	assert.ErrorIs(t, err, util.ErrTestNotPublished)

	empty, _ := choiceTest()
	empty.IsPublished = true
	f2 := newSessionFixture(empty, nil)
	_, err = f2.svc.Start(context.Background(), empty.ID, 7)
	assert.ErrorIs(t, err, util.ErrTestHasNoQuestions)
}

func TestStartResumesInsteadOfDuplicating(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	first, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)

	_, err = f.svc.RecordAnswer(first.Attempt.ID, 7, first.SessionToken, 10, Selection{OptionIDs: []uint{101}}, 4)
	require.NoError(t, err)

	// Wait for the background writer to land the row.
	require.Eventually(t, func() bool {
		return f.answers.get(first.Attempt.ID, 10) != nil
	}, time.Second, 5*time.Millisecond)

	second, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)

	assert.True(t, second.Resumed)
	assert.True(t, second.TakenOver)
	assert.Equal(t, first.Attempt.ID, second.Attempt.ID)
	require.Len(t, second.Answers, 1)
	assert.Equal(t, uint(10), second.Answers[0].QuestionID)
	assert.Equal(t, 4, second.Answers[0].TimeSpentSeconds)
}

func TestConcurrentStartsCreateSingleAttempt(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)
	// A storage round trip wide enough for unserialized find-then-create
	// calls to overlap.
	f.attempts.delay = 5 * time.Millisecond

	const starters = 4
	results := make([]*StartResult, starters)
	errs := make([]error, starters)
	var wg sync.WaitGroup
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Start(context.Background(), test.ID, 7)
		}(i)
	}
	wg.Wait()

	for i := 0; i < starters; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, 1, f.attempts.inProgress(test.ID, 7),
		"racing starts must share one in_progress attempt")
	for _, res := range results {
		assert.Equal(t, results[0].Attempt.ID, res.Attempt.ID)
	}
}

func TestShuffleStableAcrossResume(t *testing.T) {
	test, questions := choiceTest()
	test.ShuffleQuestions = true
	f := newSessionFixture(test, questions)

	first, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	second, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)

	require.Equal(t, len(first.Questions), len(second.Questions))
	for i := range first.Questions {
		assert.Equal(t, first.Questions[i].ID, second.Questions[i].ID,
			"resume keeps the order the attempt started with")
	}
}

func TestDisplacedSessionRejectsWrites(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	first, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	second, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)

	_, err = f.svc.RecordAnswer(first.Attempt.ID, 7, first.SessionToken, 10, Selection{OptionIDs: []uint{101}}, 0)
	assert.ErrorIs(t, err, util.ErrSessionSuperseded)

	_, err = f.svc.Submit(context.Background(), first.Attempt.ID, 7, first.SessionToken, model.TriggerManual)
	assert.ErrorIs(t, err, util.ErrSessionSuperseded)

	// The newest tab keeps working.
	_, err = f.svc.RecordAnswer(second.Attempt.ID, 7, second.SessionToken, 10, Selection{OptionIDs: []uint{101}}, 0)
	assert.NoError(t, err)
}

func TestStartDuringFinalizeKeepsNewSessionRegistered(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)
	f.attempts.updateEntered = make(chan struct{}, 1)
	f.attempts.updateRelease = make(chan struct{})

	first, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	attemptID := first.Attempt.ID

	submitDone := make(chan error, 1)
	go func() {
		_, err := f.svc.Submit(context.Background(), attemptID, 7, first.SessionToken, model.TriggerManual)
		submitDone <- err
	}()

	// Finalize is now parked inside the attempt update.
	<-f.attempts.updateEntered

	second, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	require.True(t, second.Resumed)
	require.Equal(t, attemptID, second.Attempt.ID)

	close(f.attempts.updateRelease)
	require.NoError(t, <-submitDone)

	// The finished finalize must not evict the newer tab's session.
	sess := f.svc.session(attemptID)
	require.NotNil(t, sess)
	assert.Equal(t, second.SessionToken, sess.token)
}

func TestRecordAnswerMergesAndAccumulatesTime(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)

	a, err := f.svc.RecordAnswer(result.Attempt.ID, 7, result.SessionToken, 20, Selection{OptionIDs: []uint{201}}, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint{201}, a.OptionIDs())
	assert.Equal(t, 5, a.TimeSpentSeconds)

	a, err = f.svc.RecordAnswer(result.Attempt.ID, 7, result.SessionToken, 20, Selection{OptionIDs: []uint{201, 203}}, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint{201, 203}, a.OptionIDs(), "last write wins")
	assert.Equal(t, 8, a.TimeSpentSeconds, "time spent accumulates")

	_, err = f.svc.RecordAnswer(result.Attempt.ID, 7, result.SessionToken, 999, Selection{OptionIDs: []uint{1}}, 0)
	assert.ErrorIs(t, err, util.ErrQuestionNotInTest)

	_, err = f.svc.RecordAnswer(result.Attempt.ID, 8, result.SessionToken, 20, Selection{}, 0)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	_, err = f.svc.RecordAnswer(result.Attempt.ID, 7, "wrong-token", 20, Selection{}, 0)
	assert.ErrorIs(t, err, util.ErrSessionSuperseded)
}

func TestToggleReviewCreatesEmptyAnswer(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)

	a, err := f.svc.ToggleReview(result.Attempt.ID, 7, result.SessionToken, 10)
	require.NoError(t, err)
	assert.True(t, a.MarkedForReview)
	assert.Empty(t, a.OptionIDs())

	a, err = f.svc.ToggleReview(result.Attempt.ID, 7, result.SessionToken, 10)
	require.NoError(t, err)
	assert.False(t, a.MarkedForReview)
}

func TestSubmitScoresAndPersists(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	attemptID := result.Attempt.ID

	_, err = f.svc.RecordAnswer(attemptID, 7, result.SessionToken, 10, Selection{OptionIDs: []uint{101}}, 0)
	require.NoError(t, err)
	_, err = f.svc.RecordAnswer(attemptID, 7, result.SessionToken, 20, Selection{OptionIDs: []uint{202}}, 0)
	require.NoError(t, err)

	attempt, err := f.svc.Submit(context.Background(), attemptID, 7, result.SessionToken, model.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, model.AttemptSubmitted, attempt.Status)
	assert.Equal(t, 2, attempt.Attempted)
	assert.Equal(t, 1, attempt.Correct)
	assert.Equal(t, 1, attempt.Wrong)
	assert.InDelta(t, 1.0, attempt.ObtainedMarks, 1e-9) // +2 for q1, -1 for q2
	assert.InDelta(t, 25.0, attempt.Percentage, 1e-9)
	assert.False(t, attempt.Passed)

	update := f.attempts.lastUpdate(attemptID)
	require.NotNil(t, update)
	assert.Equal(t, model.AttemptSubmitted, update["status"])

	// Grading landed on the persisted answer rows.
	q1 := f.answers.get(attemptID, 10)
	require.NotNil(t, q1)
	require.NotNil(t, q1.IsCorrect)
	assert.True(t, *q1.IsCorrect)
	q2 := f.answers.get(attemptID, 20)
	require.NotNil(t, q2)
	require.NotNil(t, q2.IsCorrect)
	assert.False(t, *q2.IsCorrect)

	// Writes after finalize are rejected.
	_, err = f.svc.RecordAnswer(attemptID, 7, result.SessionToken, 10, Selection{OptionIDs: []uint{102}}, 0)
	assert.Error(t, err)

	// Repeat submit is a silent no-op returning the scored attempt.
	again, err := f.svc.Submit(context.Background(), attemptID, 7, result.SessionToken, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSubmitted, again.Status)
}

func TestSubmitRaceFinalizesOnce(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	attemptID := result.Attempt.ID

	_, err = f.svc.RecordAnswer(attemptID, 7, result.SessionToken, 10, Selection{OptionIDs: []uint{101}}, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	triggers := []model.SubmitTrigger{
		model.TriggerManual, model.TriggerTimeExpired, model.TriggerManual, model.TriggerViolationLimit,
	}
	for _, trigger := range triggers {
		wg.Add(1)
		go func(tr model.SubmitTrigger) {
			defer wg.Done()
			_, err := f.svc.Submit(context.Background(), attemptID, 7, result.SessionToken, tr)
			assert.NoError(t, err)
		}(trigger)
	}
	wg.Wait()

	f.attempts.mu.Lock()
	updates := len(f.attempts.updates[attemptID])
	f.attempts.mu.Unlock()
	assert.Equal(t, 1, updates, "exactly one finalize commits")

	f.notifier.mu.Lock()
	notified := len(f.notifier.attempts)
	f.notifier.mu.Unlock()
	assert.LessOrEqual(t, notified, 1)
}

func TestStartWithExpiredClockAutoSubmits(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	stale := &model.TestAttempt{
		TestID:    test.ID,
		UserID:    7,
		Status:    model.AttemptInProgress,
		StartedAt: time.Now().Add(-time.Duration(test.DurationSeconds+60) * time.Second),
	}
	require.NoError(t, f.attempts.Create(stale))

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)

	assert.Equal(t, model.AttemptAutoSubmitted, result.Attempt.Status)
	assert.Zero(t, result.RemainingSeconds)

	update := f.attempts.lastUpdate(stale.ID)
	require.NotNil(t, update)
	assert.Equal(t, model.AttemptAutoSubmitted, update["status"])
}

func TestStartFailsClosedOnMissingStartTime(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	corrupt := &model.TestAttempt{
		TestID: test.ID,
		UserID: 7,
		Status: model.AttemptInProgress,
	}
	require.NoError(t, f.attempts.Create(corrupt))

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptAutoSubmitted, result.Attempt.Status, "missing start time never grants time")
}

func TestSubmitBlockedUntilAttemptPersists(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	attemptID := result.Attempt.ID

	_, err = f.svc.RecordAnswer(attemptID, 7, result.SessionToken, 10, Selection{OptionIDs: []uint{101}}, 0)
	require.NoError(t, err)

	// Retries are exhausted while the store is down; the attempt must not
	// reach a terminal state.
	f.attempts.mu.Lock()
	f.attempts.failNext = 10
	f.attempts.mu.Unlock()

	_, err = f.svc.Submit(context.Background(), attemptID, 7, result.SessionToken, model.TriggerManual)
	require.Error(t, err)

	stored, err := f.attempts.FindByID(attemptID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, stored.Status)

	// The session reopened; once the store recovers, submit succeeds.
	f.attempts.mu.Lock()
	f.attempts.failNext = 0
	f.attempts.mu.Unlock()

	attempt, err := f.svc.Submit(context.Background(), attemptID, 7, result.SessionToken, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSubmitted, attempt.Status)
}

func TestSubmitWithUncomputableScoreKeepsSessionAlive(t *testing.T) {
	test, questions := choiceTest()
	test.TotalMarks = 0
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	attemptID := result.Attempt.ID

	_, err = f.svc.Submit(context.Background(), attemptID, 7, result.SessionToken, model.TriggerManual)
	assert.ErrorIs(t, err, util.ErrScoreNotComputable)

	// Grading failed, so the attempt stays open and writable.
	_, err = f.svc.RecordAnswer(attemptID, 7, result.SessionToken, 10, Selection{OptionIDs: []uint{101}}, 0)
	assert.NoError(t, err)
}

func TestSubmitPersistsAnswersEvenWhenQueueWritesFailed(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	attemptID := result.Attempt.ID

	f.answers.mu.Lock()
	f.answers.failing = true
	f.answers.mu.Unlock()

	_, err = f.svc.RecordAnswer(attemptID, 7, result.SessionToken, 10, Selection{OptionIDs: []uint{101}}, 0)
	require.NoError(t, err, "a failing store never blocks the learner")

	f.answers.mu.Lock()
	f.answers.failing = false
	f.answers.mu.Unlock()

	_, err = f.svc.Submit(context.Background(), attemptID, 7, result.SessionToken, model.TriggerManual)
	require.NoError(t, err)

	row := f.answers.get(attemptID, 10)
	require.NotNil(t, row, "finalize writes the authoritative answer set")
	assert.Equal(t, []uint{101}, row.OptionIDs())
}

func TestTimeRemaining(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)

	seconds, err := f.svc.TimeRemaining(result.Attempt.ID, 7)
	require.NoError(t, err)
	assert.Greater(t, seconds, test.DurationSeconds-5)

	_, err = f.svc.TimeRemaining(result.Attempt.ID, 99)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
}

func TestTimerExpiryAutoSubmits(t *testing.T) {
	test, questions := choiceTest()
	test.DurationSeconds = 1
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	attemptID := result.Attempt.ID

	require.Eventually(t, func() bool {
		stored, err := f.attempts.FindByID(attemptID)
		return err == nil && stored.Status == model.AttemptAutoSubmitted
	}, 5*time.Second, 50*time.Millisecond)

	update := f.attempts.lastUpdate(attemptID)
	require.NotNil(t, update)
	assert.Equal(t, model.AttemptAutoSubmitted, update["status"])
}

func TestResults(t *testing.T) {
	test, questions := choiceTest()
	f := newSessionFixture(test, questions)

	result, err := f.svc.Start(context.Background(), test.ID, 7)
	require.NoError(t, err)
	attemptID := result.Attempt.ID

	_, err = f.svc.Results(attemptID, 7)
	assert.ErrorIs(t, err, util.ErrAttemptNotActive, "no results while in progress")

	_, err = f.svc.RecordAnswer(attemptID, 7, result.SessionToken, 10, Selection{OptionIDs: []uint{101}}, 0)
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), attemptID, 7, result.SessionToken, model.TriggerManual)
	require.NoError(t, err)

	res, err := f.svc.Results(attemptID, 7)
	require.NoError(t, err)
	assert.True(t, res.Attempt.Terminal())
	require.Len(t, res.Answers, 1)

	_, err = f.svc.Results(attemptID, 99)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
}
