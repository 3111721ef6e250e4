package service

import (
	"context"
	"examdesk_backend/internal/config"
	"examdesk_backend/internal/model"
	"examdesk_backend/internal/util"
	"examdesk_backend/pkg/logger"
	"examdesk_backend/pkg/monitoring"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Boundary contracts the session engine consumes. The GORM repositories
// satisfy these; tests substitute in-memory fakes.

type TestReader interface {
	FindPublishedByID(id uint) (*model.Test, error)
}

type QuestionBank interface {
	ListByTest(testID uint) ([]model.Question, error)
}

type AttemptStore interface {
	Create(attempt *model.TestAttempt) error
	Update(attemptID uint, fields map[string]interface{}) error
	FindByID(id uint) (*model.TestAttempt, error)
	FindInProgress(testID, userID uint) (*model.TestAttempt, error)
	CountByUserAndTest(userID, testID uint) (int64, error)
}

type AnswerStore interface {
	Upsert(answer *model.AttemptAnswer) error
	ListByAttempt(attemptID uint) ([]model.AttemptAnswer, error)
}

type ViolationSink interface {
	Append(v *model.Violation) error
}

type SessionLocker interface {
	Acquire(ctx context.Context, attemptID uint, sessionToken string, ttl time.Duration) (string, error)
	Release(ctx context.Context, attemptID uint, sessionToken string) error
}

type ResultNotifier interface {
	AttemptFinalized(ctx context.Context, attempt *model.TestAttempt)
}

// SessionService owns the lifecycle of in-progress attempts: it is the state
// machine NotStarted -> InProgress -> {Submitted, AutoSubmitted}. All learner
// actions and asynchronous signals (timer expiry, violation limit) funnel
// through it, and submission runs exactly once per attempt.
type SessionService struct {
	cfg *config.Config

	tests      TestReader
	questions  QuestionBank
	attempts   AttemptStore
	answers    AnswerStore
	violations ViolationSink
	locks      SessionLocker
	notifier   ResultNotifier

	mu       sync.Mutex
	sessions map[uint]*attemptSession

	// startLocks serializes Start per (test, learner): the find-then-create
	// on the attempt row must not race itself into duplicate in_progress
	// attempts.
	startMu    sync.Mutex
	startLocks map[uint64]*sync.Mutex

	// Now is the clock used for attempt timing. Overridable in tests.
	Now func() time.Time
}

func NewSessionService(
	cfg *config.Config,
	tests TestReader,
	questions QuestionBank,
	attempts AttemptStore,
	answers AnswerStore,
	violations ViolationSink,
	locks SessionLocker,
	notifier ResultNotifier,
) *SessionService {
	return &SessionService{
		cfg:        cfg,
		tests:      tests,
		questions:  questions,
		attempts:   attempts,
		answers:    answers,
		violations: violations,
		locks:      locks,
		notifier:   notifier,
		sessions:   make(map[uint]*attemptSession),
		startLocks: make(map[uint64]*sync.Mutex),
		Now:        time.Now,
	}
}

// StartResult is what a test taker gets back from Start: sanitized questions
// only, never correctness data.
type StartResult struct {
	Attempt           *model.TestAttempt    `json:"attempt"`
	Questions         []TakerQuestion       `json:"questions"`
	Answers           []model.AttemptAnswer `json:"answers"`
	RemainingSeconds  int                   `json:"remainingSeconds"`
	SessionToken      string                `json:"sessionToken"`
	Resumed           bool                  `json:"resumed"`
	TakenOver         bool                  `json:"takenOver"`
	RequireFullscreen bool                  `json:"requireFullscreen"`
	Watermark         bool                  `json:"watermark"`
}

// Start opens or resumes the attempt for (testID, userID). An existing
// in-progress attempt is always resumed, never duplicated: remaining time is
// recomputed from started_at and wall-clock now, and persisted answers are
// reloaded. A fresh attempt starts the full countdown. A recomputed remainder
// of zero or less (including a corrupted started_at) finalizes immediately
// rather than granting time.
func (s *SessionService) Start(ctx context.Context, testID, userID uint) (*StartResult, error) {
	lock := s.startLock(testID, userID)
	lock.Lock()
	defer lock.Unlock()

	test, err := s.tests.FindPublishedByID(testID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, util.ErrTestNotPublished
		}
		return nil, fmt.Errorf("load test: %w", err)
	}

	questions, err := s.questions.ListByTest(testID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, util.ErrTestHasNoQuestions
	}

	now := s.Now()
	resumed := true
	attempt, err := s.attempts.FindInProgress(testID, userID)
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("find attempt: %w", err)
		}
		count, err := s.attempts.CountByUserAndTest(userID, testID)
		if err != nil {
			return nil, fmt.Errorf("count attempts: %w", err)
		}
		attempt = &model.TestAttempt{
			TestID:        testID,
			UserID:        userID,
			AttemptNumber: int(count) + 1,
			Status:        model.AttemptInProgress,
			StartedAt:     now,
		}
		if err := s.attempts.Create(attempt); err != nil {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
		resumed = false
	}

	if test.ShuffleQuestions {
		questions = shuffleForAttempt(questions, attempt.ID)
	}

	token := model.GenerateUUID()
	sess := newAttemptSession(token, userID, attempt, test, questions)

	if resumed {
		persisted, err := s.answers.ListByAttempt(attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("reload answers: %w", err)
		}
		for i := range persisted {
			a := persisted[i]
			sess.answers[a.QuestionID] = &a
		}
	}

	// Fail closed: a missing started_at means remaining time is zero, not
	// unlimited.
	remaining := time.Duration(0)
	if !attempt.StartedAt.IsZero() {
		remaining = time.Duration(test.DurationSeconds)*time.Second - now.Sub(attempt.StartedAt)
		if remaining < 0 {
			remaining = 0
		}
	}

	takenOver := s.acquireLease(ctx, sess, remaining)

	s.mu.Lock()
	if prev, ok := s.sessions[attempt.ID]; ok {
		s.displaceLocked(prev)
	}
	s.sessions[attempt.ID] = sess
	s.mu.Unlock()
	monitoring.ActiveSessions.Inc()

	go s.answerWriter(sess)

	if remaining <= 0 {
		if _, err := s.submit(ctx, sess, sess.token, model.TriggerTimeExpired); err != nil {
			return nil, err
		}
	} else {
		attemptID := attempt.ID
		sess.timer = NewCountdown(remaining, func() {
			if _, err := s.Submit(context.Background(), attemptID, userID, token, model.TriggerTimeExpired); err != nil {
				logger.Log.Error("auto-submit on expiry failed",
					zap.Uint("attemptID", attemptID), zap.Error(err))
			}
		})
		sess.timer.Start()
	}

	return &StartResult{
		Attempt:           attempt,
		Questions:         BuildTakerQuestions(questions),
		Answers:           s.answerList(sess),
		RemainingSeconds:  int(remaining / time.Second),
		SessionToken:      token,
		Resumed:           resumed,
		TakenOver:         takenOver,
		RequireFullscreen: test.AntiCheat.Enabled && test.AntiCheat.RequireFullscreen,
		Watermark:         test.AntiCheat.Enabled && test.AntiCheat.Watermark,
	}, nil
}

// RecordAnswer merges a selection into the attempt's answer for questionID,
// accumulating time spent, and schedules persistence. Valid only while the
// attempt is in progress and the caller holds the current session token.
func (s *SessionService) RecordAnswer(attemptID, userID uint, token string, questionID uint, sel Selection, timeSpentDelta int) (*model.AttemptAnswer, error) {
	sess, err := s.writableSession(attemptID, userID, token)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.active() {
		return nil, s.inactiveErr(sess)
	}
	if _, ok := sess.questionByID[questionID]; !ok {
		return nil, util.ErrQuestionNotInTest
	}

	a, ok := sess.answers[questionID]
	if !ok {
		a = &model.AttemptAnswer{AttemptID: sess.attempt.ID, QuestionID: questionID}
		sess.answers[questionID] = a
	}
	a.SetOptionIDs(sel.OptionIDs)
	a.ValueText = sel.Value
	if timeSpentDelta > 0 {
		a.TimeSpentSeconds += timeSpentDelta
	}

	sess.enqueue(questionID)

	cp := *a
	return &cp, nil
}

// ToggleReview flips the marked-for-review flag on a question's answer,
// creating an empty-selection answer row when none exists yet.
func (s *SessionService) ToggleReview(attemptID, userID uint, token string, questionID uint) (*model.AttemptAnswer, error) {
	sess, err := s.writableSession(attemptID, userID, token)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.active() {
		return nil, s.inactiveErr(sess)
	}
	if _, ok := sess.questionByID[questionID]; !ok {
		return nil, util.ErrQuestionNotInTest
	}

	a, ok := sess.answers[questionID]
	if !ok {
		a = &model.AttemptAnswer{AttemptID: sess.attempt.ID, QuestionID: questionID}
		a.SetOptionIDs(nil)
		sess.answers[questionID] = a
	}
	a.MarkedForReview = !a.MarkedForReview

	sess.enqueue(questionID)

	cp := *a
	return &cp, nil
}

// TimeRemaining reports the seconds left on the attempt's clock.
func (s *SessionService) TimeRemaining(attemptID, userID uint) (int, error) {
	sess := s.session(attemptID)
	if sess == nil {
		return 0, util.ErrAttemptNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.userID != userID {
		return 0, util.ErrPermissionDenied
	}
	if sess.done || sess.finalizing {
		return 0, nil
	}
	if sess.timer == nil {
		return 0, nil
	}
	return int(sess.timer.Remaining() / time.Second), nil
}

// Submit finalizes the attempt. It is idempotent: the first caller wins and a
// repeated or racing call (manual click against timer expiry, say) is a
// silent no-op returning the attempt as-is. Manual submits from a displaced
// tab are rejected.
func (s *SessionService) Submit(ctx context.Context, attemptID, userID uint, token string, trigger model.SubmitTrigger) (*model.TestAttempt, error) {
	sess := s.session(attemptID)
	if sess == nil {
		// A submit that arrives after finalize already completed is a
		// repeat, not an error.
		attempt, err := s.attempts.FindByID(attemptID)
		if err != nil {
			return nil, util.ErrAttemptNotFound
		}
		if attempt.UserID != userID {
			return nil, util.ErrPermissionDenied
		}
		if attempt.Terminal() {
			return attempt, nil
		}
		return nil, util.ErrAttemptNotFound
	}
	if sess.userID != userID {
		return nil, util.ErrPermissionDenied
	}
	return s.submit(ctx, sess, token, trigger)
}

func (s *SessionService) submit(ctx context.Context, sess *attemptSession, token string, trigger model.SubmitTrigger) (*model.TestAttempt, error) {
	sess.mu.Lock()
	if sess.done || sess.finalizing {
		cp := *sess.attempt
		sess.mu.Unlock()
		return &cp, nil
	}
	if sess.stale || token != sess.token {
		sess.mu.Unlock()
		return nil, util.ErrSessionSuperseded
	}
	sess.finalizing = true
	if sess.timer != nil {
		sess.timer.Stop()
	}
	close(sess.pending)
	sess.mu.Unlock()

	<-sess.writerDone

	attempt, err := s.finalize(ctx, sess, trigger)
	if err != nil {
		// Scoring or attempt persistence failed; the attempt must not reach
		// a terminal state without a recorded score. Reopen for retry.
		sess.mu.Lock()
		sess.finalizing = false
		sess.pending = make(chan uint, answerQueueSize)
		sess.writerDone = make(chan struct{})
		sess.mu.Unlock()
		go s.answerWriter(sess)
		return nil, err
	}
	return attempt, nil
}

// finalize runs the single scoring and commit sequence. Answer write errors
// here are logged and surfaced to metrics but do not block the transition;
// failure to persist the scored attempt itself does.
func (s *SessionService) finalize(ctx context.Context, sess *attemptSession, trigger model.SubmitTrigger) (*model.TestAttempt, error) {
	sess.mu.Lock()
	selections := sess.selections()
	questions := sess.questions
	test := sess.test
	attempt := sess.attempt
	sess.mu.Unlock()

	summary, err := ScoreAttempt(questions, selections, test.TotalMarks, test.PassPercentage)
	if err != nil {
		logger.Log.Error("scoring failed, finalize blocked",
			zap.Uint("attemptID", attempt.ID), zap.Error(err))
		return nil, err
	}

	// Grade the in-memory answers, then write every one of them durably.
	sess.mu.Lock()
	for _, r := range summary.PerQuestion {
		a, ok := sess.answers[r.QuestionID]
		if !ok || !r.Attempted {
			continue
		}
		correct := r.Correct
		a.IsCorrect = &correct
		a.MarksObtained = r.Marks
	}
	final := make([]*model.AttemptAnswer, 0, len(sess.answers))
	for _, a := range sess.answers {
		cp := *a
		final = append(final, &cp)
	}
	sess.mu.Unlock()

	for _, a := range final {
		if !s.persistAnswer(a) {
			logger.Log.Error("answer lost at finalize",
				zap.Uint("attemptID", a.AttemptID), zap.Uint("questionID", a.QuestionID))
		}
	}

	now := s.Now()
	timeTaken := int(now.Sub(attempt.StartedAt) / time.Second)
	if attempt.StartedAt.IsZero() || timeTaken > test.DurationSeconds {
		timeTaken = test.DurationSeconds
	}
	if timeTaken < 0 {
		timeTaken = 0
	}

	status := model.AttemptSubmitted
	if trigger != model.TriggerManual {
		status = model.AttemptAutoSubmitted
		monitoring.AutoSubmitCounter.WithLabelValues(string(trigger)).Inc()
	}

	flagged, flagReason := s.integrityVerdict(sess, trigger)

	fields := map[string]interface{}{
		"status":               status,
		"submitted_at":         now,
		"time_taken_seconds":   timeTaken,
		"attempted":            summary.Attempted,
		"correct":              summary.Correct,
		"wrong":                summary.Wrong,
		"skipped":              summary.Skipped,
		"obtained_marks":       summary.ObtainedMarks,
		"percentage":           summary.Percentage,
		"passed":               summary.Passed,
		"tab_switches":         attempt.TabSwitches,
		"fullscreen_exits":     attempt.FullscreenExits,
		"copy_attempts":        attempt.CopyAttempts,
		"right_click_attempts": attempt.RightClickAttempts,
		"flagged":              flagged,
		"flag_reason":          flagReason,
	}

	if err := s.updateAttemptWithRetry(attempt.ID, fields); err != nil {
		return nil, fmt.Errorf("persist scored attempt: %w", err)
	}

	sess.mu.Lock()
	attempt.Status = status
	attempt.SubmittedAt = &now
	attempt.TimeTakenSeconds = timeTaken
	attempt.Attempted = summary.Attempted
	attempt.Correct = summary.Correct
	attempt.Wrong = summary.Wrong
	attempt.Skipped = summary.Skipped
	attempt.ObtainedMarks = summary.ObtainedMarks
	attempt.Percentage = summary.Percentage
	attempt.Passed = summary.Passed
	attempt.Flagged = flagged
	attempt.FlagReason = flagReason
	sess.done = true
	cp := *attempt
	sess.mu.Unlock()

	// Evict only our own registration. A newer tab may have re-registered
	// this attempt while finalize was running; its session stays.
	s.mu.Lock()
	if s.sessions[attempt.ID] == sess {
		delete(s.sessions, attempt.ID)
	}
	s.mu.Unlock()
	monitoring.ActiveSessions.Dec()

	if s.locks != nil {
		if err := s.locks.Release(ctx, attempt.ID, sess.token); err != nil {
			logger.Log.Warn("session lease release failed",
				zap.Uint("attemptID", attempt.ID), zap.Error(err))
		}
	}

	if s.notifier != nil {
		notifyCopy := cp
		go s.notifier.AttemptFinalized(context.Background(), &notifyCopy)
	}

	logger.Log.Info("attempt finalized",
		zap.Uint("attemptID", attempt.ID),
		zap.String("status", string(status)),
		zap.String("trigger", string(trigger)),
		zap.Float64("obtainedMarks", summary.ObtainedMarks),
		zap.Bool("passed", summary.Passed))

	return &cp, nil
}

// integrityVerdict decides the flagged flag and reason from the monitor's
// tallies at finalize time.
func (s *SessionService) integrityVerdict(sess *attemptSession, trigger model.SubmitTrigger) (bool, string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if trigger == model.TriggerViolationLimit {
		return true, fmt.Sprintf("tab switch limit exceeded (%d)", sess.attempt.TabSwitches)
	}
	limit := s.tabSwitchLimit(sess.test)
	if sess.test.AntiCheat.Enabled && limit > 0 && sess.attempt.TabSwitches >= limit {
		return true, fmt.Sprintf("tab switch limit reached (%d)", sess.attempt.TabSwitches)
	}
	return false, ""
}

func (s *SessionService) tabSwitchLimit(test *model.Test) int {
	if test.AntiCheat.TabSwitchLimit > 0 {
		return test.AntiCheat.TabSwitchLimit
	}
	return s.cfg.Proctoring.DefaultTabSwitchLimit
}

// answerWriter drains the session's queue, persisting the latest merged state
// of each touched question. Ordering per question is preserved by the single
// writer; a failed write after retries is logged and counted, never surfaced
// to the learner.
func (s *SessionService) answerWriter(sess *attemptSession) {
	pending := sess.pending
	done := sess.writerDone
	for qid := range pending {
		snapshot := sess.snapshotAnswer(qid)
		if snapshot == nil {
			continue
		}
		if !s.persistAnswer(snapshot) {
			logger.Log.Error("answer write dropped after retries",
				zap.Uint("attemptID", snapshot.AttemptID),
				zap.Uint("questionID", snapshot.QuestionID))
		}
	}
	close(done)
}

// persistAnswer upserts one answer with bounded retry and exponential
// backoff. Returns false once retries are exhausted.
func (s *SessionService) persistAnswer(a *model.AttemptAnswer) bool {
	retries := s.cfg.Proctoring.AnswerWriteRetries
	backoff := time.Duration(s.cfg.Proctoring.AnswerWriteBackoffMS) * time.Millisecond

	var err error
	for i := 0; i <= retries; i++ {
		if i > 0 {
			monitoring.AnswerWriteRetries.Inc()
			time.Sleep(backoff)
			backoff *= 2
		}
		if err = s.answers.Upsert(a); err == nil {
			return true
		}
		logger.Log.Warn("answer upsert failed",
			zap.Uint("attemptID", a.AttemptID),
			zap.Uint("questionID", a.QuestionID),
			zap.Int("try", i+1),
			zap.Error(err))
	}
	monitoring.AnswerWriteFailures.Inc()
	return false
}

func (s *SessionService) updateAttemptWithRetry(attemptID uint, fields map[string]interface{}) error {
	backoff := time.Duration(s.cfg.Proctoring.AnswerWriteBackoffMS) * time.Millisecond
	var err error
	for i := 0; i <= s.cfg.Proctoring.AnswerWriteRetries; i++ {
		if i > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if err = s.attempts.Update(attemptID, fields); err == nil {
			return nil
		}
	}
	return err
}

// acquireLease claims the attempt's session lease, reporting whether an
// earlier live session was displaced. Lease trouble is logged, not fatal: a
// Redis outage must not lock learners out of their attempt.
func (s *SessionService) acquireLease(ctx context.Context, sess *attemptSession, remaining time.Duration) bool {
	if s.locks == nil {
		return false
	}
	ttl := remaining + time.Duration(s.cfg.Proctoring.SessionLeaseSlackSec)*time.Second
	prev, err := s.locks.Acquire(ctx, sess.attempt.ID, sess.token, ttl)
	if err != nil {
		logger.Log.Warn("session lease acquire failed",
			zap.Uint("attemptID", sess.attempt.ID), zap.Error(err))
		return false
	}
	if prev != "" {
		logger.Log.Warn("attempt session taken over by a new tab",
			zap.Uint("attemptID", sess.attempt.ID),
			zap.Uint("userID", sess.userID))
		return true
	}
	return false
}

// displaceLocked marks an in-process session stale after a newer tab resumed
// the same attempt. Caller holds s.mu.
func (s *SessionService) displaceLocked(prev *attemptSession) {
	prev.mu.Lock()
	defer prev.mu.Unlock()
	if prev.done || prev.finalizing {
		return
	}
	prev.stale = true
	if prev.timer != nil {
		prev.timer.Stop()
	}
	close(prev.pending)
	monitoring.ActiveSessions.Dec()
}

// shuffleForAttempt reorders the question list with the attempt ID as the
// seed, so a resumed attempt sees the same order it started with.
func shuffleForAttempt(questions []model.Question, attemptID uint) []model.Question {
	out := make([]model.Question, len(questions))
	copy(out, questions)
	rng := rand.New(rand.NewSource(int64(attemptID)))
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

func (s *SessionService) startLock(testID, userID uint) *sync.Mutex {
	key := uint64(testID)<<32 | uint64(userID)
	s.startMu.Lock()
	defer s.startMu.Unlock()
	mu, ok := s.startLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.startLocks[key] = mu
	}
	return mu
}

func (s *SessionService) session(attemptID uint) *attemptSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[attemptID]
}

func (s *SessionService) writableSession(attemptID, userID uint, token string) (*attemptSession, error) {
	sess := s.session(attemptID)
	if sess == nil {
		return nil, util.ErrAttemptNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.userID != userID {
		return nil, util.ErrPermissionDenied
	}
	if token != sess.token {
		return nil, util.ErrSessionSuperseded
	}
	return sess, nil
}

func (s *SessionService) inactiveErr(sess *attemptSession) error {
	if sess.stale {
		return util.ErrSessionSuperseded
	}
	return util.ErrAttemptNotActive
}

// AttemptResult is the taker's view of a finished attempt: the scored attempt
// row and the graded answers. Available only once the attempt is terminal.
type AttemptResult struct {
	Attempt *model.TestAttempt    `json:"attempt"`
	Answers []model.AttemptAnswer `json:"answers"`
}

// Results returns the taker's own finalized attempt. An attempt still in
// progress has no results to show.
func (s *SessionService) Results(attemptID, userID uint) (*AttemptResult, error) {
	attempt, err := s.attempts.FindByID(attemptID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, util.ErrAttemptNotFound
		}
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, util.ErrPermissionDenied
	}
	if !attempt.Terminal() {
		return nil, util.ErrAttemptNotActive
	}
	answers, err := s.answers.ListByAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	return &AttemptResult{Attempt: attempt, Answers: answers}, nil
}

func (s *SessionService) answerList(sess *attemptSession) []model.AttemptAnswer {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]model.AttemptAnswer, 0, len(sess.answers))
	for _, a := range sess.answers {
		out = append(out, *a)
	}
	return out
}
