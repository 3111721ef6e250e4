package service

import (
	"context"
	"examdesk_backend/internal/config"
	"examdesk_backend/internal/model"
	"examdesk_backend/pkg/logger"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	return &config.Config{
		Proctoring: config.ProctoringConfig{
			DefaultTabSwitchLimit: 3,
			WarningWindowSeconds:  5,
			AnswerWriteRetries:    1,
			AnswerWriteBackoffMS:  1,
			SessionLeaseSlackSec:  60,
		},
	}
}

// In-memory stand-ins for the GORM and Redis repositories.

type fakeTests struct {
	mu    sync.Mutex
	tests map[uint]*model.Test
}

func newFakeTests(tests ...*model.Test) *fakeTests {
	f := &fakeTests{tests: make(map[uint]*model.Test)}
	for _, t := range tests {
		f.tests[t.ID] = t
	}
	return f
}

func (f *fakeTests) FindPublishedByID(id uint) (*model.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tests[id]
	if !ok || !t.IsPublished {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

type fakeQuestions struct {
	byTest map[uint][]model.Question
}

func (f *fakeQuestions) ListByTest(testID uint) ([]model.Question, error) {
	return f.byTest[testID], nil
}

type fakeAttempts struct {
	mu       sync.Mutex
	nextID   uint
	attempts map[uint]*model.TestAttempt
	updates  map[uint][]map[string]interface{}
	failNext int

	// delay simulates a storage round trip on reads and creates. Set before
	// any concurrent use.
	delay time.Duration

	// updateEntered/updateRelease let a test hold an Update call open.
	updateEntered chan struct{}
	updateRelease chan struct{}
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{
		nextID:   1,
		attempts: make(map[uint]*model.TestAttempt),
		updates:  make(map[uint][]map[string]interface{}),
	}
}

func (f *fakeAttempts) Create(attempt *model.TestAttempt) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt.ID = f.nextID
	f.nextID++
	cp := *attempt
	f.attempts[attempt.ID] = &cp
	return nil
}

func (f *fakeAttempts) Update(attemptID uint, fields map[string]interface{}) error {
	if f.updateEntered != nil {
		f.updateEntered <- struct{}{}
		<-f.updateRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("storage offline")
	}
	f.updates[attemptID] = append(f.updates[attemptID], fields)
	if a, ok := f.attempts[attemptID]; ok {
		if status, ok := fields["status"].(model.AttemptStatus); ok {
			a.Status = status
		}
	}
	return nil
}

func (f *fakeAttempts) FindByID(id uint) (*model.TestAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAttempts) FindInProgress(testID, userID uint) (*model.TestAttempt, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.TestID == testID && a.UserID == userID && a.Status == model.AttemptInProgress {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAttempts) CountByUserAndTest(userID, testID uint) (int64, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.attempts {
		if a.TestID == testID && a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeAttempts) inProgress(testID, userID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		if a.TestID == testID && a.UserID == userID && a.Status == model.AttemptInProgress {
			n++
		}
	}
	return n
}

func (f *fakeAttempts) lastUpdate(attemptID uint) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ups := f.updates[attemptID]
	if len(ups) == 0 {
		return nil
	}
	return ups[len(ups)-1]
}

type fakeAnswers struct {
	mu      sync.Mutex
	rows    map[string]*model.AttemptAnswer
	failing bool
	upserts int
}

func newFakeAnswers() *fakeAnswers {
	return &fakeAnswers{rows: make(map[string]*model.AttemptAnswer)}
}

func answerKey(attemptID, questionID uint) string {
	return fmt.Sprintf("%d/%d", attemptID, questionID)
}

func (f *fakeAnswers) Upsert(answer *model.AttemptAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.failing {
		return fmt.Errorf("storage offline")
	}
	cp := *answer
	f.rows[answerKey(answer.AttemptID, answer.QuestionID)] = &cp
	return nil
}

func (f *fakeAnswers) ListByAttempt(attemptID uint) ([]model.AttemptAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AttemptAnswer
	for _, a := range f.rows {
		if a.AttemptID == attemptID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAnswers) get(attemptID, questionID uint) *model.AttemptAnswer {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[answerKey(attemptID, questionID)]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

type fakeViolations struct {
	mu      sync.Mutex
	rows    []*model.Violation
	failing bool
}

func (f *fakeViolations) Append(v *model.Violation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("storage offline")
	}
	f.rows = append(f.rows, v)
	return nil
}

func (f *fakeViolations) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeLocks struct {
	mu     sync.Mutex
	holder map[uint]string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{holder: make(map[uint]string)}
}

func (f *fakeLocks) Acquire(ctx context.Context, attemptID uint, sessionToken string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.holder[attemptID]
	f.holder[attemptID] = sessionToken
	if prev == sessionToken {
		return "", nil
	}
	return prev, nil
}

func (f *fakeLocks) Release(ctx context.Context, attemptID uint, sessionToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder[attemptID] == sessionToken {
		delete(f.holder, attemptID)
	}
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	attempts []*model.TestAttempt
}

func (f *fakeNotifier) AttemptFinalized(ctx context.Context, attempt *model.TestAttempt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
}

// Fixtures.

func choiceTest() (*model.Test, []model.Question) {
	test := &model.Test{
		Title:           "Go fundamentals",
		DurationSeconds: 600,
		TotalMarks:      4,
		PassPercentage:  50,
		IsPublished:     true,
		AntiCheat: model.AntiCheatPolicy{
			Enabled:        true,
			TabSwitchLimit: 3,
		},
	}
	test.ID = 1

	q1 := model.Question{Type: model.SingleChoice, Prompt: "q1", Marks: 2, TestID: 1}
	q1.ID = 10
	q1.Options = []model.QuestionOption{
		option(101, true), option(102, false), option(103, false),
	}

	q2 := model.Question{Type: model.MultipleChoice, Prompt: "q2", Marks: 2, NegativeMarks: 1, TestID: 1}
	q2.ID = 20
	q2.Options = []model.QuestionOption{
		option(201, true), option(202, false), option(203, true),
	}

	return test, []model.Question{q1, q2}
}

func option(id uint, correct bool) model.QuestionOption {
	o := model.QuestionOption{Text: fmt.Sprintf("opt %d", id), IsCorrect: correct}
	o.ID = id
	return o
}

type sessionFixture struct {
	svc        *SessionService
	tests      *fakeTests
	attempts   *fakeAttempts
	answers    *fakeAnswers
	violations *fakeViolations
	locks      *fakeLocks
	notifier   *fakeNotifier
}

func newSessionFixture(test *model.Test, questions []model.Question) *sessionFixture {
	f := &sessionFixture{
		tests:      newFakeTests(test),
		attempts:   newFakeAttempts(),
		answers:    newFakeAnswers(),
		violations: &fakeViolations{},
		locks:      newFakeLocks(),
		notifier:   &fakeNotifier{},
	}
	f.svc = NewSessionService(
		testConfig(),
		f.tests,
		&fakeQuestions{byTest: map[uint][]model.Question{test.ID: questions}},
		f.attempts,
		f.answers,
		f.violations,
		f.locks,
		f.notifier,
	)
	return f
}
