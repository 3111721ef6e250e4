package service

import (
	"errors"
	"examdesk_backend/internal/model"
	"examdesk_backend/internal/repository"
	"examdesk_backend/internal/util"
	"examdesk_backend/pkg/logger"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TakerQuestion is the question payload served to test takers. It carries no
// correctness data: option flags, expected numeric values and explanations
// stay server side until results are released.
type TakerQuestion struct {
	ID            uint               `json:"id"`
	Type          model.QuestionType `json:"type"`
	Prompt        string             `json:"prompt"`
	Marks         float64            `json:"marks"`
	NegativeMarks float64            `json:"negativeMarks"`
	Order         int                `json:"order"`
	Options       []TakerOption      `json:"options,omitempty"`
}

type TakerOption struct {
	ID   uint   `json:"id"`
	Text string `json:"text"`
}

// BuildTakerQuestions strips grading data from a question set.
func BuildTakerQuestions(questions []model.Question) []TakerQuestion {
	out := make([]TakerQuestion, 0, len(questions))
	for _, q := range questions {
		tq := TakerQuestion{
			ID:            q.ID,
			Type:          q.Type,
			Prompt:        q.Prompt,
			Marks:         q.Marks,
			NegativeMarks: q.NegativeMarks,
			Order:         q.Order,
		}
		for _, o := range q.Options {
			tq.Options = append(tq.Options, TakerOption{ID: o.ID, Text: o.Text})
		}
		out = append(out, tq)
	}
	return out
}

// TestService covers the mentor side: authoring tests and questions,
// publishing, and reviewing attempts with full grading detail.
type TestService struct {
	Tests     *repository.TestRepository
	Questions *repository.QuestionRepository
	Attempts  *repository.AttemptRepository
	Answers   *repository.AnswerRepository
	Traces    *repository.ViolationRepository
}

func NewTestService(
	tests *repository.TestRepository,
	questions *repository.QuestionRepository,
	attempts *repository.AttemptRepository,
	answers *repository.AnswerRepository,
	traces *repository.ViolationRepository,
) *TestService {
	return &TestService{
		Tests:     tests,
		Questions: questions,
		Attempts:  attempts,
		Answers:   answers,
		Traces:    traces,
	}
}

func (s *TestService) CreateTest(test *model.Test, creatorID uint) error {
	if test.DurationSeconds <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if test.PassPercentage < 0 || test.PassPercentage > 100 {
		return fmt.Errorf("pass percentage must be between 0 and 100")
	}
	test.CreatorID = creatorID
	test.IsPublished = false
	return s.Tests.Create(test)
}

func (s *TestService) UpdateTest(testID, actorID uint, role model.UserRole, update *model.Test) (*model.Test, error) {
	test, err := s.ownedTest(testID, actorID, role)
	if err != nil {
		return nil, err
	}
	if update.DurationSeconds > 0 {
		test.DurationSeconds = update.DurationSeconds
	}
	if update.Title != "" {
		test.Title = update.Title
	}
	test.Description = update.Description
	if update.PassPercentage >= 0 && update.PassPercentage <= 100 {
		test.PassPercentage = update.PassPercentage
	}
	test.AllowBacktracking = update.AllowBacktracking
	test.AllowReviewMarking = update.AllowReviewMarking
	test.ShuffleQuestions = update.ShuffleQuestions
	test.AntiCheat = update.AntiCheat
	if update.SubjectID > 0 {
		test.SubjectID = update.SubjectID
	}
	if update.TopicID > 0 {
		test.TopicID = update.TopicID
	}
	if err := s.Tests.Update(test); err != nil {
		return nil, err
	}
	return test, nil
}

func (s *TestService) DeleteTest(testID, actorID uint, role model.UserRole) error {
	if _, err := s.ownedTest(testID, actorID, role); err != nil {
		return err
	}
	return s.Tests.Delete(testID)
}

func (s *TestService) GetTest(testID uint) (*model.Test, error) {
	test, err := s.Tests.FindByID(testID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrTestNotFound
		}
		return nil, err
	}
	return test, nil
}

func (s *TestService) ListTests(subjectID uint, publishedOnly bool, page, limit int) ([]model.Test, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Tests.List(subjectID, publishedOnly, page, limit)
}

// Publish makes a test visible to takers. A test with no questions or zero
// aggregate marks cannot be published.
func (s *TestService) Publish(testID, actorID uint, role model.UserRole) (*model.Test, error) {
	test, err := s.ownedTest(testID, actorID, role)
	if err != nil {
		return nil, err
	}

	if err := s.Tests.RefreshDerivedCounts(testID); err != nil {
		return nil, err
	}
	test, err = s.Tests.FindByID(testID)
	if err != nil {
		return nil, err
	}
	if test.QuestionCount == 0 {
		return nil, util.ErrTestHasNoQuestions
	}
	if test.TotalMarks <= 0 {
		return nil, util.ErrScoreNotComputable
	}

	if err := s.Tests.SetPublished(testID, true); err != nil {
		return nil, err
	}
	logger.Log.Info("test published",
		zap.Uint("testID", testID), zap.Float64("totalMarks", test.TotalMarks))
	return s.Tests.FindByID(testID)
}

func (s *TestService) Unpublish(testID, actorID uint, role model.UserRole) error {
	if _, err := s.ownedTest(testID, actorID, role); err != nil {
		return err
	}
	return s.Tests.SetPublished(testID, false)
}

// AddQuestion validates and stores one question with its options, then
// refreshes the test's derived totals.
func (s *TestService) AddQuestion(testID, actorID uint, role model.UserRole, q *model.Question) (*model.Question, error) {
	if _, err := s.ownedTest(testID, actorID, role); err != nil {
		return nil, err
	}
	if err := validateQuestion(q); err != nil {
		return nil, err
	}
	q.TestID = testID
	if err := s.Questions.Create(q); err != nil {
		return nil, err
	}
	if err := s.Tests.RefreshDerivedCounts(testID); err != nil {
		logger.Log.Warn("derived count refresh failed", zap.Uint("testID", testID), zap.Error(err))
	}
	return s.Questions.FindByID(q.ID)
}

func (s *TestService) UpdateQuestion(questionID, actorID uint, role model.UserRole, update *model.Question) (*model.Question, error) {
	q, err := s.Questions.FindByID(questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuestionNotInTest
		}
		return nil, err
	}
	if _, err := s.ownedTest(q.TestID, actorID, role); err != nil {
		return nil, err
	}

	update.ID = q.ID
	update.TestID = q.TestID
	if err := validateQuestion(update); err != nil {
		return nil, err
	}
	options := update.Options
	update.Options = nil
	if err := s.Questions.Update(update); err != nil {
		return nil, err
	}
	if err := s.Questions.ReplaceOptions(q.ID, options); err != nil {
		return nil, err
	}
	if err := s.Tests.RefreshDerivedCounts(q.TestID); err != nil {
		logger.Log.Warn("derived count refresh failed", zap.Uint("testID", q.TestID), zap.Error(err))
	}
	return s.Questions.FindByID(q.ID)
}

func (s *TestService) DeleteQuestion(questionID, actorID uint, role model.UserRole) error {
	q, err := s.Questions.FindByID(questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrQuestionNotInTest
		}
		return err
	}
	if _, err := s.ownedTest(q.TestID, actorID, role); err != nil {
		return err
	}
	if err := s.Questions.Delete(questionID); err != nil {
		return err
	}
	return s.Tests.RefreshDerivedCounts(q.TestID)
}

// AttemptReview is a mentor's view of one finished attempt: the attempt row,
// every answer with grading, and the violation trail.
type AttemptReview struct {
	Attempt    *model.TestAttempt    `json:"attempt"`
	Answers    []model.AttemptAnswer `json:"answers"`
	Violations []model.Violation     `json:"violations"`
}

func (s *TestService) ReviewAttempt(attemptID, actorID uint, role model.UserRole) (*AttemptReview, error) {
	attempt, err := s.Attempts.FindByID(attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAttemptNotFound
		}
		return nil, err
	}
	if _, err := s.ownedTest(attempt.TestID, actorID, role); err != nil {
		return nil, err
	}

	answers, err := s.Answers.ListByAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	violations, err := s.Traces.ListByAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	return &AttemptReview{Attempt: attempt, Answers: answers, Violations: violations}, nil
}

func (s *TestService) ListAttemptsByTest(testID, actorID uint, role model.UserRole, page, limit int) ([]model.TestAttempt, int64, error) {
	if _, err := s.ownedTest(testID, actorID, role); err != nil {
		return nil, 0, err
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Attempts.ListByTest(testID, page, limit)
}

func (s *TestService) ListFlaggedAttempts(role model.UserRole, page, limit int) ([]model.TestAttempt, int64, error) {
	if role != model.Admin && role != model.Mentor {
		return nil, 0, util.ErrPermissionDenied
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Attempts.ListFlagged(page, limit)
}

// ownedTest loads the test and enforces that the actor created it or is an
// admin.
func (s *TestService) ownedTest(testID, actorID uint, role model.UserRole) (*model.Test, error) {
	test, err := s.Tests.FindByID(testID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrTestNotFound
		}
		return nil, err
	}
	if role != model.Admin && test.CreatorID != actorID {
		return nil, util.ErrPermissionDenied
	}
	return test, nil
}

func validateQuestion(q *model.Question) error {
	if q.Prompt == "" {
		return fmt.Errorf("question prompt is required")
	}
	if q.Marks <= 0 {
		return fmt.Errorf("question marks must be positive")
	}
	if q.NegativeMarks < 0 {
		return fmt.Errorf("negative marks cannot be negative")
	}

	correct := 0
	for _, o := range q.Options {
		if o.IsCorrect {
			correct++
		}
	}

	switch q.Type {
	case model.SingleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("single choice questions need at least two options")
		}
		if correct != 1 {
			return fmt.Errorf("single choice questions need exactly one correct option")
		}
	case model.MultipleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("multiple choice questions need at least two options")
		}
		if correct < 1 {
			return fmt.Errorf("multiple choice questions need at least one correct option")
		}
	case model.TrueFalse:
		if len(q.Options) != 2 {
			return fmt.Errorf("true/false questions need exactly two options")
		}
		if correct != 1 {
			return fmt.Errorf("true/false questions need exactly one correct option")
		}
	case model.Numeric:
		if q.AnswerText == "" {
			return fmt.Errorf("numeric questions need an expected value")
		}
		if _, err := strconv.ParseFloat(q.AnswerText, 64); err != nil {
			return fmt.Errorf("numeric expected value must parse as a number")
		}
		if len(q.Options) > 0 {
			return fmt.Errorf("numeric questions do not take options")
		}
	default:
		return fmt.Errorf("unknown question type %q", q.Type)
	}
	return nil
}
