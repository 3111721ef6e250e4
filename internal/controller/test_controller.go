package controller

import (
	"errors"
	"examdesk_backend/internal/model"
	"examdesk_backend/internal/service"
	"examdesk_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

// TestController is the mentor authoring surface: tests, questions,
// publishing, and attempt review.
type TestController struct {
	TestService *service.TestService
}

func NewTestController(testService *service.TestService) *TestController {
	return &TestController{TestService: testService}
}

// TestRequest carries test creation and update fields
// swagger:model TestRequest
type TestRequest struct {
	Title              string                `json:"title" binding:"required"`
	Description        string                `json:"description"`
	SubjectID          uint                  `json:"subjectId"`
	TopicID            uint                  `json:"topicId"`
	DurationSeconds    int                   `json:"durationSeconds" binding:"required,min=1"`
	PassPercentage     float64               `json:"passPercentage"`
	AllowBacktracking  bool                  `json:"allowBacktracking"`
	AllowReviewMarking bool                  `json:"allowReviewMarking"`
	ShuffleQuestions   bool                  `json:"shuffleQuestions"`
	AntiCheat          model.AntiCheatPolicy `json:"antiCheat"`
}

func (r *TestRequest) toModel() *model.Test {
	return &model.Test{
		Title:              r.Title,
		Description:        r.Description,
		SubjectID:          r.SubjectID,
		TopicID:            r.TopicID,
		DurationSeconds:    r.DurationSeconds,
		PassPercentage:     r.PassPercentage,
		AllowBacktracking:  r.AllowBacktracking,
		AllowReviewMarking: r.AllowReviewMarking,
		ShuffleQuestions:   r.ShuffleQuestions,
		AntiCheat:          r.AntiCheat,
	}
}

// Create godoc
// @Summary Create a test
// @Tags tests
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   body body TestRequest true "Test payload"
// @Success 201 {object} util.Response{data=model.Test}
// @Failure 400 {object} util.Response "Invalid payload"
// @Router /api/tests [post]
func (c *TestController) Create(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)

	var req TestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	test := req.toModel()
	if err := c.TestService.CreateTest(test, claims.UserID); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	util.Created(ctx, test)
}

// Update godoc
// @Summary Update a test
// @Tags tests
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   testId path int true "Test ID"
// @Param   body body TestRequest true "Test payload"
// @Success 200 {object} util.Response{data=model.Test}
// @Router /api/tests/{testId} [put]
func (c *TestController) Update(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	testID, err := util.ParseUintParam(ctx.Param("testId"))
	if err != nil {
		util.BadRequest(ctx, "invalid test id")
		return
	}

	var req TestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	test, err := c.TestService.UpdateTest(testID, claims.UserID, claims.Role, req.toModel())
	if err != nil {
		c.testError(ctx, err)
		return
	}
	util.Success(ctx, test)
}

// Delete godoc
// @Summary Delete a test
// @Tags tests
// @Security BearerAuth
// @Param   testId path int true "Test ID"
// @Success 200 {object} util.Response
// @Router /api/tests/{testId} [delete]
func (c *TestController) Delete(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	testID, err := util.ParseUintParam(ctx.Param("testId"))
	if err != nil {
		util.BadRequest(ctx, "invalid test id")
		return
	}

	if err := c.TestService.DeleteTest(testID, claims.UserID, claims.Role); err != nil {
		c.testError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// Get godoc
// @Summary Fetch one test
// @Tags tests
// @Produce  json
// @Security BearerAuth
// @Param   testId path int true "Test ID"
// @Success 200 {object} util.Response{data=model.Test}
// @Router /api/tests/{testId} [get]
func (c *TestController) Get(ctx *gin.Context) {
	testID, err := util.ParseUintParam(ctx.Param("testId"))
	if err != nil {
		util.BadRequest(ctx, "invalid test id")
		return
	}

	test, err := c.TestService.GetTest(testID)
	if err != nil {
		c.testError(ctx, err)
		return
	}
	util.Success(ctx, test)
}

// List godoc
// @Summary List tests
// @Description Students see published tests only; mentors see everything.
// @Tags tests
// @Produce  json
// @Security BearerAuth
// @Param   subjectId query int false "Filter by subject"
// @Param   page query int false "Page"
// @Param   limit query int false "Page size"
// @Success 200 {object} util.Response{data=object}
// @Router /api/tests [get]
func (c *TestController) List(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	subjectID, _ := strconv.ParseUint(ctx.Query("subjectId"), 10, 32)
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	publishedOnly := claims.Role == model.Student
	tests, total, err := c.TestService.ListTests(uint(subjectID), publishedOnly, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"tests": tests, "total": total, "page": page, "limit": limit})
}

// Publish godoc
// @Summary Publish a test
// @Description Recomputes totals and opens the test to takers. Fails when the test has no questions or zero marks.
// @Tags tests
// @Produce  json
// @Security BearerAuth
// @Param   testId path int true "Test ID"
// @Success 200 {object} util.Response{data=model.Test}
// @Failure 422 {object} util.Response "Not publishable"
// @Router /api/tests/{testId}/publish [post]
func (c *TestController) Publish(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	testID, err := util.ParseUintParam(ctx.Param("testId"))
	if err != nil {
		util.BadRequest(ctx, "invalid test id")
		return
	}

	test, err := c.TestService.Publish(testID, claims.UserID, claims.Role)
	if err != nil {
		if errors.Is(err, util.ErrTestHasNoQuestions) || errors.Is(err, util.ErrScoreNotComputable) {
			util.Error(ctx, 422, err.Error())
			return
		}
		c.testError(ctx, err)
		return
	}
	util.Success(ctx, test)
}

// Unpublish godoc
// @Summary Unpublish a test
// @Tags tests
// @Security BearerAuth
// @Param   testId path int true "Test ID"
// @Success 200 {object} util.Response
// @Router /api/tests/{testId}/unpublish [post]
func (c *TestController) Unpublish(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	testID, err := util.ParseUintParam(ctx.Param("testId"))
	if err != nil {
		util.BadRequest(ctx, "invalid test id")
		return
	}

	if err := c.TestService.Unpublish(testID, claims.UserID, claims.Role); err != nil {
		c.testError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// QuestionRequest carries question authoring fields
// swagger:model QuestionRequest
type QuestionRequest struct {
	Type          string          `json:"type" binding:"required"`
	Prompt        string          `json:"prompt" binding:"required"`
	Marks         float64         `json:"marks" binding:"required"`
	NegativeMarks float64         `json:"negativeMarks"`
	AnswerText    string          `json:"answerText"`
	Explanation   string          `json:"explanation"`
	Order         int             `json:"order"`
	Options       []OptionRequest `json:"options"`
}

type OptionRequest struct {
	Text      string `json:"text" binding:"required"`
	IsCorrect bool   `json:"isCorrect"`
	Order     int    `json:"order"`
}

func (r *QuestionRequest) toModel() *model.Question {
	q := &model.Question{
		Type:          model.QuestionType(r.Type),
		Prompt:        r.Prompt,
		Marks:         r.Marks,
		NegativeMarks: r.NegativeMarks,
		AnswerText:    r.AnswerText,
		Explanation:   r.Explanation,
		Order:         r.Order,
	}
	for _, o := range r.Options {
		q.Options = append(q.Options, model.QuestionOption{
			Text:      o.Text,
			IsCorrect: o.IsCorrect,
			Order:     o.Order,
		})
	}
	return q
}

// AddQuestion godoc
// @Summary Add a question to a test
// @Tags tests
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   testId path int true "Test ID"
// @Param   body body QuestionRequest true "Question payload"
// @Success 201 {object} util.Response{data=model.Question}
// @Failure 400 {object} util.Response "Invalid question"
// @Router /api/tests/{testId}/questions [post]
func (c *TestController) AddQuestion(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	testID, err := util.ParseUintParam(ctx.Param("testId"))
	if err != nil {
		util.BadRequest(ctx, "invalid test id")
		return
	}

	var req QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	q, err := c.TestService.AddQuestion(testID, claims.UserID, claims.Role, req.toModel())
	if err != nil {
		c.questionError(ctx, err)
		return
	}
	util.Created(ctx, q)
}

// UpdateQuestion godoc
// @Summary Update a question
// @Tags tests
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   questionId path int true "Question ID"
// @Param   body body QuestionRequest true "Question payload"
// @Success 200 {object} util.Response{data=model.Question}
// @Router /api/questions/{questionId} [put]
func (c *TestController) UpdateQuestion(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	questionID, err := util.ParseUintParam(ctx.Param("questionId"))
	if err != nil {
		util.BadRequest(ctx, "invalid question id")
		return
	}

	var req QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	q, err := c.TestService.UpdateQuestion(questionID, claims.UserID, claims.Role, req.toModel())
	if err != nil {
		c.questionError(ctx, err)
		return
	}
	util.Success(ctx, q)
}

// DeleteQuestion godoc
// @Summary Delete a question
// @Tags tests
// @Security BearerAuth
// @Param   questionId path int true "Question ID"
// @Success 200 {object} util.Response
// @Router /api/questions/{questionId} [delete]
func (c *TestController) DeleteQuestion(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	questionID, err := util.ParseUintParam(ctx.Param("questionId"))
	if err != nil {
		util.BadRequest(ctx, "invalid question id")
		return
	}

	if err := c.TestService.DeleteQuestion(questionID, claims.UserID, claims.Role); err != nil {
		c.questionError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// ReviewAttempt godoc
// @Summary Full attempt review for mentors
// @Description Attempt, graded answers and the violation trail.
// @Tags tests
// @Produce  json
// @Security BearerAuth
// @Param   attemptId path int true "Attempt ID"
// @Success 200 {object} util.Response{data=service.AttemptReview}
// @Router /api/mentor/attempts/{attemptId} [get]
func (c *TestController) ReviewAttempt(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	attemptID, err := util.ParseUintParam(ctx.Param("attemptId"))
	if err != nil {
		util.BadRequest(ctx, "invalid attempt id")
		return
	}

	review, err := c.TestService.ReviewAttempt(attemptID, claims.UserID, claims.Role)
	if err != nil {
		c.testError(ctx, err)
		return
	}
	util.Success(ctx, review)
}

// ListAttempts godoc
// @Summary Attempts on one test
// @Tags tests
// @Produce  json
// @Security BearerAuth
// @Param   testId path int true "Test ID"
// @Param   page query int false "Page"
// @Param   limit query int false "Page size"
// @Success 200 {object} util.Response{data=object}
// @Router /api/tests/{testId}/attempts/list [get]
func (c *TestController) ListAttempts(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	testID, err := util.ParseUintParam(ctx.Param("testId"))
	if err != nil {
		util.BadRequest(ctx, "invalid test id")
		return
	}
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	attempts, total, err := c.TestService.ListAttemptsByTest(testID, claims.UserID, claims.Role, page, limit)
	if err != nil {
		c.testError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"attempts": attempts, "total": total, "page": page, "limit": limit})
}

// ListFlagged godoc
// @Summary Flagged attempts across all tests
// @Tags tests
// @Produce  json
// @Security BearerAuth
// @Param   page query int false "Page"
// @Param   limit query int false "Page size"
// @Success 200 {object} util.Response{data=object}
// @Router /api/mentor/flagged-attempts [get]
func (c *TestController) ListFlagged(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	attempts, total, err := c.TestService.ListFlaggedAttempts(claims.Role, page, limit)
	if err != nil {
		c.testError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"attempts": attempts, "total": total, "page": page, "limit": limit})
}

func (c *TestController) testError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrTestNotFound), errors.Is(err, util.ErrAttemptNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	default:
		util.LogInternalError(ctx, err)
	}
}

func (c *TestController) questionError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrTestNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrQuestionNotInTest):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	default:
		util.BadRequest(ctx, err.Error())
	}
}
