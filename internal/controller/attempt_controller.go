package controller

import (
	"encoding/json"
	"errors"
	"examdesk_backend/internal/model"
	"examdesk_backend/internal/service"
	"examdesk_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// AttemptController exposes the taker-facing attempt lifecycle: start or
// resume, answer, mark for review, report violations, check the clock,
// submit, and read results.
type AttemptController struct {
	Sessions *service.SessionService
	Monitor  *service.MonitorService
}

func NewAttemptController(sessions *service.SessionService, monitor *service.MonitorService) *AttemptController {
	return &AttemptController{Sessions: sessions, Monitor: monitor}
}

// Start godoc
// @Summary Start or resume a test attempt
// @Description Opens the attempt session. An in-progress attempt is resumed with its remaining time and saved answers.
// @Tags attempts
// @Produce  json
// @Security BearerAuth
// @Param   testId path int true "Test ID"
// @Success 200 {object} util.Response{data=service.StartResult}
// @Failure 404 {object} util.Response "Test not published"
// @Failure 422 {object} util.Response "Test has no questions"
// @Router /api/tests/{testId}/attempts [post]
func (c *AttemptController) Start(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	testID, err := util.ParseUintParam(ctx.Param("testId"))
	if err != nil {
		util.BadRequest(ctx, "invalid test id")
		return
	}

	result, err := c.Sessions.Start(ctx.Request.Context(), testID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrTestNotPublished):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrTestHasNoQuestions):
			util.Error(ctx, 422, err.Error())
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, result)
}

// AnswerRequest carries one answer save
// swagger:model AnswerRequest
type AnswerRequest struct {
	SessionToken     string `json:"sessionToken" binding:"required"`
	QuestionID       uint   `json:"questionId" binding:"required"`
	OptionIDs        []uint `json:"optionIds"`
	Value            string `json:"value"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
}

// Answer godoc
// @Summary Save an answer
// @Description Merges the selection into the attempt. Last write wins per question.
// @Tags attempts
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   attemptId path int true "Attempt ID"
// @Param   body body AnswerRequest true "Answer payload"
// @Success 200 {object} util.Response{data=model.AttemptAnswer}
// @Failure 409 {object} util.Response "Attempt finished or session superseded"
// @Router /api/attempts/{attemptId}/answers [put]
func (c *AttemptController) Answer(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	attemptID, err := util.ParseUintParam(ctx.Param("attemptId"))
	if err != nil {
		util.BadRequest(ctx, "invalid attempt id")
		return
	}

	var req AnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	sel := service.Selection{OptionIDs: req.OptionIDs, Value: req.Value}
	answer, err := c.Sessions.RecordAnswer(attemptID, claims.UserID, req.SessionToken, req.QuestionID, sel, req.TimeSpentSeconds)
	if err != nil {
		c.attemptError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// ReviewRequest toggles the review flag
// swagger:model ReviewRequest
type ReviewRequest struct {
	SessionToken string `json:"sessionToken" binding:"required"`
	QuestionID   uint   `json:"questionId" binding:"required"`
}

// ToggleReview godoc
// @Summary Toggle marked-for-review on a question
// @Tags attempts
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   attemptId path int true "Attempt ID"
// @Param   body body ReviewRequest true "Review payload"
// @Success 200 {object} util.Response{data=model.AttemptAnswer}
// @Router /api/attempts/{attemptId}/review [put]
func (c *AttemptController) ToggleReview(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	attemptID, err := util.ParseUintParam(ctx.Param("attemptId"))
	if err != nil {
		util.BadRequest(ctx, "invalid attempt id")
		return
	}

	var req ReviewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	answer, err := c.Sessions.ToggleReview(attemptID, claims.UserID, req.SessionToken, req.QuestionID)
	if err != nil {
		c.attemptError(ctx, err)
		return
	}
	util.Success(ctx, answer)
}

// ViolationRequest reports one proctoring event
// swagger:model ViolationRequest
type ViolationRequest struct {
	SessionToken string          `json:"sessionToken" binding:"required"`
	Type         string          `json:"type" binding:"required"`
	Detail       json.RawMessage `json:"detail"`
}

// ReportViolation godoc
// @Summary Report a proctoring violation
// @Description Records the event and returns the enforcement action. Crossing the tab switch limit auto-submits the attempt.
// @Tags attempts
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   attemptId path int true "Attempt ID"
// @Param   body body ViolationRequest true "Violation payload"
// @Success 200 {object} util.Response{data=service.ViolationAck}
// @Failure 400 {object} util.Response "Unknown violation type"
// @Router /api/attempts/{attemptId}/violations [post]
func (c *AttemptController) ReportViolation(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	attemptID, err := util.ParseUintParam(ctx.Param("attemptId"))
	if err != nil {
		util.BadRequest(ctx, "invalid attempt id")
		return
	}

	var req ViolationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	ack, err := c.Monitor.Report(ctx.Request.Context(), attemptID, claims.UserID, req.SessionToken, model.ViolationType(req.Type), req.Detail)
	if err != nil {
		if errors.Is(err, util.ErrUnknownViolationType) {
			util.BadRequest(ctx, err.Error())
			return
		}
		c.attemptError(ctx, err)
		return
	}
	util.Success(ctx, ack)
}

// TimeRemaining godoc
// @Summary Seconds left on the attempt clock
// @Tags attempts
// @Produce  json
// @Security BearerAuth
// @Param   attemptId path int true "Attempt ID"
// @Success 200 {object} util.Response{data=object}
// @Router /api/attempts/{attemptId}/time [get]
func (c *AttemptController) TimeRemaining(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	attemptID, err := util.ParseUintParam(ctx.Param("attemptId"))
	if err != nil {
		util.BadRequest(ctx, "invalid attempt id")
		return
	}

	seconds, err := c.Sessions.TimeRemaining(attemptID, claims.UserID)
	if err != nil {
		c.attemptError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"remainingSeconds": seconds})
}

// SubmitRequest finalizes the attempt
// swagger:model SubmitRequest
type SubmitRequest struct {
	SessionToken string `json:"sessionToken" binding:"required"`
}

// Submit godoc
// @Summary Submit the attempt
// @Description Finalizes and scores the attempt. Repeated submits return the already-scored attempt.
// @Tags attempts
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   attemptId path int true "Attempt ID"
// @Param   body body SubmitRequest true "Submit payload"
// @Success 200 {object} util.Response{data=model.TestAttempt}
// @Failure 409 {object} util.Response "Session superseded"
// @Router /api/attempts/{attemptId}/submit [post]
func (c *AttemptController) Submit(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	attemptID, err := util.ParseUintParam(ctx.Param("attemptId"))
	if err != nil {
		util.BadRequest(ctx, "invalid attempt id")
		return
	}

	var req SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	attempt, err := c.Sessions.Submit(ctx.Request.Context(), attemptID, claims.UserID, req.SessionToken, model.TriggerManual)
	if err != nil {
		c.attemptError(ctx, err)
		return
	}
	util.Success(ctx, attempt)
}

// Results godoc
// @Summary Results of a finished attempt
// @Tags attempts
// @Produce  json
// @Security BearerAuth
// @Param   attemptId path int true "Attempt ID"
// @Success 200 {object} util.Response{data=service.AttemptResult}
// @Failure 409 {object} util.Response "Attempt still in progress"
// @Router /api/attempts/{attemptId}/results [get]
func (c *AttemptController) Results(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	attemptID, err := util.ParseUintParam(ctx.Param("attemptId"))
	if err != nil {
		util.BadRequest(ctx, "invalid attempt id")
		return
	}

	result, err := c.Sessions.Results(attemptID, claims.UserID)
	if err != nil {
		c.attemptError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

func (c *AttemptController) attemptError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrAttemptNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.Is(err, util.ErrSessionSuperseded),
		errors.Is(err, util.ErrAttemptNotActive),
		errors.Is(err, util.ErrAttemptAlreadyFinalized):
		util.Conflict(ctx, err.Error())
	case errors.Is(err, util.ErrQuestionNotInTest):
		util.BadRequest(ctx, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}
