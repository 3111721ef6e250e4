package controller

import (
	"examdesk_backend/internal/model"
	"examdesk_backend/internal/service"
	"examdesk_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type LeaderboardController struct {
	Notifier *service.NotifierService
	Attempts AttemptLister
}

// AttemptLister is the slice of the attempt repository the taker history
// endpoint needs.
type AttemptLister interface {
	ListByUser(userID uint, page, limit int) ([]model.TestAttempt, int64, error)
}

func NewLeaderboardController(notifier *service.NotifierService, attempts AttemptLister) *LeaderboardController {
	return &LeaderboardController{Notifier: notifier, Attempts: attempts}
}

// Top godoc
// @Summary Leaderboard
// @Description Top scores for one test, or globally when testId is omitted
// @Tags leaderboard
// @Produce  json
// @Security BearerAuth
// @Param   testId query int false "Test ID, 0 for global"
// @Param   limit query int false "Entries to return"
// @Success 200 {object} util.Response{data=object}
// @Router /api/leaderboard [get]
func (c *LeaderboardController) Top(ctx *gin.Context) {
	testID, _ := strconv.ParseUint(ctx.Query("testId"), 10, 32)
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "10"))

	entries, err := c.Notifier.Leaderboard(ctx.Request.Context(), uint(testID), limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"entries": entries})
}

// MyAttempts godoc
// @Summary The caller's attempt history
// @Tags leaderboard
// @Produce  json
// @Security BearerAuth
// @Param   page query int false "Page"
// @Param   limit query int false "Page size"
// @Success 200 {object} util.Response{data=object}
// @Router /api/my/attempts [get]
func (c *LeaderboardController) MyAttempts(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	attempts, total, err := c.Attempts.ListByUser(claims.UserID, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"attempts": attempts, "total": total, "page": page, "limit": limit})
}
