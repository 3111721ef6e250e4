package service

import (
	"context"
	"examdesk_backend/internal/model"
	"examdesk_backend/internal/repository"
	"examdesk_backend/pkg/logger"
	"math"

	"go.uber.org/zap"
)

const passBonusXP = 25

// XPStore is the slice of the user repository the notifier needs.
type XPStore interface {
	AddXP(userID uint, amount int) error
}

// Scoreboard publishes finalized scores to the ranked leaderboards.
type Scoreboard interface {
	AddScore(ctx context.Context, testID, userID uint, score float64) error
	Top(ctx context.Context, testID uint, limit int) ([]repository.LeaderboardEntry, error)
}

// NotifierService reacts to finalized attempts: it awards XP and pushes the
// score onto the Redis leaderboards. Both are best effort side channels off
// the submission path.
type NotifierService struct {
	users XPStore
	board Scoreboard
}

func NewNotifierService(users XPStore, board Scoreboard) *NotifierService {
	return &NotifierService{users: users, board: board}
}

// AttemptFinalized implements ResultNotifier. XP is the rounded obtained
// marks plus a flat bonus for passing; flagged attempts earn nothing.
func (n *NotifierService) AttemptFinalized(ctx context.Context, attempt *model.TestAttempt) {
	if attempt == nil || !attempt.Terminal() {
		return
	}
	if attempt.Flagged {
		logger.Log.Info("flagged attempt earns no rewards",
			zap.Uint("attemptID", attempt.ID), zap.String("reason", attempt.FlagReason))
		return
	}

	xp := int(math.Round(attempt.ObtainedMarks))
	if attempt.Passed {
		xp += passBonusXP
	}
	if xp > 0 {
		if err := n.users.AddXP(attempt.UserID, xp); err != nil {
			logger.Log.Warn("xp award failed",
				zap.Uint("userID", attempt.UserID), zap.Int("xp", xp), zap.Error(err))
		}
	}

	if n.board != nil {
		if err := n.board.AddScore(ctx, attempt.TestID, attempt.UserID, attempt.ObtainedMarks); err != nil {
			logger.Log.Warn("leaderboard update failed",
				zap.Uint("testID", attempt.TestID),
				zap.Uint("userID", attempt.UserID),
				zap.Error(err))
		}
	}
}

// Leaderboard returns the top entries for one test, or the global board when
// testID is zero.
func (n *NotifierService) Leaderboard(ctx context.Context, testID uint, limit int) ([]repository.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return n.board.Top(ctx, testID, limit)
}
