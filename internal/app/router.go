package app

import (
	"examdesk_backend/docs"
	"examdesk_backend/internal/config"
	"examdesk_backend/internal/middleware"
	"examdesk_backend/internal/model"
	"examdesk_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/auth/register", c.auth.Register)
		public.POST("/auth/login", c.auth.Login)
	}

	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		authGroup.GET("/auth/profile", c.auth.Profile)

		// Taker surface
		authGroup.GET("/tests", c.test.List)
		authGroup.GET("/tests/:testId", c.test.Get)
		authGroup.POST("/tests/:testId/attempts", c.attempt.Start)
		authGroup.PUT("/attempts/:attemptId/answers", c.attempt.Answer)
		authGroup.PUT("/attempts/:attemptId/review", c.attempt.ToggleReview)
		authGroup.POST("/attempts/:attemptId/violations", c.attempt.ReportViolation)
		authGroup.GET("/attempts/:attemptId/time", c.attempt.TimeRemaining)
		authGroup.POST("/attempts/:attemptId/submit", c.attempt.Submit)
		authGroup.GET("/attempts/:attemptId/results", c.attempt.Results)
		authGroup.GET("/my/attempts", c.leaderboard.MyAttempts)
		authGroup.GET("/leaderboard", c.leaderboard.Top)

		// Mentor surface
		mentor := authGroup.Group("")
		mentor.Use(middleware.RoleMiddleware(model.Mentor))
		{
			mentor.POST("/tests", c.test.Create)
			mentor.PUT("/tests/:testId", c.test.Update)
			mentor.DELETE("/tests/:testId", c.test.Delete)
			mentor.POST("/tests/:testId/publish", c.test.Publish)
			mentor.POST("/tests/:testId/unpublish", c.test.Unpublish)
			mentor.POST("/tests/:testId/questions", c.test.AddQuestion)
			mentor.PUT("/questions/:questionId", c.test.UpdateQuestion)
			mentor.DELETE("/questions/:questionId", c.test.DeleteQuestion)
			mentor.GET("/tests/:testId/attempts/list", c.test.ListAttempts)
			mentor.GET("/mentor/flagged-attempts", c.test.ListFlagged)
			mentor.GET("/mentor/attempts/:attemptId", c.test.ReviewAttempt)
		}
	}
}
