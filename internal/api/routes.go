package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"admitHub/internal/api/middleware"
	"admitHub/internal/auth"
	"admitHub/internal/catalog"
	"admitHub/internal/config"
	"admitHub/internal/engine"
	"admitHub/internal/enrollment"
	"admitHub/internal/interview"
	"admitHub/internal/payment"
	"admitHub/internal/storage"
	"admitHub/internal/submission"
)

// Dependencies 汇聚路由注册所需的全部依赖。
type Dependencies struct {
	DB              *gorm.DB
	Config          *config.Config
	AuthService     *auth.AuthService
	Engine          *engine.Engine
	Catalog         *catalog.Store
	Submissions     *submission.Store
	Ledger          *payment.Ledger
	Deferrals       *enrollment.Service
	Storage         *storage.Client
	InterviewClient *interview.Client
	AsynqClient     *asynq.Client
	RedisClient     redis.UniversalClient
	Logger          *slog.Logger
}

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	authHandler := NewAuthHandler(deps.DB, deps.AuthService, deps.Engine, deps.RedisClient, deps.Logger,
		10, 5, 15*time.Minute, "")
	applicationHandler := NewApplicationHandler(deps.DB, deps.Engine, deps.Catalog, deps.Submissions,
		deps.Ledger, deps.Storage, deps.InterviewClient, deps.Logger, deps.Config.API.ClamdAddr)
	submissionHandler := NewSubmissionHandler(deps.Submissions, deps.Engine)
	runHandler := NewRunHandler(deps.DB, deps.Catalog)
	adminHandler := NewAdminHandler(deps.Engine, deps.Catalog, deps.Deferrals, deps.AsynqClient)
	webhookHandler := NewWebhookHandler(deps.DB, deps.Ledger)
	letterHandler := NewLetterHandler(deps.DB)
	wsHandler := NewWsHandler(deps.RedisClient, deps.AuthService, deps.Logger, deps.Config.API.AllowedOrigins)

	authMiddleware := middleware.AuthMiddleware(deps.AuthService)
	staffOnly := middleware.RequireStaffMiddleware()
	webhookToken := middleware.WebhookTokenMiddleware(deps.Config.API.WebhookToken)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)
		v1.GET("/letters/:token", letterHandler.GetByToken)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		meGroup := v1.Group("/me")
		meGroup.Use(authMiddleware)
		{
			meGroup.GET("", authHandler.GetProfile)
			meGroup.PUT("", authHandler.UpdateProfile)
			meGroup.POST("/email-change", authHandler.RequestEmailChange)
			meGroup.POST("/email-change/confirm", authHandler.ConfirmEmailChange)
		}

		runGroup := v1.Group("/runs")
		runGroup.Use(authMiddleware)
		{
			runGroup.GET("/available", runHandler.ListAvailable)
			runGroup.GET("/:id/steps", runHandler.ListSteps)
		}

		appGroup := v1.Group("/applications")
		appGroup.Use(authMiddleware)
		{
			appGroup.POST("", applicationHandler.Create)
			appGroup.GET("", applicationHandler.List)
			appGroup.GET("/:id", applicationHandler.Get)
			appGroup.POST("/:id/resume", applicationHandler.UploadResume)
			appGroup.GET("/:id/resume", applicationHandler.DownloadResume)
			appGroup.POST("/:id/submissions", applicationHandler.SubmitArtifact)
			appGroup.GET("/:id/submissions", applicationHandler.ListSubmissions)
			appGroup.POST("/:id/order", applicationHandler.CreateOrder)
		}

		reviewGroup := v1.Group("/submissions")
		reviewGroup.Use(authMiddleware, staffOnly)
		{
			reviewGroup.GET("", submissionHandler.ListForReview)
			reviewGroup.GET("/:id", submissionHandler.Get)
			reviewGroup.PATCH("/:id", submissionHandler.Review)
		}

		adminGroup := v1.Group("/admin")
		adminGroup.Use(authMiddleware, staffOnly)
		{
			adminGroup.POST("/applications/:id/migrate", adminHandler.Migrate)
			adminGroup.POST("/applications/:id/reset-interview", adminHandler.ResetInterview)
			adminGroup.POST("/enrollments/defer", adminHandler.Defer)
			adminGroup.PUT("/personal-prices", adminHandler.SetPersonalPrice)
			adminGroup.DELETE("/personal-prices", adminHandler.DeletePersonalPrice)
			adminGroup.POST("/runs/:id/bulk-enroll", adminHandler.BulkEnroll)
			adminGroup.POST("/runs/:id/steps", adminHandler.CreateRunStep)
		}

		webhookGroup := v1.Group("/webhooks")
		webhookGroup.Use(webhookToken)
		{
			webhookGroup.PUT("/interview/:external_id", webhookHandler.InterviewCallback)
			webhookGroup.POST("/payment", webhookHandler.PaymentCallback)
		}
	}
}
