package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"admitHub/internal/api/middleware"
	"admitHub/internal/catalog"
	"admitHub/internal/engine"
	"admitHub/internal/enrollment"
	"admitHub/internal/tasks"
)

// AdminHandler 处理教务侧的跨期迁移、顺延、定价与面试重置。
type AdminHandler struct {
	eng         *engine.Engine
	catalog     *catalog.Store
	deferrals   *enrollment.Service
	asynqClient *asynq.Client
}

// NewAdminHandler 构造管理处理器。
func NewAdminHandler(eng *engine.Engine, catalogStore *catalog.Store, deferrals *enrollment.Service, asynqClient *asynq.Client) *AdminHandler {
	return &AdminHandler{
		eng:         eng,
		catalog:     catalogStore,
		deferrals:   deferrals,
		asynqClient: asynqClient,
	}
}

type migrateRequest struct {
	TargetRunID uint `json:"target_run_id" binding:"required"`
	Force       bool `json:"force"`
}

// Migrate 把已获批准的申请迁移到另一期。
func (h *AdminHandler) Migrate(c *gin.Context) {
	appID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid application id")
		return
	}

	var req migrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	logger := middleware.LoggerFromContext(c)

	target, err := h.eng.Migrate(c.Request.Context(), uint(appID), req.TargetRunID, req.Force)
	if err != nil {
		FromError(c, err)
		return
	}

	logger.Info("application migrated",
		slog.Uint64("source_application_id", appID),
		slog.Uint64("target_application_id", uint64(target.ID)),
		slog.String("state", target.State),
	)
	c.JSON(http.StatusOK, toApplicationResponse(target))
}

type deferRequest struct {
	UserID    uint `json:"user_id" binding:"required"`
	FromRunID uint `json:"from_run_id" binding:"required"`
	ToRunID   uint `json:"to_run_id" binding:"required"`
	OrderID   uint `json:"order_id" binding:"required"`
	Force     bool `json:"force"`
}

// Defer 把报名从一期顺延到另一期。
func (h *AdminHandler) Defer(c *gin.Context) {
	var req deferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	logger := middleware.LoggerFromContext(c)

	err := h.deferrals.Defer(c.Request.Context(), req.UserID, req.FromRunID, req.ToRunID, req.OrderID, req.Force)
	if err != nil {
		FromError(c, err)
		return
	}

	logger.Info("enrollment deferred",
		slog.Uint64("user_id", uint64(req.UserID)),
		slog.Uint64("from_run_id", uint64(req.FromRunID)),
		slog.Uint64("to_run_id", uint64(req.ToRunID)),
	)
	c.Status(http.StatusOK)
}

type personalPriceRequest struct {
	UserID      uint  `json:"user_id" binding:"required"`
	RunID       uint  `json:"run_id" binding:"required"`
	AmountCents int64 `json:"amount_cents"`
}

// SetPersonalPrice 设置专属价并让处于付款环节的申请重新结算。
func (h *AdminHandler) SetPersonalPrice(c *gin.Context) {
	var req personalPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.AmountCents < 0 {
		BadRequest(c, "amount_cents must not be negative")
		return
	}

	ctx := c.Request.Context()
	if err := h.catalog.SetPersonalPrice(ctx, req.UserID, req.RunID, req.AmountCents); err != nil {
		FromError(c, err)
		return
	}
	if err := h.eng.ReapplyPricing(ctx, req.UserID, req.RunID); err != nil {
		FromError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type personalPriceDeleteRequest struct {
	UserID uint `json:"user_id" binding:"required"`
	RunID  uint `json:"run_id" binding:"required"`
}

// DeletePersonalPrice 移除专属价并恢复标准价结算。
func (h *AdminHandler) DeletePersonalPrice(c *gin.Context) {
	var req personalPriceDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := h.catalog.DeletePersonalPrice(ctx, req.UserID, req.RunID); err != nil {
		FromError(c, err)
		return
	}
	if err := h.eng.ReapplyPricing(ctx, req.UserID, req.RunID); err != nil {
		FromError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// ResetInterview 清除申请下的视频面试提交，等待重新邀约。
func (h *AdminHandler) ResetInterview(c *gin.Context) {
	appID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid application id")
		return
	}

	logger := middleware.LoggerFromContext(c)

	app, err := h.eng.ResetInterviewState(c.Request.Context(), uint(appID))
	if err != nil {
		FromError(c, err)
		return
	}

	logger.Info("interview state reset",
		slog.Uint64("application_id", appID),
		slog.String("state", app.State),
	)
	c.JSON(http.StatusOK, toApplicationResponse(app))
}

type bulkEnrollRequest struct {
	UserIDs []uint `json:"user_ids" binding:"required,min=1"`
}

// BulkEnroll 异步把一批用户注册到外部课程平台。
func (h *AdminHandler) BulkEnroll(c *gin.Context) {
	runID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid run id")
		return
	}

	var req bulkEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	run, err := h.catalog.GetRun(ctx, uint(runID))
	if err != nil {
		FromError(c, err)
		return
	}
	if run.ExternalCourseKey == "" {
		Conflict(c, "run has no external course key")
		return
	}

	task, err := tasks.NewPlatformBulkEnrollTask(req.UserIDs, run.ID, middleware.GetCorrelationID(c))
	if err != nil {
		Internal(c, "internal error")
		return
	}
	if _, err := h.asynqClient.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		Internal(c, "failed to enqueue bulk enroll")
		return
	}

	c.Status(http.StatusAccepted)
}

type createRunStepRequest struct {
	StepID uint       `json:"step_id" binding:"required"`
	DueAt  *time.Time `json:"due_at"`
}

// CreateRunStep 把训练营的步骤模板落到具体一期。
func (h *AdminHandler) CreateRunStep(c *gin.Context) {
	runID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid run id")
		return
	}

	var req createRunStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	runStep, err := h.catalog.CreateRunStep(c.Request.Context(), uint(runID), req.StepID, req.DueAt)
	if err != nil {
		FromError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      runStep.ID,
		"run_id":  runStep.RunID,
		"step_id": runStep.StepID,
		"due_at":  runStep.DueAt,
	})
}
