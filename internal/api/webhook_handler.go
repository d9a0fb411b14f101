package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"admitHub/internal/api/middleware"
	"admitHub/internal/database"
	"admitHub/internal/payment"
)

// WebhookHandler 处理外部服务回调：面试进度与支付结果。
type WebhookHandler struct {
	db     *gorm.DB
	ledger *payment.Ledger
}

// NewWebhookHandler 构造回调处理器。
func NewWebhookHandler(db *gorm.DB, ledger *payment.Ledger) *WebhookHandler {
	return &WebhookHandler{db: db, ledger: ledger}
}

var validInterviewStatuses = map[string]bool{
	database.InterviewPending:   true,
	database.InterviewStarted:   true,
	database.InterviewCompleted: true,
	database.InterviewExpired:   true,
}

type interviewCallbackRequest struct {
	Status     string `json:"status" binding:"required"`
	ResultsURL string `json:"results_url"`
}

// InterviewCallback 接收面试服务商的状态回写。回调以外部 ID 寻址，
// 幂等：重复回写同一状态不会报错。
func (h *WebhookHandler) InterviewCallback(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))
	if externalID == "" {
		BadRequest(c, "missing interview id")
		return
	}

	var req interviewCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if !validInterviewStatuses[req.Status] {
		BadRequest(c, "unknown interview status")
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	var vi database.VideoInterview
	if err := h.db.WithContext(ctx).Where("external_id = ?", externalID).First(&vi).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "interview not found")
			return
		}
		Internal(c, "internal error")
		return
	}

	update := map[string]any{"status": req.Status}
	if req.ResultsURL != "" {
		update["results_url"] = req.ResultsURL
	}
	if err := h.db.WithContext(ctx).Model(&vi).Updates(update).Error; err != nil {
		logger.Error("update interview failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("interview callback applied",
		slog.String("external_id", externalID),
		slog.String("status", req.Status),
	)
	c.Status(http.StatusOK)
}

type paymentCallbackRequest struct {
	OrderID        uint  `json:"order_id" binding:"required"`
	TotalPaidCents int64 `json:"total_paid_cents"`
}

// PaymentCallback 接收支付网关的成交通知，驱动申请向 complete 推进。
func (h *WebhookHandler) PaymentCallback(c *gin.Context) {
	var req paymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	logger := middleware.LoggerFromContext(c)

	app, err := h.ledger.RecordFulfilled(c.Request.Context(), req.OrderID, req.TotalPaidCents)
	if err != nil {
		FromError(c, err)
		return
	}

	logger.Info("payment recorded",
		slog.Uint64("order_id", uint64(req.OrderID)),
		slog.Uint64("application_id", uint64(app.ID)),
		slog.String("state", app.State),
	)
	c.JSON(http.StatusOK, gin.H{"application_id": app.ID, "state": app.State})
}
