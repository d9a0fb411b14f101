package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"admitHub/internal/api/middleware"
	"admitHub/internal/database"
	"admitHub/internal/engine"
	"admitHub/internal/submission"
)

// SubmissionHandler 处理教务侧的提交物审核。
type SubmissionHandler struct {
	store *submission.Store
	eng   *engine.Engine
}

// NewSubmissionHandler 构造审核处理器。
func NewSubmissionHandler(store *submission.Store, eng *engine.Engine) *SubmissionHandler {
	return &SubmissionHandler{store: store, eng: eng}
}

type submissionResponse struct {
	ID            uint       `json:"id"`
	ApplicationID uint       `json:"application_id"`
	RunStepID     uint       `json:"run_step_id"`
	Kind          string     `json:"kind"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	ReviewStatus  string     `json:"review_status,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	Ordinal       int        `json:"ordinal,omitempty"`

	InvitationURL string `json:"invitation_url,omitempty"`
	ResultsURL    string `json:"results_url,omitempty"`
}

func toSubmissionResponse(sub *database.Submission) submissionResponse {
	resp := submissionResponse{
		ID:            sub.ID,
		ApplicationID: sub.ApplicationID,
		RunStepID:     sub.RunStepID,
		Kind:          sub.Kind,
		SubmittedAt:   sub.SubmittedAt,
		ReviewStatus:  sub.ReviewStatus,
		ReviewedAt:    sub.ReviewedAt,
	}
	if sub.RunStep.Step.ID != 0 {
		resp.Ordinal = sub.RunStep.Step.Ordinal
	}
	if sub.VideoInterview != nil {
		resp.InvitationURL = sub.VideoInterview.InvitationURL
		resp.ResultsURL = sub.VideoInterview.ResultsURL
	}
	return resp
}

// ListForReview 按过滤条件返回提交物，自然顺序排列。
// 支持 bootcamp_id、run_id、review_status、review_status__in 过滤。
func (h *SubmissionHandler) ListForReview(c *gin.Context) {
	var f submission.Filter

	if raw := c.Query("bootcamp_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			BadRequest(c, "invalid bootcamp_id")
			return
		}
		f.BootcampID = uint(id)
	}
	if raw := c.Query("run_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			BadRequest(c, "invalid run_id")
			return
		}
		f.RunID = uint(id)
	}
	if raw := c.Query("review_status"); raw != "" {
		f.ReviewStatuses = []string{raw}
	}
	if raw := c.Query("review_status__in"); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.TrimSpace(status); status != "" {
				f.ReviewStatuses = append(f.ReviewStatuses, status)
			}
		}
	}

	subs, err := h.store.ListForReview(c.Request.Context(), f)
	if err != nil {
		FromError(c, err)
		return
	}

	items := make([]submissionResponse, 0, len(subs))
	for i := range subs {
		items = append(items, toSubmissionResponse(&subs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Get 返回单份提交物。
func (h *SubmissionHandler) Get(c *gin.Context) {
	subID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid submission id")
		return
	}

	sub, err := h.store.Get(c.Request.Context(), uint(subID))
	if err != nil {
		FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubmissionResponse(sub))
}

type reviewRequest struct {
	ReviewStatus string `json:"review_status" binding:"required"`
}

// Review 写入审核结论并触发申请状态重算。
func (h *SubmissionHandler) Review(c *gin.Context) {
	subID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid submission id")
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	logger := middleware.LoggerFromContext(c)

	sub, err := h.eng.ReviewSubmission(c.Request.Context(), uint(subID), req.ReviewStatus)
	if err != nil {
		FromError(c, err)
		return
	}

	logger.Info("submission reviewed",
		slog.Uint64("submission_id", uint64(sub.ID)),
		slog.String("review_status", sub.ReviewStatus),
	)
	c.JSON(http.StatusOK, toSubmissionResponse(sub))
}
