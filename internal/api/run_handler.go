package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"admitHub/internal/catalog"
	"admitHub/internal/database"
)

// RunHandler 暴露可报名的开班信息。
type RunHandler struct {
	db      *gorm.DB
	catalog *catalog.Store
}

// NewRunHandler 构造开班处理器。
func NewRunHandler(db *gorm.DB, catalogStore *catalog.Store) *RunHandler {
	return &RunHandler{db: db, catalog: catalogStore}
}

type runResponse struct {
	ID       uint       `json:"id"`
	Title    string     `json:"title"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// ListAvailable 返回当前用户可申请的开班。未开课、且用户尚未申请过的
// 才会出现；允许跳步的隐藏开班仅对有资格的用户可见。
func (h *RunHandler) ListAvailable(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		Unauthorized(c)
		return
	}

	runs, err := h.catalog.AvailableRuns(ctx, &user)
	if err != nil {
		FromError(c, err)
		return
	}

	items := make([]runResponse, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		items = append(items, runResponse{
			ID:       run.ID,
			Title:    catalog.DisplayTitle(run),
			StartsAt: run.StartsAt,
			EndsAt:   run.EndsAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type runStepResponse struct {
	ID      uint       `json:"id"`
	Ordinal int        `json:"ordinal"`
	Kind    string     `json:"kind"`
	DueAt   *time.Time `json:"due_at,omitempty"`
}

// ListSteps 返回某一期的步骤清单，按序号排列。
func (h *RunHandler) ListSteps(c *gin.Context) {
	runID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid run id")
		return
	}

	ctx := c.Request.Context()
	if _, err := h.catalog.GetRun(ctx, uint(runID)); err != nil {
		FromError(c, err)
		return
	}

	steps, err := h.catalog.RunStepsForRun(ctx, uint(runID))
	if err != nil {
		FromError(c, err)
		return
	}

	items := make([]runStepResponse, 0, len(steps))
	for _, rs := range steps {
		items = append(items, runStepResponse{
			ID:      rs.ID,
			Ordinal: rs.Step.Ordinal,
			Kind:    rs.Step.Kind,
			DueAt:   rs.DueAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
