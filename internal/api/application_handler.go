package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"admitHub/internal/api/middleware"
	"admitHub/internal/catalog"
	"admitHub/internal/database"
	"admitHub/internal/engine"
	"admitHub/internal/interview"
	"admitHub/internal/payment"
	"admitHub/internal/storage"
	"admitHub/internal/submission"
)

// 简历允许的扩展名。
var allowedResumeExtensions = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
}

// ApplicationHandler 处理申请创建、简历上传与材料提交。
type ApplicationHandler struct {
	db              *gorm.DB
	eng             *engine.Engine
	catalog         *catalog.Store
	submissions     *submission.Store
	ledger          *payment.Ledger
	storage         *storage.Client
	interviewClient *interview.Client
	logger          *slog.Logger
	clamdAddr       string
}

// NewApplicationHandler 构造申请处理器。
func NewApplicationHandler(
	db *gorm.DB,
	eng *engine.Engine,
	catalogStore *catalog.Store,
	submissions *submission.Store,
	ledger *payment.Ledger,
	storageClient *storage.Client,
	interviewClient *interview.Client,
	logger *slog.Logger,
	clamdAddr string,
) *ApplicationHandler {
	return &ApplicationHandler{
		db:              db,
		eng:             eng,
		catalog:         catalogStore,
		submissions:     submissions,
		ledger:          ledger,
		storage:         storageClient,
		interviewClient: interviewClient,
		logger:          logger,
		clamdAddr:       clamdAddr,
	}
}

type applicationResponse struct {
	ID            uint       `json:"id"`
	RunID         uint       `json:"run_id"`
	RunTitle      string     `json:"run_title,omitempty"`
	State         string     `json:"state"`
	HasResume     bool       `json:"has_resume"`
	LinkedInURL   string     `json:"linkedin_url,omitempty"`
	ResumeAt      *time.Time `json:"resume_uploaded_at,omitempty"`
	OrderID       *uint      `json:"order_id,omitempty"`
	PriceCents    *int64     `json:"price_cents,omitempty"`
	SubmissionIDs []uint     `json:"submission_ids,omitempty"`
}

func toApplicationResponse(app *database.Application) applicationResponse {
	resp := applicationResponse{
		ID:          app.ID,
		RunID:       app.RunID,
		State:       app.State,
		HasResume:   app.ResumeObjectKey != "" || app.LinkedInURL != "",
		LinkedInURL: app.LinkedInURL,
		ResumeAt:    app.ResumeUploadedAt,
		OrderID:     app.OrderID,
	}
	if app.Run.ID != 0 {
		resp.RunTitle = catalog.DisplayTitle(&app.Run)
	}
	for _, sub := range app.Submissions {
		resp.SubmissionIDs = append(resp.SubmissionIDs, sub.ID)
	}
	return resp
}

type createApplicationRequest struct {
	RunID uint `json:"run_id" binding:"required"`
}

// Create 为当前用户创建（或返回已有的）申请。
func (h *ApplicationHandler) Create(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	run, err := h.catalog.GetRun(ctx, req.RunID)
	if err != nil {
		FromError(c, err)
		return
	}
	if !catalog.AcceptsEnrollmentNow(run, time.Now()) {
		Conflict(c, "run is no longer accepting applications")
		return
	}

	app, err := h.eng.CreateOrGet(ctx, userID, req.RunID)
	if err != nil {
		logger.Error("create application failed", slog.Any("error", err))
		FromError(c, err)
		return
	}

	logger.Info("application ready",
		slog.Uint64("application_id", uint64(app.ID)),
		slog.String("state", app.State),
	)
	c.JSON(http.StatusCreated, toApplicationResponse(app))
}

// List 返回当前用户的全部申请。
func (h *ApplicationHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var apps []database.Application
	err := h.db.WithContext(c.Request.Context()).
		Preload("Run.Bootcamp").
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&apps).Error
	if err != nil {
		Internal(c, "internal error")
		return
	}

	items := make([]applicationResponse, 0, len(apps))
	for i := range apps {
		items = append(items, toApplicationResponse(&apps[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Get 返回单个申请；读取时顺带结算一次派生状态。
func (h *ApplicationHandler) Get(c *gin.Context) {
	app, ok := h.loadOwnedApplication(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	settled, err := h.eng.SaveDerivedState(ctx, app.ID)
	if err != nil {
		FromError(c, err)
		return
	}

	if err := h.db.WithContext(ctx).
		Preload("Run.Bootcamp").
		Preload("Submissions").
		First(app, settled.ID).Error; err != nil {
		Internal(c, "internal error")
		return
	}

	resp := toApplicationResponse(app)
	if price, err := catalog.EffectivePriceTx(h.db.WithContext(ctx), app.UserID, app.RunID); err == nil {
		resp.PriceCents = &price
	}
	c.JSON(http.StatusOK, resp)
}

// UploadResume 接收简历文件，病毒扫描通过后存入对象存储。
// 也可只提交 linkedin_url，两者满足其一即视为有简历。
func (h *ApplicationHandler) UploadResume(c *gin.Context) {
	app, ok := h.loadOwnedApplication(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	linkedInURL := strings.TrimSpace(c.PostForm("linkedin_url"))
	file, err := c.FormFile("file")
	if err != nil && linkedInURL == "" {
		BadRequest(c, "either a resume file or a linkedin url is required")
		return
	}

	var objectKey string
	if err == nil {
		ext := strings.ToLower(filepath.Ext(file.Filename))
		contentType, allowed := allowedResumeExtensions[ext]
		if !allowed {
			BadRequest(c, "unsupported resume format, expected pdf, doc, docx or odt")
			return
		}

		fileReader, err := file.Open()
		if err != nil {
			Internal(c, "failed to open file")
			return
		}

		clamdClient := clamd.NewClamd(h.clamdAddr)
		abortChan := make(chan bool)
		scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
		fileReader.Close()
		if err != nil {
			logger.Error("scan resume failed", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
		defer close(abortChan)

		for result := range scanChan {
			if result.Status != clamd.RES_OK {
				BadRequest(c, "malicious file detected")
				return
			}
		}

		fileReader, err = file.Open()
		if err != nil {
			Internal(c, "failed to reopen file")
			return
		}
		defer fileReader.Close()

		objectKey = fmt.Sprintf("resumes/%d/%s%s", app.UserID, uuid.NewString(), ext)
		if _, err := h.storage.UploadFile(ctx, objectKey, fileReader, file.Size, contentType); err != nil {
			logger.Error("upload resume failed", slog.Any("error", err))
			Internal(c, "failed to upload file")
			return
		}
	}

	updated, err := h.eng.UploadResume(ctx, app.ID, objectKey, linkedInURL)
	if err != nil {
		// 引擎拒绝时回收已经上传的对象。
		if objectKey != "" {
			if delErr := h.storage.DeleteObject(ctx, objectKey); delErr != nil {
				logger.Warn("cleanup rejected resume failed", slog.Any("error", delErr))
			}
		}
		FromError(c, err)
		return
	}

	logger.Info("resume attached",
		slog.Uint64("application_id", uint64(updated.ID)),
		slog.String("state", updated.State),
	)
	c.JSON(http.StatusOK, toApplicationResponse(updated))
}

// DownloadResume 返回简历对象的限时下载链接。
func (h *ApplicationHandler) DownloadResume(c *gin.Context) {
	app, ok := h.loadOwnedApplication(c)
	if !ok {
		return
	}
	if app.ResumeObjectKey == "" {
		NotFound(c, "no resume on file")
		return
	}

	ctx := c.Request.Context()
	obj, err := h.storage.GetObject(ctx, app.ResumeObjectKey)
	if err != nil {
		Internal(c, "internal error")
		return
	}
	defer obj.Close()
	if _, err := obj.Stat(); err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "resume object missing")
			return
		}
		Internal(c, "internal error")
		return
	}

	const linkTTL = 15 * time.Minute
	url, err := h.storage.GeneratePresignedURL(ctx, app.ResumeObjectKey, linkTTL)
	if err != nil {
		middleware.LoggerFromContext(c).Error("presign resume failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in": int(linkTTL.Seconds())})
}

type submitArtifactRequest struct {
	RunStepID uint `json:"run_step_id" binding:"required"`
}

// SubmitArtifact 为某个开班步骤创建提交物。视频面试类步骤会先向
// 外部面试服务申请邀请链接，再落库绑定。
func (h *ApplicationHandler) SubmitArtifact(c *gin.Context) {
	app, ok := h.loadOwnedApplication(c)
	if !ok {
		return
	}

	var req submitArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	var runStep database.RunStep
	if err := h.db.WithContext(ctx).Preload("Step").Preload("Run.Bootcamp").
		First(&runStep, req.RunStepID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "run step not found")
			return
		}
		Internal(c, "internal error")
		return
	}

	payload := engine.SubmissionPayload{Kind: runStep.Step.Kind}
	switch runStep.Step.Kind {
	case database.KindVideoInterview:
		var user database.User
		if err := h.db.WithContext(ctx).First(&user, app.UserID).Error; err != nil {
			Internal(c, "internal error")
			return
		}

		externalID := uuid.NewString()
		jobCode := fmt.Sprintf("run-%d-step-%d", runStep.RunID, runStep.ID)
		inv, err := h.interviewClient.CreateInterview(ctx, externalID, jobCode,
			catalog.DisplayTitle(&runStep.Run), interview.CandidateInfo{
				FirstName: user.FirstName,
				LastName:  user.LastName,
				Phone:     user.Phone,
				Email:     user.Email,
			})
		if err != nil {
			logger.Error("provision interview failed", slog.Any("error", err))
			FromError(c, err)
			return
		}

		payload.VideoInterview = &database.VideoInterview{
			ExternalID:    externalID,
			CandidateID:   inv.InterviewToken,
			InvitationURL: inv.InterviewLink,
			Status:        database.InterviewPending,
			RequestedAt:   time.Now(),
		}
	case database.KindQuiz:
		payload.Quiz = &database.Quiz{}
	default:
		BadRequest(c, "unknown step kind")
		return
	}

	sub, err := h.eng.SubmitArtifact(ctx, app.ID, runStep.ID, payload)
	if err != nil {
		FromError(c, err)
		return
	}

	logger.Info("artifact submitted",
		slog.Uint64("application_id", uint64(app.ID)),
		slog.Uint64("submission_id", uint64(sub.ID)),
		slog.String("kind", sub.Kind),
	)
	c.JSON(http.StatusCreated, toSubmissionResponse(sub))
}

// ListSubmissions 按自然顺序返回申请下的全部提交物。
func (h *ApplicationHandler) ListSubmissions(c *gin.Context) {
	app, ok := h.loadOwnedApplication(c)
	if !ok {
		return
	}

	subs, err := h.submissions.ListForApplication(c.Request.Context(), app.ID)
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

// CreateOrder 为待付款的申请生成订单。
func (h *ApplicationHandler) CreateOrder(c *gin.Context) {
	app, ok := h.loadOwnedApplication(c)
	if !ok {
		return
	}

	order, err := h.ledger.CreateOrder(c.Request.Context(), app.ID)
	if err != nil {
		FromError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id":         order.ID,
		"status":           order.Status,
		"total_due_cents":  orderTotalDue(order),
		"total_paid_cents": order.TotalPaidCents,
	})
}

func orderTotalDue(order *database.Order) int64 {
	var total int64
	for _, line := range order.Lines {
		total += line.PriceCents
	}
	return total
}

// loadOwnedApplication 解析路径参数并做所有权检查；教务账号不受限。
func (h *ApplicationHandler) loadOwnedApplication(c *gin.Context) (*database.Application, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}

	appID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid application id")
		return nil, false
	}

	var app database.Application
	if err := h.db.WithContext(c.Request.Context()).First(&app, uint(appID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "application not found")
			return nil, false
		}
		Internal(c, "internal error")
		return nil, false
	}

	if app.UserID != userID && !isStaff(c) {
		Forbidden(c, "not your application")
		return nil, false
	}
	return &app, true
}
