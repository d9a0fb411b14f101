package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"admitHub/internal/apperr"
	"admitHub/internal/database"
	"admitHub/internal/enrollment"
	"admitHub/internal/events"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// fixture 搭建一个完整的测试场景：资料齐全的用户 + 含两个步骤的期。
type fixture struct {
	db        *gorm.DB
	rec       *events.Recorder
	eng       *Engine
	user      database.User
	run       database.Run
	videoStep database.RunStep
	quizStep  database.RunStep
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: newTestDB(t), rec: &events.Recorder{}}
	f.eng = New(f.db, f.rec, enrollment.NewBridge())

	f.user = database.User{
		Email:       uuid.NewString() + "@example.com",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Phone:       "+14155551234",
		Country:     "US",
		City:        "San Francisco",
		AddressLine: "1 Market St",
		PostalCode:  "94110",
	}
	if err := f.db.Create(&f.user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	bootcamp := database.Bootcamp{Title: "Go Backend Bootcamp"}
	if err := f.db.Create(&bootcamp).Error; err != nil {
		t.Fatalf("seed bootcamp: %v", err)
	}
	starts := time.Now().AddDate(0, 1, 0)
	f.run = database.Run{
		BootcampID:        bootcamp.ID,
		Title:             "2026 Fall",
		StartsAt:          &starts,
		ExternalCourseKey: "go-backend-2026",
	}
	if err := f.db.Create(&f.run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}

	videoTpl := database.Step{BootcampID: bootcamp.ID, Ordinal: 1, Kind: database.KindVideoInterview}
	quizTpl := database.Step{BootcampID: bootcamp.ID, Ordinal: 2, Kind: database.KindQuiz}
	if err := f.db.Create(&videoTpl).Error; err != nil {
		t.Fatalf("seed video step: %v", err)
	}
	if err := f.db.Create(&quizTpl).Error; err != nil {
		t.Fatalf("seed quiz step: %v", err)
	}
	f.videoStep = database.RunStep{RunID: f.run.ID, StepID: videoTpl.ID}
	f.quizStep = database.RunStep{RunID: f.run.ID, StepID: quizTpl.ID}
	if err := f.db.Create(&f.videoStep).Error; err != nil {
		t.Fatalf("seed video run step: %v", err)
	}
	if err := f.db.Create(&f.quizStep).Error; err != nil {
		t.Fatalf("seed quiz run step: %v", err)
	}

	for i := 0; i < 2; i++ {
		inst := database.Installment{RunID: f.run.ID, DueAt: time.Now().AddDate(0, i, 0), AmountCents: 50000}
		if err := f.db.Create(&inst).Error; err != nil {
			t.Fatalf("seed installment: %v", err)
		}
	}
	return f
}

// application 创建申请并推进到 awaiting_user_submissions。
func (f *fixture) application(t *testing.T) *database.Application {
	t.Helper()
	ctx := context.Background()
	app, err := f.eng.CreateOrGet(ctx, f.user.ID, f.run.ID)
	if err != nil {
		t.Fatalf("create application: %v", err)
	}
	app, err = f.eng.UploadResume(ctx, app.ID, "resumes/1/cv.pdf", "")
	if err != nil {
		t.Fatalf("upload resume: %v", err)
	}
	return app
}

// submitBoth 提交视频面试与测验，返回两份提交物。
func (f *fixture) submitBoth(t *testing.T, appID uint) (video, quiz *database.Submission) {
	t.Helper()
	ctx := context.Background()
	var err error
	video, err = f.eng.SubmitArtifact(ctx, appID, f.videoStep.ID, SubmissionPayload{
		Kind: database.KindVideoInterview,
		VideoInterview: &database.VideoInterview{
			ExternalID:    uuid.NewString(),
			InvitationURL: "https://interviews.example.com/i/abc",
			Status:        database.InterviewPending,
			RequestedAt:   time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("submit video: %v", err)
	}
	quiz, err = f.eng.SubmitArtifact(ctx, appID, f.quizStep.ID, SubmissionPayload{
		Kind: database.KindQuiz,
		Quiz: &database.Quiz{},
	})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	return video, quiz
}

func (f *fixture) mustState(t *testing.T, appID uint, want string) {
	t.Helper()
	var app database.Application
	if err := f.db.First(&app, appID).Error; err != nil {
		t.Fatalf("reload application: %v", err)
	}
	if app.State != want {
		t.Fatalf("application state = %q, want %q", app.State, want)
	}
}

// fulfilledOrder 开一张已履约订单并挂到申请上。
func (f *fixture) fulfilledOrder(t *testing.T, appID uint, paidCents int64) *database.Order {
	t.Helper()
	order := database.Order{
		UserID:         f.user.ID,
		ApplicationID:  &appID,
		Status:         database.OrderFulfilled,
		TotalPaidCents: paidCents,
	}
	if err := f.db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return &order
}

func hasEvent(rec *events.Recorder, name string) bool {
	for _, ev := range rec.Events {
		if ev.EventName() == name {
			return true
		}
	}
	return false
}

func TestCreateOrGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app, err := f.eng.CreateOrGet(ctx, f.user.ID, f.run.ID)
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if app.State != database.StateAwaitingResume {
		t.Errorf("initial state = %q, want %q", app.State, database.StateAwaitingResume)
	}

	again, err := f.eng.CreateOrGet(ctx, f.user.ID, f.run.ID)
	if err != nil {
		t.Fatalf("CreateOrGet again: %v", err)
	}
	if again.ID != app.ID {
		t.Errorf("second call created a new application: %d != %d", again.ID, app.ID)
	}

	if _, err := f.eng.CreateOrGet(ctx, f.user.ID, 9999); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("unknown run: err = %v, want not_found", err)
	}
}

func TestCreateOrGetIncompleteProfile(t *testing.T) {
	f := newFixture(t)
	bare := database.User{Email: "bare@example.com"}
	if err := f.db.Create(&bare).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	app, err := f.eng.CreateOrGet(context.Background(), bare.ID, f.run.ID)
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if app.State != database.StateAwaitingProfileCompletion {
		t.Errorf("state = %q, want %q", app.State, database.StateAwaitingProfileCompletion)
	}
}

func TestUploadResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app, err := f.eng.CreateOrGet(ctx, f.user.ID, f.run.ID)
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}

	if _, err := f.eng.UploadResume(ctx, app.ID, "", ""); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("empty upload: err = %v, want validation", err)
	}

	app, err = f.eng.UploadResume(ctx, app.ID, "", "https://linkedin.com/in/ada")
	if err != nil {
		t.Fatalf("UploadResume: %v", err)
	}
	if app.State != database.StateAwaitingUserSubmissions {
		t.Errorf("state = %q, want %q", app.State, database.StateAwaitingUserSubmissions)
	}

	// 仍可补传文件：状态停留在提交阶段
	if _, err := f.eng.UploadResume(ctx, app.ID, "resumes/1/cv.pdf", ""); err != nil {
		t.Fatalf("second upload: %v", err)
	}
}

func TestSubmitArtifactGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.application(t)

	_, err := f.eng.SubmitArtifact(ctx, app.ID, f.videoStep.ID, SubmissionPayload{
		Kind: database.KindQuiz,
		Quiz: &database.Quiz{},
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("kind mismatch: err = %v, want validation", err)
	}

	// 属于别的期的 RunStep
	otherRun := database.Run{BootcampID: f.run.BootcampID, Title: "Other"}
	if err := f.db.Create(&otherRun).Error; err != nil {
		t.Fatalf("seed other run: %v", err)
	}
	tpl := database.Step{BootcampID: f.run.BootcampID, Ordinal: 3, Kind: database.KindQuiz}
	if err := f.db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}
	foreign := database.RunStep{RunID: otherRun.ID, StepID: tpl.ID}
	if err := f.db.Create(&foreign).Error; err != nil {
		t.Fatalf("seed foreign run step: %v", err)
	}
	_, err = f.eng.SubmitArtifact(ctx, app.ID, foreign.ID, SubmissionPayload{
		Kind: database.KindQuiz,
		Quiz: &database.Quiz{},
	})
	if !apperr.IsKind(err, apperr.KindFatal) {
		t.Errorf("cross-run step: err = %v, want fatal", err)
	}

	if _, err := f.eng.SubmitArtifact(ctx, app.ID, f.quizStep.ID, SubmissionPayload{
		Kind: database.KindQuiz,
		Quiz: &database.Quiz{},
	}); err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	f.mustState(t, app.ID, database.StateAwaitingSubmissionReview)
}

func TestSubmitArtifactBlockedWhileUnderReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.application(t)

	_, quiz := f.submitBoth(t, app.ID)
	if _, err := f.eng.ReviewSubmission(ctx, quiz.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review: %v", err)
	}
	f.mustState(t, app.ID, database.StateAwaitingSubmissionReview)

	// 所有步骤都已提交、尚在审核时不接受新提交
	_, err := f.eng.SubmitArtifact(ctx, app.ID, f.quizStep.ID, SubmissionPayload{
		Kind: database.KindQuiz,
		Quiz: &database.Quiz{},
	})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("submit while under review: err = %v, want validation", err)
	}
}

func TestResubmitArtifactResetsVerdict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.application(t)

	first, err := f.eng.SubmitArtifact(ctx, app.ID, f.videoStep.ID, SubmissionPayload{
		Kind: database.KindVideoInterview,
		VideoInterview: &database.VideoInterview{
			ExternalID:  uuid.NewString(),
			Status:      database.InterviewPending,
			RequestedAt: time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("submit video: %v", err)
	}
	if _, err := f.eng.ReviewSubmission(ctx, first.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review video: %v", err)
	}
	f.mustState(t, app.ID, database.StateAwaitingUserSubmissions)

	// 同一步骤重新提交：覆写原提交物而非新建一条
	replacement := &database.VideoInterview{
		ExternalID:  uuid.NewString(),
		Status:      database.InterviewPending,
		RequestedAt: time.Now(),
	}
	second, err := f.eng.SubmitArtifact(ctx, app.ID, f.videoStep.ID, SubmissionPayload{
		Kind:           database.KindVideoInterview,
		VideoInterview: replacement,
	})
	if err != nil {
		t.Fatalf("resubmit video: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("resubmission created a new row: %d != %d", second.ID, first.ID)
	}
	if second.ReviewStatus != database.ReviewPending {
		t.Errorf("review status = %q, want pending", second.ReviewStatus)
	}
	if second.ReviewedAt != nil {
		t.Error("reviewed_at must be cleared on resubmission")
	}
	if second.VideoInterviewID == nil || *second.VideoInterviewID != replacement.ID {
		t.Error("payload reference not rebound to the new interview")
	}
	f.mustState(t, app.ID, database.StateAwaitingSubmissionReview)

	var count int64
	f.db.Model(&database.Submission{}).
		Where("application_id = ? AND run_step_id = ?", app.ID, f.videoStep.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("submissions for step = %d, want 1", count)
	}
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.application(t)

	video, quiz := f.submitBoth(t, app.ID)
	f.mustState(t, app.ID, database.StateAwaitingSubmissionReview)

	if _, err := f.eng.ReviewSubmission(ctx, video.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review video: %v", err)
	}
	f.mustState(t, app.ID, database.StateAwaitingSubmissionReview)
	if _, err := f.eng.ReviewSubmission(ctx, quiz.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review quiz: %v", err)
	}
	f.mustState(t, app.ID, database.StateAwaitingPayment)

	// 部分付款不放行
	partial := f.fulfilledOrder(t, app.ID, 60000)
	if _, err := f.eng.RecordOrderFulfilled(ctx, app.ID, partial.ID); err != nil {
		t.Fatalf("record partial order: %v", err)
	}
	f.mustState(t, app.ID, database.StateAwaitingPayment)

	// 补足实付金额后重算
	if err := f.db.Model(partial).Update("total_paid_cents", 100000).Error; err != nil {
		t.Fatalf("top up order: %v", err)
	}
	if _, err := f.eng.RecordOrderFulfilled(ctx, app.ID, partial.ID); err != nil {
		t.Fatalf("record full order: %v", err)
	}
	f.mustState(t, app.ID, database.StateComplete)

	var enr database.Enrollment
	if err := f.db.Where("user_id = ? AND run_id = ?", f.user.ID, f.run.ID).First(&enr).Error; err != nil {
		t.Fatalf("enrollment not created: %v", err)
	}
	if !enr.Active {
		t.Error("enrollment must be active")
	}

	var letter database.ApplicantLetter
	if err := f.db.Where("application_id = ? AND kind = ?", app.ID, "approved").First(&letter).Error; err != nil {
		t.Fatalf("approved letter not created: %v", err)
	}
	if letter.Token == "" {
		t.Error("letter token must be set")
	}

	for _, name := range []string{"application.completed", "applicant_letter.created", "external.enroll"} {
		if !hasEvent(f.rec, name) {
			t.Errorf("event %q not published", name)
		}
	}

	// 重复履约上报幂等：状态不变，报名只有一条
	if _, err := f.eng.RecordOrderFulfilled(ctx, app.ID, partial.ID); err != nil {
		t.Fatalf("repeat record: %v", err)
	}
	var count int64
	f.db.Model(&database.Enrollment{}).Where("user_id = ?", f.user.ID).Count(&count)
	if count != 1 {
		t.Errorf("enrollment count = %d, want 1", count)
	}
}

func TestRejectionDominates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.application(t)

	video, quiz := f.submitBoth(t, app.ID)
	if _, err := f.eng.ReviewSubmission(ctx, video.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review video: %v", err)
	}
	if _, err := f.eng.ReviewSubmission(ctx, quiz.ID, database.ReviewRejected); err != nil {
		t.Fatalf("review quiz: %v", err)
	}
	f.mustState(t, app.ID, database.StateRejected)

	var letter database.ApplicantLetter
	if err := f.db.Where("application_id = ? AND kind = ?", app.ID, "rejected").First(&letter).Error; err != nil {
		t.Fatalf("rejection letter not created: %v", err)
	}
	if !hasEvent(f.rec, "application.rejected") {
		t.Error("application.rejected event not published")
	}
	if hasEvent(f.rec, "application.completed") {
		t.Error("rejected application must not publish completed")
	}
}

func TestReviewVerdictWhitelist(t *testing.T) {
	f := newFixture(t)
	app := f.application(t)
	video, _ := f.submitBoth(t, app.ID)

	_, err := f.eng.ReviewSubmission(context.Background(), video.ID, "maybe")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("unknown verdict: err = %v, want validation", err)
	}
}

func TestWaitlistedAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.application(t)

	video, quiz := f.submitBoth(t, app.ID)
	if _, err := f.eng.ReviewSubmission(ctx, video.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review video: %v", err)
	}
	if _, err := f.eng.ReviewSubmission(ctx, quiz.ID, database.ReviewWaitlisted); err != nil {
		t.Fatalf("review quiz: %v", err)
	}
	f.mustState(t, app.ID, database.StateAwaitingPayment)
}

func TestZeroPriceCompletesWithoutOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.application(t)

	pp := database.PersonalPrice{UserID: f.user.ID, RunID: f.run.ID, AmountCents: 0}
	if err := f.db.Create(&pp).Error; err != nil {
		t.Fatalf("seed personal price: %v", err)
	}

	video, quiz := f.submitBoth(t, app.ID)
	if _, err := f.eng.ReviewSubmission(ctx, video.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review video: %v", err)
	}
	if _, err := f.eng.ReviewSubmission(ctx, quiz.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review quiz: %v", err)
	}
	f.mustState(t, app.ID, database.StateComplete)

	var app2 database.Application
	f.db.First(&app2, app.ID)
	if app2.OrderID != nil {
		t.Error("free application must complete without an order")
	}
}

func TestRecordOrderFulfilledGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.application(t)

	stranger := database.User{Email: "stranger@example.com"}
	if err := f.db.Create(&stranger).Error; err != nil {
		t.Fatalf("seed stranger: %v", err)
	}
	foreign := database.Order{UserID: stranger.ID, Status: database.OrderFulfilled, TotalPaidCents: 100000}
	if err := f.db.Create(&foreign).Error; err != nil {
		t.Fatalf("seed foreign order: %v", err)
	}
	if _, err := f.eng.RecordOrderFulfilled(ctx, app.ID, foreign.ID); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("foreign order: err = %v, want validation", err)
	}

	unfulfilled := database.Order{UserID: f.user.ID, Status: database.OrderCreated}
	if err := f.db.Create(&unfulfilled).Error; err != nil {
		t.Fatalf("seed unfulfilled order: %v", err)
	}
	if _, err := f.eng.RecordOrderFulfilled(ctx, app.ID, unfulfilled.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("unfulfilled order: err = %v, want conflict", err)
	}
}

func TestResetInterviewState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.application(t)

	video, quiz := f.submitBoth(t, app.ID)
	if _, err := f.eng.ReviewSubmission(ctx, quiz.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review quiz: %v", err)
	}
	if _, err := f.eng.ReviewSubmission(ctx, video.ID, database.ReviewRejected); err != nil {
		t.Fatalf("review video: %v", err)
	}
	f.mustState(t, app.ID, database.StateRejected)

	// 回滚视频面试后拒绝结论随之消失，申请回到提交阶段
	if _, err := f.eng.ResetInterviewState(ctx, app.ID); err != nil {
		t.Fatalf("reset interview: %v", err)
	}
	f.mustState(t, app.ID, database.StateAwaitingUserSubmissions)

	var count int64
	f.db.Model(&database.Submission{}).
		Where("application_id = ? AND kind = ?", app.ID, database.KindVideoInterview).
		Count(&count)
	if count != 0 {
		t.Errorf("video submissions remaining = %d, want 0", count)
	}
}

func TestResetInterviewStateCompleteConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := completedApplication(t, f)

	if _, err := f.eng.ResetInterviewState(ctx, app.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("reset complete application: err = %v, want conflict", err)
	}
}

func TestReapplyPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.application(t)

	video, quiz := f.submitBoth(t, app.ID)
	if _, err := f.eng.ReviewSubmission(ctx, video.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review video: %v", err)
	}
	if _, err := f.eng.ReviewSubmission(ctx, quiz.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review quiz: %v", err)
	}
	f.mustState(t, app.ID, database.StateAwaitingPayment)

	// 专属价降为零后重估直接完课
	pp := database.PersonalPrice{UserID: f.user.ID, RunID: f.run.ID, AmountCents: 0}
	if err := f.db.Create(&pp).Error; err != nil {
		t.Fatalf("seed personal price: %v", err)
	}
	if err := f.eng.ReapplyPricing(ctx, f.user.ID, f.run.ID); err != nil {
		t.Fatalf("reapply pricing: %v", err)
	}
	f.mustState(t, app.ID, database.StateComplete)

	// 专属价回升：已完成的申请退回待付款
	if err := f.db.Model(&pp).Update("amount_cents", 200000).Error; err != nil {
		t.Fatalf("raise personal price: %v", err)
	}
	if err := f.eng.ReapplyPricing(ctx, f.user.ID, f.run.ID); err != nil {
		t.Fatalf("reapply pricing: %v", err)
	}
	f.mustState(t, app.ID, database.StateAwaitingPayment)

	// 没有申请时直接返回
	if err := f.eng.ReapplyPricing(ctx, f.user.ID, 9999); err != nil {
		t.Fatalf("reapply pricing without application: %v", err)
	}
}

// completedApplication 把一份申请推进到 complete（走零价通道）。
func completedApplication(t *testing.T, f *fixture) *database.Application {
	t.Helper()
	ctx := context.Background()
	app := f.application(t)
	pp := database.PersonalPrice{UserID: f.user.ID, RunID: f.run.ID, AmountCents: 0}
	if err := f.db.Create(&pp).Error; err != nil {
		t.Fatalf("seed personal price: %v", err)
	}
	video, quiz := f.submitBoth(t, app.ID)
	if _, err := f.eng.ReviewSubmission(ctx, video.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review video: %v", err)
	}
	if _, err := f.eng.ReviewSubmission(ctx, quiz.ID, database.ReviewApproved); err != nil {
		t.Fatalf("review quiz: %v", err)
	}
	f.mustState(t, app.ID, database.StateComplete)
	return app
}
