package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"admitHub/internal/apperr"
	"admitHub/internal/database"
)

// approvedApplication 把申请推进到 awaiting_payment（全部提交物通过）。
func approvedApplication(t *testing.T, f *fixture) *database.Application {
	t.Helper()
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
	return app
}

// newTargetRun 创建与源期步骤集合一致的目标期（复用同一批 Step 模板）。
func (f *fixture) newTargetRun(t *testing.T, bootcampID uint, withSteps bool) *database.Run {
	t.Helper()
	run := database.Run{BootcampID: bootcampID, Title: "2027 Spring"}
	if err := f.db.Create(&run).Error; err != nil {
		t.Fatalf("seed target run: %v", err)
	}
	if withSteps {
		var video, quiz database.RunStep
		f.db.First(&video, f.videoStep.ID)
		f.db.First(&quiz, f.quizStep.ID)
		for _, stepID := range []uint{video.StepID, quiz.StepID} {
			rs := database.RunStep{RunID: run.ID, StepID: stepID}
			if err := f.db.Create(&rs).Error; err != nil {
				t.Fatalf("seed target run step: %v", err)
			}
		}
	}
	inst := database.Installment{RunID: run.ID, DueAt: time.Now().AddDate(0, 2, 0), AmountCents: 100000}
	if err := f.db.Create(&inst).Error; err != nil {
		t.Fatalf("seed target installment: %v", err)
	}
	return &run
}

func TestMigrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := approvedApplication(t, f)
	target := f.newTargetRun(t, f.run.BootcampID, true)

	migrated, err := f.eng.Migrate(ctx, source.ID, target.ID, false)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if migrated.RunID != target.ID {
		t.Fatalf("migrated run = %d, want %d", migrated.RunID, target.ID)
	}
	f.mustState(t, migrated.ID, database.StateAwaitingPayment)

	// 简历与提交物连同结论与时点一起带过去
	var reloaded database.Application
	f.db.First(&reloaded, migrated.ID)
	if reloaded.ResumeObjectKey != "resumes/1/cv.pdf" {
		t.Errorf("resume not copied: %q", reloaded.ResumeObjectKey)
	}

	var copies []database.Submission
	f.db.Where("application_id = ?", migrated.ID).Find(&copies)
	if len(copies) != 2 {
		t.Fatalf("copied submissions = %d, want 2", len(copies))
	}
	for _, sub := range copies {
		if sub.ReviewStatus != database.ReviewApproved {
			t.Errorf("copied verdict = %q, want approved", sub.ReviewStatus)
		}
		if sub.ReviewedAt == nil {
			t.Error("copied submission lost reviewed_at")
		}
		switch sub.Kind {
		case database.KindVideoInterview:
			if sub.VideoInterviewID == nil {
				t.Error("video copy lost payload reference")
			}
		case database.KindQuiz:
			if sub.QuizID == nil {
				t.Error("quiz copy lost payload reference")
			}
		}
	}

	// 重复迁移幂等：载荷引用一致的绑定被跳过
	again, err := f.eng.Migrate(ctx, source.ID, target.ID, false)
	if err != nil {
		t.Fatalf("repeat migrate: %v", err)
	}
	if again.ID != migrated.ID {
		t.Errorf("repeat migrate created a new application: %d != %d", again.ID, migrated.ID)
	}
	var count int64
	f.db.Model(&database.Submission{}).Where("application_id = ?", migrated.ID).Count(&count)
	if count != 2 {
		t.Errorf("submissions after repeat = %d, want 2", count)
	}
}

func TestMigrateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 未通过的申请不可迁移
	pending := f.application(t)
	target := f.newTargetRun(t, f.run.BootcampID, true)
	if _, err := f.eng.Migrate(ctx, pending.ID, target.ID, false); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("unapproved source: err = %v, want validation", err)
	}

	video, quiz := f.submitBoth(t, pending.ID)
	for _, id := range []uint{video.ID, quiz.ID} {
		if _, err := f.eng.ReviewSubmission(ctx, id, database.ReviewApproved); err != nil {
			t.Fatalf("review: %v", err)
		}
	}

	// 目标等于源期
	if _, err := f.eng.Migrate(ctx, pending.ID, f.run.ID, false); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("same run: err = %v, want validation", err)
	}

	// 目标期不存在
	if _, err := f.eng.Migrate(ctx, pending.ID, 9999, false); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("unknown run: err = %v, want not_found", err)
	}
}

func TestMigrateStepMismatchRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := approvedApplication(t, f)

	// 目标期只有一个步骤，类型多重集不一致
	target := f.newTargetRun(t, f.run.BootcampID, false)
	tpl := database.Step{BootcampID: f.run.BootcampID, Ordinal: 5, Kind: database.KindQuiz}
	if err := f.db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}
	rs := database.RunStep{RunID: target.ID, StepID: tpl.ID}
	if err := f.db.Create(&rs).Error; err != nil {
		t.Fatalf("seed run step: %v", err)
	}

	_, err := f.eng.Migrate(ctx, source.ID, target.ID, false)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("step mismatch: err = %v, want validation", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Message != MigrateStepMismatch {
		t.Errorf("message = %v, want %q", err, MigrateStepMismatch)
	}
}

func TestMigrateCrossBootcamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := approvedApplication(t, f)

	other := database.Bootcamp{Title: "Data Bootcamp"}
	if err := f.db.Create(&other).Error; err != nil {
		t.Fatalf("seed bootcamp: %v", err)
	}
	target := database.Run{BootcampID: other.ID, Title: "2027"}
	if err := f.db.Create(&target).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}
	videoTpl := database.Step{BootcampID: other.ID, Ordinal: 1, Kind: database.KindVideoInterview}
	quizTpl := database.Step{BootcampID: other.ID, Ordinal: 2, Kind: database.KindQuiz}
	for _, tpl := range []*database.Step{&videoTpl, &quizTpl} {
		if err := f.db.Create(tpl).Error; err != nil {
			t.Fatalf("seed step: %v", err)
		}
		rs := database.RunStep{RunID: target.ID, StepID: tpl.ID}
		if err := f.db.Create(&rs).Error; err != nil {
			t.Fatalf("seed run step: %v", err)
		}
	}
	inst := database.Installment{RunID: target.ID, DueAt: time.Now(), AmountCents: 80000}
	if err := f.db.Create(&inst).Error; err != nil {
		t.Fatalf("seed installment: %v", err)
	}

	if _, err := f.eng.Migrate(ctx, source.ID, target.ID, false); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("cross-bootcamp without force: err = %v, want validation", err)
	}

	migrated, err := f.eng.Migrate(ctx, source.ID, target.ID, true)
	if err != nil {
		t.Fatalf("forced migrate: %v", err)
	}
	f.mustState(t, migrated.ID, database.StateAwaitingPayment)
}

// TestMigrateReorderedDuplicateKinds 覆盖跨训练营迁移且目标步骤乱序的
// 槽位分配：源按步骤序号 [video, video, quiz]，目标按 [quiz, video, video]。
// 每份源提交物应绑定到第一个未占用的同类型目标步骤（目标 RunStep ID 升序），
// 并保持载荷引用不变。
func TestMigrateReorderedDuplicateKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 源期：video(1), video(2), quiz(3)
	srcCamp := database.Bootcamp{Title: "Source Camp"}
	if err := f.db.Create(&srcCamp).Error; err != nil {
		t.Fatalf("seed source bootcamp: %v", err)
	}
	srcRun := database.Run{BootcampID: srcCamp.ID, Title: "2026"}
	if err := f.db.Create(&srcRun).Error; err != nil {
		t.Fatalf("seed source run: %v", err)
	}
	srcKinds := []string{database.KindVideoInterview, database.KindVideoInterview, database.KindQuiz}
	srcSteps := make([]database.RunStep, 0, len(srcKinds))
	for i, kind := range srcKinds {
		tpl := database.Step{BootcampID: srcCamp.ID, Ordinal: i + 1, Kind: kind}
		if err := f.db.Create(&tpl).Error; err != nil {
			t.Fatalf("seed source step: %v", err)
		}
		rs := database.RunStep{RunID: srcRun.ID, StepID: tpl.ID}
		if err := f.db.Create(&rs).Error; err != nil {
			t.Fatalf("seed source run step: %v", err)
		}
		srcSteps = append(srcSteps, rs)
	}

	// 已通过的源申请：两份视频 + 一份测验，全部 approved
	now := time.Now()
	source := database.Application{
		UserID:          f.user.ID,
		RunID:           srcRun.ID,
		ResumeObjectKey: "resumes/1/cv.pdf",
		State:           database.StateAwaitingPayment,
	}
	if err := f.db.Create(&source).Error; err != nil {
		t.Fatalf("seed source application: %v", err)
	}
	var videoPayloads []uint
	for i := 0; i < 2; i++ {
		vi := database.VideoInterview{
			ExternalID:  fmt.Sprintf("ext-%d", i+1),
			Status:      database.InterviewCompleted,
			RequestedAt: now,
		}
		if err := f.db.Create(&vi).Error; err != nil {
			t.Fatalf("seed video payload: %v", err)
		}
		videoPayloads = append(videoPayloads, vi.ID)
		id := vi.ID
		sub := database.Submission{
			ApplicationID:    source.ID,
			RunStepID:        srcSteps[i].ID,
			Kind:             database.KindVideoInterview,
			SubmittedAt:      now,
			ReviewStatus:     database.ReviewApproved,
			ReviewedAt:       &now,
			VideoInterviewID: &id,
		}
		if err := f.db.Create(&sub).Error; err != nil {
			t.Fatalf("seed video submission: %v", err)
		}
	}
	quiz := database.Quiz{}
	if err := f.db.Create(&quiz).Error; err != nil {
		t.Fatalf("seed quiz payload: %v", err)
	}
	quizSub := database.Submission{
		ApplicationID: source.ID,
		RunStepID:     srcSteps[2].ID,
		Kind:          database.KindQuiz,
		SubmittedAt:   now,
		ReviewStatus:  database.ReviewApproved,
		ReviewedAt:    &now,
		QuizID:        &quiz.ID,
	}
	if err := f.db.Create(&quizSub).Error; err != nil {
		t.Fatalf("seed quiz submission: %v", err)
	}

	// 目标期属于另一训练营，步骤乱序：quiz(1), video(2), video(3)
	dstCamp := database.Bootcamp{Title: "Target Camp"}
	if err := f.db.Create(&dstCamp).Error; err != nil {
		t.Fatalf("seed target bootcamp: %v", err)
	}
	dstRun := database.Run{BootcampID: dstCamp.ID, Title: "2027"}
	if err := f.db.Create(&dstRun).Error; err != nil {
		t.Fatalf("seed target run: %v", err)
	}
	dstKinds := []string{database.KindQuiz, database.KindVideoInterview, database.KindVideoInterview}
	dstSteps := make([]database.RunStep, 0, len(dstKinds))
	for i, kind := range dstKinds {
		tpl := database.Step{BootcampID: dstCamp.ID, Ordinal: i + 1, Kind: kind}
		if err := f.db.Create(&tpl).Error; err != nil {
			t.Fatalf("seed target step: %v", err)
		}
		rs := database.RunStep{RunID: dstRun.ID, StepID: tpl.ID}
		if err := f.db.Create(&rs).Error; err != nil {
			t.Fatalf("seed target run step: %v", err)
		}
		dstSteps = append(dstSteps, rs)
	}
	inst := database.Installment{RunID: dstRun.ID, DueAt: now.AddDate(0, 2, 0), AmountCents: 100000}
	if err := f.db.Create(&inst).Error; err != nil {
		t.Fatalf("seed target installment: %v", err)
	}

	migrated, err := f.eng.Migrate(ctx, source.ID, dstRun.ID, true)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	f.mustState(t, migrated.ID, database.StateAwaitingPayment)

	byRunStep := make(map[uint]database.Submission, 3)
	var copies []database.Submission
	f.db.Where("application_id = ?", migrated.ID).Find(&copies)
	if len(copies) != 3 {
		t.Fatalf("copied submissions = %d, want 3", len(copies))
	}
	for _, sub := range copies {
		byRunStep[sub.RunStepID] = sub
	}

	// 测验落到目标 quiz 步骤，载荷引用原样带过去
	got, ok := byRunStep[dstSteps[0].ID]
	if !ok || got.Kind != database.KindQuiz {
		t.Fatalf("quiz slot not filled: %+v", got)
	}
	if got.QuizID == nil || *got.QuizID != quiz.ID {
		t.Error("quiz payload reference not preserved")
	}

	// 源视频按步骤序号顺序占用目标视频步骤（目标 RunStep ID 升序）
	for i, rsID := range []uint{dstSteps[1].ID, dstSteps[2].ID} {
		got, ok := byRunStep[rsID]
		if !ok || got.Kind != database.KindVideoInterview {
			t.Fatalf("video slot %d not filled: %+v", i, got)
		}
		if got.VideoInterviewID == nil || *got.VideoInterviewID != videoPayloads[i] {
			t.Errorf("video slot %d bound to wrong payload: got %v, want %d",
				i, got.VideoInterviewID, videoPayloads[i])
		}
	}
}

func TestMigrateAlreadyEnrolled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := approvedApplication(t, f)
	target := f.newTargetRun(t, f.run.BootcampID, true)

	// 目标期已有处于通过类状态的申请且没有对应载荷绑定
	occupied := database.Application{
		UserID: f.user.ID,
		RunID:  target.ID,
		State:  database.StateAwaitingPayment,
	}
	if err := f.db.Create(&occupied).Error; err != nil {
		t.Fatalf("seed occupied application: %v", err)
	}

	_, err := f.eng.Migrate(ctx, source.ID, target.ID, false)
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("occupied target: err = %v, want conflict", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Message != MigrateAlreadyEnrolled {
		t.Errorf("message = %v, want %q", err, MigrateAlreadyEnrolled)
	}
}
