package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"admitHub/internal/config"
	"admitHub/internal/database"
	"admitHub/internal/events"
	"admitHub/internal/interview"
	"admitHub/internal/tasks"
)

func newInterviewClient(t *testing.T, handler http.HandlerFunc) *interview.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return interview.NewClient(config.InterviewConfig{
		BaseURL:         srv.URL,
		TemplateID:      "tpl-1",
		CallbackBaseURL: "https://api.example.com/v1",
	})
}

func TestInterviewRefresh(t *testing.T) {
	db := newTestDB(t)
	rec := &events.Recorder{}

	user := database.User{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Phone: "+14155551234"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	camp := database.Bootcamp{Title: "Camp"}
	if err := db.Create(&camp).Error; err != nil {
		t.Fatalf("seed bootcamp: %v", err)
	}
	future := time.Now().AddDate(0, 1, 0)
	run := database.Run{BootcampID: camp.ID, StartsAt: &future}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}
	app := database.Application{UserID: user.ID, RunID: run.ID, State: database.StateAwaitingSubmissionReview}
	if err := db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}
	tpl := database.Step{BootcampID: camp.ID, Ordinal: 1, Kind: database.KindVideoInterview}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}
	rs := database.RunStep{RunID: run.ID, StepID: tpl.ID}
	if err := db.Create(&rs).Error; err != nil {
		t.Fatalf("seed run step: %v", err)
	}

	externalID := uuid.NewString()
	stale := database.VideoInterview{
		ExternalID:    externalID,
		CandidateID:   "old-token",
		InvitationURL: "https://interviews.example.com/old",
		Status:        database.InterviewPending,
		RequestedAt:   time.Now().AddDate(0, 0, -10),
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("seed video interview: %v", err)
	}
	sub := database.Submission{
		ApplicationID:    app.ID,
		RunStepID:        rs.ID,
		Kind:             database.KindVideoInterview,
		SubmittedAt:      time.Now().AddDate(0, 0, -10),
		ReviewStatus:     database.ReviewPending,
		VideoInterviewID: &stale.ID,
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	var gotJobID string
	client := newInterviewClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID string `json:"job_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotJobID = req.JobID
		_ = json.NewEncoder(w).Encode(interview.Invitation{
			InterviewLink:  "https://interviews.example.com/new",
			InterviewToken: "new-token",
		})
	})

	handler := NewInterviewRefreshHandler(db, client, rec, discardLogger(), 7)
	if err := handler.ProcessTask(context.Background(), tasks.NewInterviewRefreshTask()); err != nil {
		t.Fatalf("process task: %v", err)
	}

	// 外部 ID 保持不变，链接与令牌被覆盖
	if gotJobID != externalID {
		t.Errorf("refreshed with job id %q, want original external id %q", gotJobID, externalID)
	}
	var reloaded database.VideoInterview
	if err := db.First(&reloaded, stale.ID).Error; err != nil {
		t.Fatalf("reload interview: %v", err)
	}
	if reloaded.InvitationURL != "https://interviews.example.com/new" {
		t.Errorf("invitation url = %q, want refreshed link", reloaded.InvitationURL)
	}
	if reloaded.CandidateID != "new-token" {
		t.Errorf("candidate id = %q, want refreshed token", reloaded.CandidateID)
	}
	if !reloaded.RequestedAt.After(time.Now().AddDate(0, 0, -1)) {
		t.Error("requested_at not advanced")
	}

	found := false
	for _, ev := range rec.Events {
		if ev.EventName() == "interview.link_expired" {
			found = true
		}
	}
	if !found {
		t.Error("interview.link_expired event not published")
	}
}

func TestInterviewRefreshSkipsStartedRun(t *testing.T) {
	db := newTestDB(t)
	rec := &events.Recorder{}

	user := database.User{Email: "ada@example.com"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	camp := database.Bootcamp{Title: "Camp"}
	if err := db.Create(&camp).Error; err != nil {
		t.Fatalf("seed bootcamp: %v", err)
	}
	past := time.Now().AddDate(0, -1, 0)
	run := database.Run{BootcampID: camp.ID, StartsAt: &past}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}
	app := database.Application{UserID: user.ID, RunID: run.ID, State: database.StateAwaitingSubmissionReview}
	if err := db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}
	tpl := database.Step{BootcampID: camp.ID, Ordinal: 1, Kind: database.KindVideoInterview}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}
	rs := database.RunStep{RunID: run.ID, StepID: tpl.ID}
	if err := db.Create(&rs).Error; err != nil {
		t.Fatalf("seed run step: %v", err)
	}
	vi := database.VideoInterview{
		ExternalID:  uuid.NewString(),
		Status:      database.InterviewPending,
		RequestedAt: time.Now().AddDate(0, 0, -30),
	}
	if err := db.Create(&vi).Error; err != nil {
		t.Fatalf("seed video interview: %v", err)
	}
	sub := database.Submission{
		ApplicationID:    app.ID,
		RunStepID:        rs.ID,
		Kind:             database.KindVideoInterview,
		SubmittedAt:      time.Now().AddDate(0, 0, -30),
		ReviewStatus:     database.ReviewPending,
		VideoInterviewID: &vi.ID,
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed submission: %v", err)
	}

	client := newInterviewClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("interview service must not be called for a started run")
	})
	handler := NewInterviewRefreshHandler(db, client, rec, discardLogger(), 7)
	if err := handler.ProcessTask(context.Background(), tasks.NewInterviewRefreshTask()); err != nil {
		t.Fatalf("process task: %v", err)
	}
	if len(rec.Events) != 0 {
		t.Errorf("events = %v, want none", rec.Events)
	}
}
