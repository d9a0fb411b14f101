package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"admitHub/internal/config"
	"admitHub/internal/database"
	"admitHub/internal/platform"
	"admitHub/internal/tasks"
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPlatformClient(t *testing.T, handler http.HandlerFunc) *platform.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return platform.NewClient(config.PlatformConfig{
		BaseURL:          srv.URL,
		APIKey:           "key",
		APISecret:        "secret",
		RequestTimeoutMS: 2000,
		CallIntervalMS:   0,
	}, discardLogger())
}

func TestPlatformBulkEnroll(t *testing.T) {
	db := newTestDB(t)

	run := database.Run{ExternalCourseKey: "go-camp"}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}

	users := make([]database.User, 0, 3)
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		u := database.User{Email: email, FirstName: fmt.Sprintf("User%d", i), LastName: "Test"}
		if err := db.Create(&u).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
		users = append(users, u)
		enr := database.Enrollment{UserID: u.ID, RunID: run.ID, Active: true}
		if err := db.Create(&enr).Error; err != nil {
			t.Fatalf("seed enrollment: %v", err)
		}
	}

	// b@example.com 被平台拒绝，其余成功
	client := newPlatformClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		if body.Email == "b@example.com" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	handler := NewPlatformBulkEnrollHandler(db, client, discardLogger())
	userIDs := []uint{users[0].ID, users[1].ID, users[2].ID}
	task, err := tasks.NewPlatformBulkEnrollTask(userIDs, run.ID, "corr-1")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	if err := handler.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process task: %v", err)
	}

	var enrollments []database.Enrollment
	if err := db.Where("run_id = ?", run.ID).Find(&enrollments).Error; err != nil {
		t.Fatalf("reload enrollments: %v", err)
	}
	for _, enr := range enrollments {
		synced := enr.SyncedAt != nil
		wantSynced := enr.UserID != users[1].ID
		if synced != wantSynced {
			t.Errorf("user %d synced = %v, want %v", enr.UserID, synced, wantSynced)
		}
	}
}

func TestPlatformBulkEnrollSkipsUnknownRun(t *testing.T) {
	db := newTestDB(t)
	client := newPlatformClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("platform must not be called")
	})
	handler := NewPlatformBulkEnrollHandler(db, client, discardLogger())

	task, err := tasks.NewPlatformBulkEnrollTask([]uint{1}, 9999, "corr-2")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := handler.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process task: %v", err)
	}
}

func TestPlatformBulkEnrollSkipsRunWithoutCourseKey(t *testing.T) {
	db := newTestDB(t)
	run := database.Run{}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}
	client := newPlatformClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("platform must not be called")
	})
	handler := NewPlatformBulkEnrollHandler(db, client, discardLogger())

	task, err := tasks.NewPlatformBulkEnrollTask([]uint{1}, run.ID, "corr-3")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := handler.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process task: %v", err)
	}
}
