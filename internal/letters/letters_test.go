package letters

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"admitHub/internal/apperr"
	"admitHub/internal/database"
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

func seedApplication(t *testing.T, db *gorm.DB) *database.Application {
	t.Helper()
	user := database.User{Email: "grace@example.com", FirstName: "Grace", LastName: "Hopper"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	bootcamp := database.Bootcamp{Title: "Systems Bootcamp"}
	if err := db.Create(&bootcamp).Error; err != nil {
		t.Fatalf("seed bootcamp: %v", err)
	}
	run := database.Run{BootcampID: bootcamp.ID, Title: "2026 Winter"}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}
	app := database.Application{UserID: user.ID, RunID: run.ID, State: database.StateAwaitingPayment}
	if err := db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}
	return &app
}

func TestCreateIfMissingTx(t *testing.T) {
	db := newTestDB(t)
	app := seedApplication(t, db)

	letter, created, err := CreateIfMissingTx(db, app, KindApproved)
	if err != nil {
		t.Fatalf("create letter: %v", err)
	}
	if !created {
		t.Error("first call must create")
	}
	if !strings.Contains(letter.Subject, "Systems Bootcamp") {
		t.Errorf("subject not rendered: %q", letter.Subject)
	}
	if !strings.Contains(letter.Body, "Grace Hopper") {
		t.Errorf("body not personalized: %q", letter.Body)
	}
	if len(letter.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(letter.Token))
	}

	// 同一 (申请, 种类) 幂等
	again, created, err := CreateIfMissingTx(db, app, KindApproved)
	if err != nil {
		t.Fatalf("repeat create: %v", err)
	}
	if created {
		t.Error("second call must not create")
	}
	if again.ID != letter.ID {
		t.Errorf("returned letter %d, want existing %d", again.ID, letter.ID)
	}

	// 另一种类独立生成
	rejected, created, err := CreateIfMissingTx(db, app, KindRejected)
	if err != nil {
		t.Fatalf("create rejection letter: %v", err)
	}
	if !created || rejected.ID == letter.ID {
		t.Error("rejection letter must be a distinct record")
	}

	if _, _, err := CreateIfMissingTx(db, app, "postcard"); err == nil {
		t.Error("unknown kind must fail")
	}
}

func TestFindByToken(t *testing.T) {
	db := newTestDB(t)
	app := seedApplication(t, db)
	ctx := context.Background()

	letter, _, err := CreateIfMissingTx(db, app, KindRejected)
	if err != nil {
		t.Fatalf("create letter: %v", err)
	}

	found, err := FindByToken(ctx, db, letter.Token)
	if err != nil {
		t.Fatalf("find by token: %v", err)
	}
	if found.ID != letter.ID {
		t.Errorf("found letter %d, want %d", found.ID, letter.ID)
	}

	if _, err := FindByToken(ctx, db, "nope"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("unknown token: err = %v, want not_found", err)
	}
}
