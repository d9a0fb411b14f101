// Package letters 负责录取信与拒信的渲染、持久化与公开读取。
package letters

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"text/template"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"admitHub/internal/apperr"
	"admitHub/internal/database"
)

// 信件种类。
const (
	KindApproved = "approved"
	KindRejected = "rejected"
)

type letterContext struct {
	FirstName     string
	LastName      string
	BootcampTitle string
	RunTitle      string
}

var (
	approvedSubject = template.Must(template.New("approved_subject").Parse(
		`You're in! {{.BootcampTitle}}, {{.RunTitle}}`,
	))
	approvedBody = template.Must(template.New("approved_body").Parse(
		`Dear {{.FirstName}} {{.LastName}},

Congratulations! Your application to {{.BootcampTitle}} ({{.RunTitle}}) has been
approved. We are excited to have you on board.

You will receive your course access details shortly.

The Admissions Team`,
	))
	rejectedSubject = template.Must(template.New("rejected_subject").Parse(
		`Your application to {{.BootcampTitle}}`,
	))
	rejectedBody = template.Must(template.New("rejected_body").Parse(
		`Dear {{.FirstName}} {{.LastName}},

Thank you for applying to {{.BootcampTitle}} ({{.RunTitle}}). After careful
review we are unable to offer you a place in this run.

You are welcome to apply again for a future run.

The Admissions Team`,
	))
)

// CreateIfMissingTx 在事务内为申请渲染并持久化指定种类的信件。
// 同一 (申请, 种类) 只会生成一封；重复调用返回已有信件且 created=false。
func CreateIfMissingTx(tx *gorm.DB, app *database.Application, kind string) (*database.ApplicantLetter, bool, error) {
	if kind != KindApproved && kind != KindRejected {
		return nil, false, fmt.Errorf("unknown letter kind %q", kind)
	}

	var existing database.ApplicantLetter
	err := tx.Where("application_id = ? AND kind = ?", app.ID, kind).First(&existing).Error
	switch {
	case err == nil:
		return &existing, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		// 继续生成
	default:
		return nil, false, fmt.Errorf("query existing letter: %w", err)
	}

	var user database.User
	if err := tx.First(&user, app.UserID).Error; err != nil {
		return nil, false, fmt.Errorf("load letter recipient: %w", err)
	}
	var run database.Run
	if err := tx.Preload("Bootcamp").First(&run, app.RunID).Error; err != nil {
		return nil, false, fmt.Errorf("load letter run: %w", err)
	}

	lctx := letterContext{
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		BootcampTitle: run.Bootcamp.Title,
		RunTitle:      run.Title,
	}

	subject, body, err := render(kind, lctx)
	if err != nil {
		return nil, false, err
	}

	letter := database.ApplicantLetter{
		ApplicationID: app.ID,
		Kind:          kind,
		Subject:       subject,
		Body:          body,
		Token:         newToken(),
	}
	if err := tx.Create(&letter).Error; err != nil {
		return nil, false, fmt.Errorf("create letter: %w", err)
	}
	return &letter, true, nil
}

func render(kind string, lctx letterContext) (subject, body string, err error) {
	subjectTmpl, bodyTmpl := approvedSubject, approvedBody
	if kind == KindRejected {
		subjectTmpl, bodyTmpl = rejectedSubject, rejectedBody
	}

	var sb, bb bytes.Buffer
	if err := subjectTmpl.Execute(&sb, lctx); err != nil {
		return "", "", fmt.Errorf("render letter subject: %w", err)
	}
	if err := bodyTmpl.Execute(&bb, lctx); err != nil {
		return "", "", fmt.Errorf("render letter body: %w", err)
	}
	return sb.String(), bb.String(), nil
}

// newToken 生成不可猜测的公开读取令牌。
func newToken() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return hex.EncodeToString(sum[:])
}

// FindByToken 按公开令牌读取信件，供免认证端点使用。
func FindByToken(ctx context.Context, db *gorm.DB, token string) (*database.ApplicantLetter, error) {
	var letter database.ApplicantLetter
	err := db.WithContext(ctx).Where("token = ?", token).First(&letter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("letter")
	}
	if err != nil {
		return nil, fmt.Errorf("query letter by token: %w", err)
	}
	return &letter, nil
}
