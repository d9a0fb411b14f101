package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 申请流转状态。缓存于 Application.State，由引擎派生并回写。
const (
	StateAwaitingProfileCompletion = "awaiting_profile_completion"
	StateAwaitingResume            = "awaiting_resume"
	StateAwaitingUserSubmissions   = "awaiting_user_submissions"
	StateAwaitingSubmissionReview  = "awaiting_submission_review"
	StateAwaitingPayment           = "awaiting_payment"
	StateComplete                  = "complete"
	StateRejected                  = "rejected"
)

// 审核结论。空字符串表示尚未写入结论。
const (
	ReviewPending    = "pending"
	ReviewApproved   = "approved"
	ReviewRejected   = "rejected"
	ReviewWaitlisted = "waitlisted"
)

// 提交物类型。
const (
	KindVideoInterview = "video_interview"
	KindQuiz           = "quiz"
)

// 报名变更状态。空字符串表示报名正常有效。
const (
	EnrollmentRefunded    = "refunded"
	EnrollmentDeferred    = "deferred"
	EnrollmentTransferred = "transferred"
)

// 订单状态。
const (
	OrderCreated   = "created"
	OrderFulfilled = "fulfilled"
	OrderRefunded  = "refunded"
)

// 面试邀约状态，由外部面试服务商通过 Webhook 回写。
const (
	InterviewPending   = "pending"
	InterviewStarted   = "started"
	InterviewCompleted = "completed"
	InterviewExpired   = "expired"
)

// User 表示申请人或教务账号。
type User struct {
	gorm.Model
	Email                   string `gorm:"uniqueIndex;size:255"`
	PasswordHash            string `gorm:"size:255"`
	FirstName               string `gorm:"size:100"`
	LastName                string `gorm:"size:100"`
	Phone                   string `gorm:"size:40"`
	Country                 string `gorm:"size:2"`
	City                    string `gorm:"size:100"`
	AddressLine             string `gorm:"size:255"`
	PostalCode              string `gorm:"size:16"`
	Staff                   bool   `gorm:"default:false"`
	CanSkipApplicationSteps bool   `gorm:"default:false"`
}

// Bootcamp 表示训练营，是 Run 与 Step 模板的归属方。
type Bootcamp struct {
	gorm.Model
	Title string `gorm:"size:255"`
	Runs  []Run  `gorm:"constraint:OnDelete:CASCADE"`
	Steps []Step `gorm:"constraint:OnDelete:CASCADE"`
}

// Run 表示训练营的一期排期。
type Run struct {
	gorm.Model
	BootcampID        uint     `gorm:"index"`
	Bootcamp          Bootcamp `gorm:"constraint:OnDelete:CASCADE"`
	Title             string   `gorm:"size:255"`
	StartsAt          *time.Time
	EndsAt            *time.Time
	ExternalCourseKey string `gorm:"size:128"` // 外部课程平台的课程 stub，为空表示不同步
	AllowSkippedSteps bool   `gorm:"default:false"`
	RunSteps          []RunStep
	Installments      []Installment
}

// Step 表示训练营级别的提交物模板。Ordinal 在同一训练营内唯一。
type Step struct {
	gorm.Model
	BootcampID uint   `gorm:"index;uniqueIndex:idx_bootcamp_ordinal"`
	Ordinal    int    `gorm:"uniqueIndex:idx_bootcamp_ordinal"`
	Kind       string `gorm:"size:32"`
}

// RunStep 将 Step 模板落到具体一期，并附带截止时间。
type RunStep struct {
	gorm.Model
	RunID  uint `gorm:"index;uniqueIndex:idx_run_step"`
	Run    Run
	StepID uint `gorm:"uniqueIndex:idx_run_step"`
	Step   Step
	DueAt  *time.Time
}

// Installment 表示一期价格的分期；标准价为全部分期之和。
type Installment struct {
	gorm.Model
	RunID       uint `gorm:"index"`
	DueAt       time.Time
	AmountCents int64
}

// PersonalPrice 表示针对 (用户, 期) 的专属价格，优先于标准价。
type PersonalPrice struct {
	gorm.Model
	UserID      uint `gorm:"index;uniqueIndex:idx_personal_price"`
	RunID       uint `gorm:"uniqueIndex:idx_personal_price"`
	AmountCents int64
}

// Application 表示用户对某一期的申请，(UserID, RunID) 唯一。
type Application struct {
	gorm.Model
	UserID           uint `gorm:"index;uniqueIndex:idx_user_run_application"`
	User             User
	RunID            uint `gorm:"uniqueIndex:idx_user_run_application"`
	Run              Run
	ResumeObjectKey  string `gorm:"size:512"`
	ResumeUploadedAt *time.Time
	LinkedInURL      string `gorm:"size:512"`
	State            string `gorm:"size:48;index"`
	OrderID          *uint
	Order            *Order
	Submissions      []Submission `gorm:"constraint:OnDelete:CASCADE"`
}

// Submission 表示针对某个 RunStep 的提交物，(ApplicationID, RunStepID) 唯一。
// 变体引用采用 Kind 判别 + 每种一个外键字段，而非泛型外键。
type Submission struct {
	gorm.Model
	ApplicationID uint `gorm:"index;uniqueIndex:idx_application_run_step"`
	Application   Application
	RunStepID     uint `gorm:"uniqueIndex:idx_application_run_step"`
	RunStep       RunStep
	Kind          string `gorm:"size:32"`
	SubmittedAt   time.Time
	ReviewStatus  string `gorm:"size:16;index"`
	ReviewedAt    *time.Time

	VideoInterviewID *uint
	VideoInterview   *VideoInterview
	QuizID           *uint
	Quiz             *Quiz
}

// VideoInterview 表示外部面试服务商侧的一次视频面试。
type VideoInterview struct {
	gorm.Model
	ExternalID    string `gorm:"size:128;index"`
	CandidateID   string `gorm:"size:128"`
	InvitationURL string `gorm:"size:512"`
	Status        string `gorm:"size:16"`
	ResultsURL    string `gorm:"size:512"`
	RequestedAt   time.Time
}

// Quiz 表示测验类提交物的专有数据。
type Quiz struct {
	gorm.Model
	StartedAt *time.Time
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
}

// Order 表示一次购买；引擎只消费 Status 与 TotalPaidCents。
type Order struct {
	gorm.Model
	UserID         uint `gorm:"index"`
	ApplicationID  *uint
	Status         string `gorm:"size:16"`
	TotalPaidCents int64
	Lines          []OrderLine `gorm:"constraint:OnDelete:CASCADE"`
}

// OrderLine 表示订单内的单个课程条目。
type OrderLine struct {
	gorm.Model
	OrderID    uint   `gorm:"index"`
	RunKey     string `gorm:"size:128"`
	PriceCents int64
}

// ApplicantLetter 表示录取信或拒信；Token 用于免认证公开读取。
type ApplicantLetter struct {
	gorm.Model
	ApplicationID uint   `gorm:"index"`
	Kind          string `gorm:"size:16"`
	Subject       string `gorm:"size:255"`
	Body          string `gorm:"type:text"`
	Token         string `gorm:"size:64;uniqueIndex"`
}

// Enrollment 表示授予用户某一期访问权的记录，(UserID, RunID) 唯一。
// 记录从不硬删除，只通过 Active/ChangeStatus 失效。
type Enrollment struct {
	gorm.Model
	UserID             uint `gorm:"index;uniqueIndex:idx_user_run_enrollment"`
	RunID              uint `gorm:"uniqueIndex:idx_user_run_enrollment"`
	Run                Run
	Active             bool   `gorm:"default:true"`
	ChangeStatus       string `gorm:"size:16"`
	OrderID            *uint
	SyncedAt           *time.Time
	CertificateBlocked bool `gorm:"default:false"`
}

// EmailChangeRequest 表示待确认的换绑邮箱请求。
type EmailChangeRequest struct {
	gorm.Model
	UserID    uint   `gorm:"index"`
	NewEmail  string `gorm:"size:255"`
	Code      string `gorm:"size:64"`
	ExpiresAt time.Time
	Confirmed bool `gorm:"default:false"`
}

// AllModels 返回 AutoMigrate 所需的全部模型。
func AllModels() []any {
	return []any{
		&User{},
		&Bootcamp{},
		&Run{},
		&Step{},
		&RunStep{},
		&Installment{},
		&PersonalPrice{},
		&Application{},
		&Submission{},
		&VideoInterview{},
		&Quiz{},
		&Order{},
		&OrderLine{},
		&ApplicantLetter{},
		&Enrollment{},
		&EmailChangeRequest{},
	}
}
