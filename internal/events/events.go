// Package events 定义引擎在事务提交后对外发布的领域事件。
// 订阅方（任务队列、站内通知）只消费已提交的事实，绝不回写引擎字段。
package events

import "context"

// Event 是所有领域事件的标记接口。
type Event interface {
	EventName() string
}

// StateChanged 表示申请缓存状态发生迁移。
type StateChanged struct {
	ApplicationID uint
	UserID        uint
	From          string
	To            string
}

func (StateChanged) EventName() string { return "application.state_changed" }

// SubmissionCreated 表示用户提交了新的申请材料。
type SubmissionCreated struct {
	ApplicationID uint
	SubmissionID  uint
	Kind          string
}

func (SubmissionCreated) EventName() string { return "application.submission_created" }

// SubmissionReviewed 表示某份提交物的审核结论被写入。
type SubmissionReviewed struct {
	ApplicationID uint
	SubmissionID  uint
	UserID        uint
	OldVerdict    string
	NewVerdict    string
}

func (SubmissionReviewed) EventName() string { return "application.submission_reviewed" }

// ApplicationCompleted 在申请首次进入 complete 时发布，且只发布一次。
type ApplicationCompleted struct {
	ApplicationID uint
	UserID        uint
	RunID         uint
}

func (ApplicationCompleted) EventName() string { return "application.completed" }

// ApplicationRejected 在申请首次进入 rejected 时发布，且只发布一次。
type ApplicationRejected struct {
	ApplicationID uint
	UserID        uint
	RunID         uint
}

func (ApplicationRejected) EventName() string { return "application.rejected" }

// LetterCreated 表示录取信/拒信已渲染并持久化，等待通知方投递。
type LetterCreated struct {
	LetterID      uint
	ApplicationID uint
	UserID        uint
	Kind          string
}

func (LetterCreated) EventName() string { return "applicant_letter.created" }

// EnrollmentDeferred 表示报名从一期顺延到另一期。
type EnrollmentDeferred struct {
	UserID    uint
	FromRunID uint
	ToRunID   uint
}

func (EnrollmentDeferred) EventName() string { return "enrollment.deferred" }

// ExternalEnrollRequested 表示需要向外部课程平台发起开课。
type ExternalEnrollRequested struct {
	EnrollmentID uint
	UserID       uint
	RunID        uint
}

func (ExternalEnrollRequested) EventName() string { return "external.enroll" }

// InterviewLinkExpired 表示面试邀约链接已过期并被刷新。
type InterviewLinkExpired struct {
	ApplicationID uint
	SubmissionID  uint
	UserID        uint
}

func (InterviewLinkExpired) EventName() string { return "interview.link_expired" }

// Publisher 在事务提交后发布事件。实现必须容忍单个事件投递失败。
type Publisher interface {
	Publish(ctx context.Context, evs ...Event)
}

// Recorder 收集事件，供测试断言使用。
type Recorder struct {
	Events []Event
}

// Publish 追加事件到内存列表。
func (r *Recorder) Publish(_ context.Context, evs ...Event) {
	r.Events = append(r.Events, evs...)
}
