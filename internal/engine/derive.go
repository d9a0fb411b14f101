// Package engine 实现申请生命周期引擎：纯派生函数 + 带守卫的状态迁移。
// 所有迁移都在单个事务内完成，并对 Application 行加悲观锁；
// 引擎自身不做任何网络 I/O，外部副作用全部通过事件在提交后触发。
package engine

import "admitHub/internal/database"

// Facts 是派生函数的全部输入：申请在某一时刻的既成事实。
type Facts struct {
	ProfileComplete  bool
	HasResume        bool     // 简历对象或 LinkedIn 链接任一存在
	ReviewStatuses   []string // 已存在提交物的审核结论，空串表示无结论
	RequiredSteps    int      // 该期要求的 RunStep 数量
	PaymentSatisfied bool     // 已履约订单实付 >= 有效价格（价格为零时恒为真）
}

// DeriveState 根据事实派生申请的目标状态。纯函数，不触库。
//
// 结论语义：rejected 压倒一切；pending 或空结论阻塞推进；
// waitlisted 视同 approved，不阻塞进入付款阶段。
func DeriveState(f Facts) string {
	if !f.ProfileComplete {
		return database.StateAwaitingProfileCompletion
	}
	if !f.HasResume {
		return database.StateAwaitingResume
	}

	for _, v := range f.ReviewStatuses {
		if v == database.ReviewRejected {
			return database.StateRejected
		}
	}
	for _, v := range f.ReviewStatuses {
		if v == database.ReviewPending || v == "" {
			return database.StateAwaitingSubmissionReview
		}
	}
	if len(f.ReviewStatuses) < f.RequiredSteps {
		return database.StateAwaitingUserSubmissions
	}

	if !f.PaymentSatisfied {
		return database.StateAwaitingPayment
	}
	return database.StateComplete
}

// IsTerminal 判断状态是否终态。
func IsTerminal(state string) bool {
	return state == database.StateRejected
}
