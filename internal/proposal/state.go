// Package proposal は会話ごとの予約提案の状態遷移を扱う。
//
// 状態は保存せず、トランスクリプトのメタデータから導出する。
//
//	Idle ──候補付きの応答──▶ ProposalPending ──confirm/decline──▶ Confirmed/Declined
//	  ▲                          │  ▲                                   │
//	  │                          └──┘ 別の候補で上書き                    │
//	  └──────────────────────────── 次の候補が出るまで解決済みのまま ◀──────┘
//
// ProposalPendingから抜けるのは明示的なconfirm/declineのみで、
// 候補を含まない通常の応答によって提案が消えることはない。
package proposal

import (
	"time"

	"github.com/hitoshi/chairside/internal/model"
)

// State は提案の状態を表す。
type State string

const (
	// StateIdle は未解決の提案がない状態。
	StateIdle State = "idle"
	// StateProposalPending は候補時刻がユーザーの確認待ちになっている状態。
	StateProposalPending State = "proposal_pending"
	// StateConfirmed は直近の提案が確定された状態。
	StateConfirmed State = "confirmed"
	// StateDeclined は直近の提案が辞退された状態。
	StateDeclined State = "declined"
)

// Resolved は確定または辞退で提案が解決済みかを返す。
// 解決済みは新しい提案を受け付ける点でIdleと同じ扱いになる。
func (s State) Resolved() bool {
	return s == StateConfirmed || s == StateDeclined
}

// Status は導出された提案状態。
type Status struct {
	State         State
	Candidate     string // ProposalPending、Confirmed、Declinedで対象の時刻
	AppointmentID string // Confirmedのときのみ
	Since         time.Time
}

// Pending は確認待ちの候補があるかを返す。
func (s Status) Pending() bool {
	return s.State == StateProposalPending && s.Candidate != ""
}

// IsEvent はmsgが提案状態を変化させるメッセージかを返す。
// 候補と確認要求を持つassistantメッセージ、確定・辞退のsystemエントリが該当する。
func IsEvent(msg *model.Message) bool {
	if msg == nil || msg.Metadata == nil {
		return false
	}
	meta := msg.Metadata
	switch msg.Role {
	case model.RoleAssistant:
		return meta.Candidate != "" && meta.NeedsConfirmation
	case model.RoleSystem:
		return meta.Intent == model.IntentConfirm || meta.Intent == model.IntentDecline
	}
	return false
}

// Derive はメッセージ列から現在の提案状態を導出する。
// messagesは古い順に並んでいることを前提とし、最後のイベントが状態を決める。
func Derive(messages []*model.Message) Status {
	for i := len(messages) - 1; i >= 0; i-- {
		if IsEvent(messages[i]) {
			return Apply(Status{State: StateIdle}, messages[i])
		}
	}
	return Status{State: StateIdle}
}

// Apply は現在の状態にメッセージを適用した次の状態を返す。
// 状態を変化させないメッセージの場合は現在の状態をそのまま返す。
func Apply(current Status, msg *model.Message) Status {
	if !IsEvent(msg) {
		return current
	}
	meta := msg.Metadata

	if msg.Role == model.RoleAssistant {
		// 新しい候補は前の提案を置き換える
		return Status{
			State:     StateProposalPending,
			Candidate: meta.Candidate,
			Since:     msg.CreatedAt,
		}
	}

	next := Status{Candidate: meta.Candidate, Since: msg.CreatedAt}
	if meta.Intent == model.IntentConfirm {
		next.State = StateConfirmed
		next.AppointmentID = meta.AppointmentID
	} else {
		next.State = StateDeclined
	}
	return next
}
