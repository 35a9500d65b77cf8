package model

import "time"

// Role はメッセージの発話者を表す。
type Role string

const (
	// RoleUser はユーザーからの入力。
	RoleUser Role = "user"
	// RoleAssistant はアシスタントの応答。
	RoleAssistant Role = "assistant"
	// RoleSystem は確定・辞退などシステムが記録するエントリ。
	RoleSystem Role = "system"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// インテントラベル
const (
	IntentPropose  = "propose"
	IntentConfirm  = "confirm"
	IntentDecline  = "decline"
	IntentChat     = "chat"
	IntentDegraded = "degraded"
)

// MessageMetadata はメッセージに付随する構造化メタデータ。
// messages.metadata列にJSONBとして保存される。
type MessageMetadata struct {
	Candidate         string `json:"appointment_candidate,omitempty"`
	Intent            string `json:"intent,omitempty"`
	NeedsConfirmation bool   `json:"needs_confirmation,omitempty"`
	AppointmentID     string `json:"appointment_id,omitempty"`
	Degraded          bool   `json:"degraded,omitempty"`
}

// Message は会話トランスクリプトの1エントリを表す。
// 一度書き込まれたら変更されない。
type Message struct {
	ID           string
	Seq          int64 // 挿入順。created_atが同値の場合のタイブレークに使う
	UserID       string
	SessionToken string
	Role         Role
	Content      string
	Metadata     *MessageMetadata
	CreatedAt    time.Time
}
