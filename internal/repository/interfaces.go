// Package repository はデータ永続化のインターフェースとPostgreSQL実装を定義する。
package repository

import (
	"context"

	"github.com/hitoshi/chairside/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// 同じsubjectが並行して作成された場合はユニーク制約違反のエラーをラップして返す。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateName は表示名を更新する。
	UpdateName(ctx context.Context, id, name string) error
}

// IdentityRepository は外部subjectの紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindBySubject は発行元とsubjectの組でidentityを検索する。
	// 見つからない場合はnilを返す。
	FindBySubject(ctx context.Context, issuer, subject string) (*model.Identity, error)
}

// SessionRepository は会話セッションの永続化インターフェース。
type SessionRepository interface {
	// Ensure は(user_id, token)のセッションを冪等に作成し、保存済みの行を返す。
	Ensure(ctx context.Context, session *model.Session) (*model.Session, error)

	// FindByUserAndToken はセッションを取得する。見つからない場合はnilを返す。
	FindByUserAndToken(ctx context.Context, userID, token string) (*model.Session, error)
}

// MessageRepository は会話トランスクリプトの永続化インターフェース。
type MessageRepository interface {
	// Append はメッセージを1件追加する。msg.Seqには採番された挿入順が設定される。
	Append(ctx context.Context, msg *model.Message) error

	// ListBySession はセッションの全メッセージをcreated_at昇順（同値はseq昇順）で返す。
	ListBySession(ctx context.Context, userID, token string) ([]*model.Message, error)

	// DeleteBySession はセッションの全メッセージを削除し、削除件数を返す。
	DeleteBySession(ctx context.Context, userID, token string) (int64, error)

	// LatestProposalEvent は提案状態を決める最新のメッセージを返す。
	// 確認待ちの候補を持つassistantメッセージ、または確定・辞退のsystemエントリが対象。
	// 見つからない場合はnilを返す。
	LatestProposalEvent(ctx context.Context, userID, token string) (*model.Message, error)
}

// AppointmentRepository は予約データの永続化インターフェース。
type AppointmentRepository interface {
	// Confirm は確定済み予約の存在確認、予約の挿入、トランスクリプトへの記録を
	// 1つのトランザクションで行う。
	// 事前確認で確定済み予約が見つかった場合はmodel.ErrSlotTakenを返し、何も書き込まない。
	// 事前確認の後に並行トランザクションが先にコミットした場合は
	// ストレージのユニーク制約違反がラップされて返る。
	Confirm(ctx context.Context, appt *model.Appointment, entry *model.Message) error

	// ListByUserID はユーザーの予約をscheduled_at昇順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Appointment, error)
}
