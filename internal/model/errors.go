// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, booking, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeEmptyMessage     = "EMPTY_MESSAGE"
	ErrCodeInvalidTimestamp = "INVALID_TIMESTAMP"
	ErrCodeInvalidToken     = "INVALID_SESSION_TOKEN"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeSlotConflict     = "SLOT_CONFLICT"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewEmptyMessageError は空メッセージの送信エラーを生成する。
func NewEmptyMessageError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyMessage,
		Message:  "メッセージが空です。",
		Category: "validation",
		Action:   "メッセージを入力してから送信してください。",
	}
}

// NewInvalidTimestampError は予約時刻のパース失敗エラーを生成する。
func NewInvalidTimestampError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimestamp,
		Message:  fmt.Sprintf("予約時刻の形式が正しくありません: %s", raw),
		Category: "validation",
		Action:   "ISO-8601形式（例: 2025-06-02T10:00:00Z）で指定してください。",
	}
}

// NewInvalidSessionTokenError はセッショントークン未指定エラーを生成する。
func NewInvalidSessionTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "セッショントークンが指定されていません。",
		Category: "validation",
		Action:   "session_tokenを指定してください。",
	}
}

// NewValidationError は汎用の入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewSlotConflictError は指定時刻が既に確定済みの場合のエラーを生成する。
// システム障害ではなく、ユーザーが別の時刻を選び直すことで回復できる。
func NewSlotConflictError(slot string) *APIError {
	return &APIError{
		Code:     ErrCodeSlotConflict,
		Message:  fmt.Sprintf("指定された時刻は既に予約済みです: %s", slot),
		Category: "booking",
		Action:   "別の時刻を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "トークンを発行し直してください。",
	}
}

// NewUnauthorizedError は認証トークンがない、または不正な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "Authorizationヘッダーに有効なBearerトークンを指定してください。",
	}
}

// NewInvalidRequestError はリクエストボディを解釈できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストの形式が正しくありません。",
		Category: "validation",
		Action:   "JSON形式でリクエストを送信してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
