// Package model はドメインモデルを定義する。
package model

import "time"

// User は予約アシスタントを利用するユーザーを表す。
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity はトークンの発行元とsubjectクレームの組をユーザーに紐付ける。
// subjectは派生値に埋め込まず、受け取った値をそのまま不変の列として保持する。
type Identity struct {
	ID        string
	UserID    string
	Issuer    string
	Subject   string
	CreatedAt time.Time
}

// Session はクライアントが生成したトークンで識別される会話を表す。
// トークンは最初に紐付いたユーザーのスコープ内で一意。
type Session struct {
	ID        string
	UserID    string
	Token     string
	CreatedAt time.Time
	EndedAt   *time.Time
}
