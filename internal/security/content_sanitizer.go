// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はチャットに投稿されたテキストからマークアップを除去し、
// トランスクリプトには常にプレーンテキストだけが保存されるようにする。
// bluemondayのStrictPolicyで全てのタグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はチャット本文のサニタイズ機能のインターフェースを定義する。
// メッセージの保存前に使用される。
type ContentSanitizerService interface {
	// Sanitize は入力から全てのHTMLタグを除去したプレーンテキストを返す。
	// script, styleなどの要素は中身ごと除去される。
	// HTMLエンティティは元の文字に戻し、前後の空白を取り除く。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はチャット本文をプレーンテキストに変換する。
func (s *contentSanitizer) Sanitize(raw string) string {
	// StrictPolicyは出力をエスケープするため、"don't"などの語彙判定用に戻す
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
