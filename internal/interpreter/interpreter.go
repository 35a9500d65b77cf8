// Package interpreter はユーザーの発話から返信文と予約候補時刻を導く解釈器を提供する。
//
// 解釈器は状態を持たない。確認待ちの候補はトランスクリプトから導出して
// Request.PendingCandidateで渡す。
package interpreter

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable は解釈器に到達できない、または応答がなかったことを表す。
	ErrUnavailable = errors.New("interpreter unavailable")
	// ErrMalformed は解釈器の応答が契約を満たさないことを表す。
	ErrMalformed = errors.New("interpreter returned malformed payload")
)

// Request は解釈器への入力。
type Request struct {
	Message          string
	Subject          string
	SessionToken     string
	PendingCandidate string // 確認待ちの候補時刻。なければ空
}

// Result は解釈結果。
type Result struct {
	Reply             string
	Candidate         string
	Intent            string
	NeedsConfirmation bool
	Source            string // 応答した解釈器の名前
}

// Interpreter は発話を解釈する。
// 実装は副作用を持たないため、失敗時の再試行は安全に行える。
type Interpreter interface {
	Interpret(ctx context.Context, req Request) (*Result, error)
}
