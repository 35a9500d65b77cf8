package interpreter

import (
	"context"
	"log/slog"
)

// Chain は確認応答の判定をルールで行い、それ以外を主解釈器に任せる。
// 主解釈器が失敗した場合はルールベースの解釈に切り替える。
type Chain struct {
	primary Interpreter // nilの場合はルールのみ
	rules   *Rules
	logger  *slog.Logger
}

// NewChain はChainを生成する。
func NewChain(primary Interpreter, rules *Rules, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{primary: primary, rules: rules, logger: logger}
}

// Interpret は発話を解釈する。
// ctxの期限切れ以外ではルールベースの解釈で必ず応答する。
func (c *Chain) Interpret(ctx context.Context, req Request) (*Result, error) {
	if res := c.rules.React(req); res != nil {
		return res, nil
	}
	if c.primary == nil {
		return c.rules.Interpret(ctx, req)
	}

	res, err := c.primary.Interpret(ctx, req)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	c.logger.Warn("primary interpreter failed, falling back to rules",
		slog.String("error", err.Error()),
	)
	return c.rules.Interpret(ctx, req)
}
