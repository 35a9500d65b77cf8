// Package conversation はチャットメッセージ1件の処理を組み立てる。
//
// 受信メッセージは解釈器を呼び出す前に保存される。解釈器が失敗しても
// 受信メッセージは失われず、縮退応答がassistantメッセージとして保存される。
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chairside/internal/interpreter"
	"github.com/hitoshi/chairside/internal/metrics"
	"github.com/hitoshi/chairside/internal/model"
	"github.com/hitoshi/chairside/internal/proposal"
	"github.com/hitoshi/chairside/internal/security"
	"github.com/hitoshi/chairside/internal/session"
)

// DefaultInterpreterTimeout は解釈器呼び出しの既定のタイムアウト。
const DefaultInterpreterTimeout = 10 * time.Second

// DegradedReply は解釈器が利用できない場合に返す応答。
const DegradedReply = "Sorry, I'm having trouble understanding right now. Your message was saved; please try again in a moment."

// sourceNone は解釈結果が得られなかった場合のメトリクスラベル。
const sourceNone = "none"

// SessionStore は会話処理が使うセッションストアの操作。
type SessionStore interface {
	EnsureUser(ctx context.Context, subject, name string) (*model.User, error)
	EnsureSession(ctx context.Context, userID, token string) (*model.Session, error)
	AppendMessage(ctx context.Context, userID, token string, role model.Role, content string, meta *model.MessageMetadata) (*model.Message, error)
	ProposalState(ctx context.Context, userID, token string) (proposal.Status, error)
}

// Identity は認証済みの呼び出し元。
type Identity struct {
	Subject string
	Name    string
}

// Reply はPostMessageの結果。
type Reply struct {
	UserID   string
	Inbound  *model.Message
	Reply    *model.Message
	Degraded bool
}

// Config はOrchestratorの設定。
type Config struct {
	InterpreterTimeout time.Duration
	Location           *time.Location // タイムゾーンなしの候補時刻を解釈するタイムゾーン
}

// Orchestrator はメッセージの検証、保存、解釈、応答の保存を順に行う。
type Orchestrator struct {
	store       SessionStore
	interpreter interpreter.Interpreter
	sanitizer   security.ContentSanitizerService
	metrics     metrics.MetricsCollector
	config      Config
}

// NewOrchestrator はOrchestratorを生成する。metricsはnilでもよい。
func NewOrchestrator(
	store SessionStore,
	interp interpreter.Interpreter,
	sanitizer security.ContentSanitizerService,
	collector metrics.MetricsCollector,
	config Config,
) *Orchestrator {
	if config.InterpreterTimeout <= 0 {
		config.InterpreterTimeout = DefaultInterpreterTimeout
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Orchestrator{
		store:       store,
		interpreter: interp,
		sanitizer:   sanitizer,
		metrics:     collector,
		config:      config,
	}
}

// PostMessage はユーザーのメッセージを処理し、保存した応答を返す。
// 空のメッセージは何も書き込まずに検証エラーになる。
// 解釈器の失敗は縮退応答として扱い、エラーにはしない。
func (o *Orchestrator) PostMessage(ctx context.Context, identity Identity, token, text string) (*Reply, error) {
	content := text
	if o.sanitizer != nil {
		content = o.sanitizer.Sanitize(text)
	}
	if content == "" {
		return nil, model.NewEmptyMessageError()
	}
	if err := session.ValidateToken(token); err != nil {
		return nil, err
	}

	user, err := o.store.EnsureUser(ctx, identity.Subject, identity.Name)
	if err != nil {
		return nil, err
	}
	if _, err := o.store.EnsureSession(ctx, user.ID, token); err != nil {
		return nil, err
	}

	// 受信メッセージを保存する前に提案状態を読む。
	// 受信メッセージは提案状態を変えないため順序は結果に影響しない。
	state, err := o.store.ProposalState(ctx, user.ID, token)
	if err != nil {
		return nil, err
	}

	inbound, err := o.store.AppendMessage(ctx, user.ID, token, model.RoleUser, content, nil)
	if err != nil {
		return nil, err
	}
	o.recordMessage(model.RoleUser)

	req := interpreter.Request{
		Message:      content,
		Subject:      identity.Subject,
		SessionToken: token,
	}
	if state.Pending() {
		req.PendingCandidate = state.Candidate
	}

	result, interpErr := o.interpret(ctx, req)

	var replyContent string
	var meta *model.MessageMetadata
	degraded := interpErr != nil
	if degraded {
		slog.Warn("interpreter unavailable, replying degraded",
			slog.String("user_id", user.ID),
			slog.String("session_token", token),
			slog.String("error", interpErr.Error()),
		)
		replyContent = DegradedReply
		meta = &model.MessageMetadata{Intent: model.IntentDegraded, Degraded: true}
		o.recordInterpreter(sourceNone, metrics.InterpreterDegraded)
	} else {
		replyContent = result.Reply
		meta = &model.MessageMetadata{
			Candidate:         result.Candidate,
			Intent:            result.Intent,
			NeedsConfirmation: result.NeedsConfirmation,
		}
		o.recordInterpreter(result.Source, metrics.InterpreterOK)
	}

	// 解釈器のタイムアウトで呼び出し元のctxは切れていないため、そのまま保存に使う
	reply, err := o.store.AppendMessage(ctx, user.ID, token, model.RoleAssistant, replyContent, meta)
	if err != nil {
		return nil, err
	}
	o.recordMessage(model.RoleAssistant)

	return &Reply{
		UserID:   user.ID,
		Inbound:  inbound,
		Reply:    reply,
		Degraded: degraded,
	}, nil
}

// interpret は解釈器をタイムアウト付きで呼び出し、結果を検証する。
// 解釈器がctxを無視しても、タイムアウトを過ぎたら結果を待たずに戻る。
func (o *Orchestrator) interpret(ctx context.Context, req interpreter.Request) (*interpreter.Result, error) {
	ictx, cancel := context.WithTimeout(ctx, o.config.InterpreterTimeout)
	defer cancel()

	type outcome struct {
		result *interpreter.Result
		err    error
	}
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		res, err := o.interpreter.Interpret(ictx, req)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ictx.Done():
		out.err = ictx.Err()
	}
	if o.metrics != nil {
		o.metrics.RecordInterpreterLatency(time.Since(start))
	}

	if out.err != nil {
		if errors.Is(ictx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s: %v", interpreter.ErrUnavailable, o.config.InterpreterTimeout, out.err)
		}
		return nil, out.err
	}
	if err := o.validateResult(out.result); err != nil {
		return nil, err
	}
	return out.result, nil
}

// validateResult は解釈結果が保存できる形かを確認する。
// 候補時刻はパースできるものに限り、正規化した表記に置き換える。
func (o *Orchestrator) validateResult(result *interpreter.Result) error {
	if result == nil || result.Reply == "" {
		return fmt.Errorf("%w: empty reply", interpreter.ErrMalformed)
	}
	if result.Candidate != "" {
		slot, err := model.ParseSlotIn(result.Candidate, o.config.Location)
		if err != nil {
			return fmt.Errorf("%w: candidate %q: %v", interpreter.ErrMalformed, result.Candidate, err)
		}
		result.Candidate = model.FormatSlot(slot)
	}
	if result.Candidate == "" {
		result.NeedsConfirmation = false
	}
	if result.Intent == "" {
		if result.NeedsConfirmation {
			result.Intent = model.IntentPropose
		} else {
			result.Intent = model.IntentChat
		}
	}
	return nil
}

func (o *Orchestrator) recordMessage(role model.Role) {
	if o.metrics != nil {
		o.metrics.RecordMessage(string(role))
	}
}

func (o *Orchestrator) recordInterpreter(source, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordInterpreterOutcome(source, outcome)
	}
}
