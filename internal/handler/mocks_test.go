package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chairside/internal/auth"
	"github.com/hitoshi/chairside/internal/conversation"
	"github.com/hitoshi/chairside/internal/middleware"
	"github.com/hitoshi/chairside/internal/model"
	"github.com/hitoshi/chairside/internal/proposal"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	issueTokenFn  func(ctx context.Context, subject, name string) (*auth.IssuedToken, error)
	currentUserFn func(ctx context.Context, subject, name string) (*model.User, error)
}

func (m *mockAuthService) IssueToken(ctx context.Context, subject, name string) (*auth.IssuedToken, error) {
	if m.issueTokenFn != nil {
		return m.issueTokenFn(ctx, subject, name)
	}
	return nil, nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, subject, name string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, subject, name)
	}
	return &model.User{ID: "user-" + subject, Name: name}, nil
}

// mockConversation はConversationServiceInterfaceのモック実装。
type mockConversation struct {
	postMessageFn func(ctx context.Context, identity conversation.Identity, token, text string) (*conversation.Reply, error)
}

func (m *mockConversation) PostMessage(ctx context.Context, identity conversation.Identity, token, text string) (*conversation.Reply, error) {
	if m.postMessageFn != nil {
		return m.postMessageFn(ctx, identity, token, text)
	}
	return nil, nil
}

// mockTranscripts はTranscriptServiceInterfaceとUserResolverのモック実装。
// EnsureUserは既定でsubjectからユーザーIDを導出する。
type mockTranscripts struct {
	ensureUserFn    func(ctx context.Context, subject, name string) (*model.User, error)
	listMessagesFn  func(ctx context.Context, userID, token string) ([]*model.Message, error)
	purgeMessagesFn func(ctx context.Context, userID, token string) (int64, error)
	proposalStateFn func(ctx context.Context, userID, token string) (proposal.Status, error)
}

func (m *mockTranscripts) EnsureUser(ctx context.Context, subject, name string) (*model.User, error) {
	if m.ensureUserFn != nil {
		return m.ensureUserFn(ctx, subject, name)
	}
	return &model.User{ID: "user-" + subject, Name: name}, nil
}

func (m *mockTranscripts) ListMessages(ctx context.Context, userID, token string) ([]*model.Message, error) {
	if m.listMessagesFn != nil {
		return m.listMessagesFn(ctx, userID, token)
	}
	return nil, nil
}

func (m *mockTranscripts) PurgeMessages(ctx context.Context, userID, token string) (int64, error) {
	if m.purgeMessagesFn != nil {
		return m.purgeMessagesFn(ctx, userID, token)
	}
	return 0, nil
}

func (m *mockTranscripts) ProposalState(ctx context.Context, userID, token string) (proposal.Status, error) {
	if m.proposalStateFn != nil {
		return m.proposalStateFn(ctx, userID, token)
	}
	return proposal.Status{State: proposal.StateIdle}, nil
}

// mockLedger はLedgerServiceInterfaceのモック実装。
type mockLedger struct {
	confirmFn          func(ctx context.Context, userID, token, scheduledAt string) (*model.Appointment, error)
	declineFn          func(ctx context.Context, userID, token, scheduledAt string) error
	listAppointmentsFn func(ctx context.Context, userID string) ([]*model.Appointment, error)
}

func (m *mockLedger) Confirm(ctx context.Context, userID, token, scheduledAt string) (*model.Appointment, error) {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, userID, token, scheduledAt)
	}
	return nil, nil
}

func (m *mockLedger) Decline(ctx context.Context, userID, token, scheduledAt string) error {
	if m.declineFn != nil {
		return m.declineFn(ctx, userID, token, scheduledAt)
	}
	return nil
}

func (m *mockLedger) ListAppointments(ctx context.Context, userID string) ([]*model.Appointment, error) {
	if m.listAppointmentsFn != nil {
		return m.listAppointmentsFn(ctx, userID)
	}
	return nil, nil
}

// --- テストヘルパー ---

// withIdentity はテスト用にリクエストコンテキストに呼び出し元を注入するヘルパー。
func withIdentity(r *http.Request, subject string) *http.Request {
	ctx := middleware.ContextWithIdentity(r.Context(), middleware.Identity{Subject: subject, Name: "Test"})
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}
