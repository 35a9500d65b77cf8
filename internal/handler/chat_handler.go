package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chairside/internal/conversation"
	"github.com/hitoshi/chairside/internal/model"
	"github.com/hitoshi/chairside/internal/proposal"
)

// ConversationServiceInterface はメッセージ投稿に必要なサービスインターフェース。
type ConversationServiceInterface interface {
	PostMessage(ctx context.Context, identity conversation.Identity, token, text string) (*conversation.Reply, error)
}

// TranscriptServiceInterface はトランスクリプトの参照と削除に必要なサービスインターフェース。
type TranscriptServiceInterface interface {
	EnsureUser(ctx context.Context, subject, name string) (*model.User, error)
	ListMessages(ctx context.Context, userID, token string) ([]*model.Message, error)
	PurgeMessages(ctx context.Context, userID, token string) (int64, error)
	ProposalState(ctx context.Context, userID, token string) (proposal.Status, error)
}

// ChatHandler は会話APIのHTTPハンドラー。
type ChatHandler struct {
	conversation ConversationServiceInterface
	transcripts  TranscriptServiceInterface
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(conversation ConversationServiceInterface, transcripts TranscriptServiceInterface) *ChatHandler {
	return &ChatHandler{
		conversation: conversation,
		transcripts:  transcripts,
	}
}

// postMessageRequest はメッセージ投稿リクエストのボディ。
type postMessageRequest struct {
	Message      string `json:"message"`
	SessionToken string `json:"session_token"`
}

// postMessageResponse はメッセージ投稿のAPIレスポンス。
type postMessageResponse struct {
	Reply                string          `json:"reply"`
	AppointmentCandidate *string         `json:"appointment_candidate"`
	Intent               string          `json:"intent"`
	NeedsConfirmation    bool            `json:"needs_confirmation"`
	Degraded             bool            `json:"degraded"`
	Message              messageResponse `json:"message"`
}

// messageResponse はトランスクリプトの1エントリのAPIレスポンス。
type messageResponse struct {
	ID        string                 `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  *model.MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// sessionStateResponse は会話の確認状態のAPIレスポンス。
type sessionStateResponse struct {
	SessionToken         string     `json:"session_token"`
	State                string     `json:"state"`
	AppointmentCandidate string     `json:"appointment_candidate,omitempty"`
	AppointmentID        string     `json:"appointment_id,omitempty"`
	Since                *time.Time `json:"since,omitempty"`
}

// PostMessage はユーザーのメッセージを保存し、アシスタントの応答を返す。
// POST /api/chat/messages
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req postMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reply, err := h.conversation.PostMessage(r.Context(),
		conversation.Identity{Subject: id.Subject, Name: id.Name},
		req.SessionToken, req.Message)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := postMessageResponse{
		Reply:    reply.Reply.Content,
		Degraded: reply.Degraded,
		Message:  toMessageResponse(reply.Reply),
	}
	if meta := reply.Reply.Metadata; meta != nil {
		if meta.Candidate != "" {
			candidate := meta.Candidate
			resp.AppointmentCandidate = &candidate
		}
		resp.Intent = meta.Intent
		resp.NeedsConfirmation = meta.NeedsConfirmation
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMessages は会話のトランスクリプトを時系列順で返す。
// GET /api/chat/sessions/{token}/messages
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, token, ok := h.resolveScope(w, r)
	if !ok {
		return
	}

	msgs, err := h.transcripts.ListMessages(r.Context(), userID, token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]messageResponse, len(msgs))
	for i, m := range msgs {
		resp[i] = toMessageResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// PurgeMessages は会話のメッセージを全て削除する。
// ユーザーとセッションは残る。
// DELETE /api/chat/sessions/{token}/messages
func (h *ChatHandler) PurgeMessages(w http.ResponseWriter, r *http.Request) {
	userID, token, ok := h.resolveScope(w, r)
	if !ok {
		return
	}

	deleted, err := h.transcripts.PurgeMessages(r.Context(), userID, token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// GetSession は会話の確認状態を返す。
// GET /api/chat/sessions/{token}
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, token, ok := h.resolveScope(w, r)
	if !ok {
		return
	}

	status, err := h.transcripts.ProposalState(r.Context(), userID, token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := sessionStateResponse{
		SessionToken:         token,
		State:                string(status.State),
		AppointmentCandidate: status.Candidate,
		AppointmentID:        status.AppointmentID,
	}
	if !status.Since.IsZero() {
		since := status.Since
		resp.Since = &since
	}
	writeJSON(w, http.StatusOK, resp)
}

// resolveScope は呼び出し元のユーザーIDとURLのセッショントークンを解決する。
func (h *ChatHandler) resolveScope(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return "", "", false
	}

	user, err := h.transcripts.EnsureUser(r.Context(), id.Subject, id.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return "", "", false
	}

	return user.ID, chi.URLParam(r, "token"), true
}

func toMessageResponse(m *model.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
	}
}
