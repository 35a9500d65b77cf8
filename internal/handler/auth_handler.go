package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/chairside/internal/auth"
	"github.com/hitoshi/chairside/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	IssueToken(ctx context.Context, subject, name string) (*auth.IssuedToken, error)
	CurrentUser(ctx context.Context, subject, name string) (*model.User, error)
}

// AuthHandler はトークン発行と呼び出し元情報のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// issueTokenRequest はトークン発行リクエストのボディ。
type issueTokenRequest struct {
	Subject string `json:"subject"`
	Name    string `json:"name"`
}

// tokenResponse はトークン発行のAPIレスポンス。
type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        userResponse `json:"user"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject,omitempty"`
}

// IssueToken はsubjectのユーザーを作成または取得し、ベアラートークンを発行する。
// POST /auth/token
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	issued, err := h.service.IssueToken(r.Context(), req.Subject, req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresAt:   issued.ExpiresAt,
		User:        userResponse{ID: issued.User.ID, Name: issued.User.Name},
	})
}

// Me は現在の呼び出し元のユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	user, err := h.service.CurrentUser(r.Context(), id.Subject, id.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Name: user.Name, Subject: id.Subject})
}
