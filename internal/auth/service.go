// Package auth はベアラートークンの発行と検証を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/chairside/internal/model"
)

// maxSubjectLength はsubjectクレームの最大長。
const maxSubjectLength = 255

// UserEnsurer はsubjectに対応するユーザーを用意するインターフェース。
type UserEnsurer interface {
	EnsureUser(ctx context.Context, subject, name string) (*model.User, error)
}

// IssuedToken は発行したトークンと対象ユーザー。
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	tokens *TokenManager
	users  UserEnsurer
}

// NewService はServiceを生成する。
func NewService(tokens *TokenManager, users UserEnsurer) *Service {
	return &Service{tokens: tokens, users: users}
}

// IssueToken はsubjectのユーザーを用意し、そのユーザー向けのトークンを発行する。
// 初回発行時にusersレコードとidentitiesレコードが作成される。
func (s *Service) IssueToken(ctx context.Context, subject, name string) (*IssuedToken, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, model.NewValidationError("subjectを指定してください")
	}
	if len(subject) > maxSubjectLength {
		return nil, model.NewValidationError(fmt.Sprintf("subjectは%d文字以内で指定してください", maxSubjectLength))
	}

	user, err := s.users.EnsureUser(ctx, subject, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.Issue(subject, user.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("token issued",
		slog.String("user_id", user.ID),
		slog.Time("expires_at", expiresAt),
	)

	return &IssuedToken{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Authenticate はトークンを検証し、クレームを返す。
func (s *Service) Authenticate(raw string) (*Claims, error) {
	return s.tokens.Verify(raw)
}

// CurrentUser は認証済みのsubjectに対応するユーザーを返す。
// トークン発行後にユーザーが未作成の場合もここで作成される。
func (s *Service) CurrentUser(ctx context.Context, subject, name string) (*model.User, error) {
	return s.users.EnsureUser(ctx, subject, name)
}
