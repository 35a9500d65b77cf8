// Package session はユーザー、会話セッション、トランスクリプトの管理を提供する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/chairside/internal/model"
	"github.com/hitoshi/chairside/internal/proposal"
	"github.com/hitoshi/chairside/internal/repository"
)

// Issuer はidentitiesテーブルに記録するsubjectの発行元。
const Issuer = "chairside"

// maxTokenLength はクライアントが指定できるセッショントークンの最大長。
const maxTokenLength = 128

// Service はセッションストアのサービス層。
type Service struct {
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	messageRepo repository.MessageRepository
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	messageRepo repository.MessageRepository,
) *Service {
	return &Service{
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		now:         time.Now,
	}
}

// EnsureUser はsubjectに対応するユーザーを取得し、未登録なら作成する。
// 同じsubjectで並行に呼ばれてもユーザーは1件しか作られない。
// nameが空でなく登録済みの表示名と異なる場合は更新する。
func (s *Service) EnsureUser(ctx context.Context, subject, name string) (*model.User, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, model.NewValidationError("subjectが空です")
	}

	user, err := s.findUserBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return s.refreshName(ctx, user, name)
	}

	now := s.now()
	newUser := &model.User{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity := &model.Identity{
		ID:        uuid.New().String(),
		UserID:    newUser.ID,
		Issuer:    Issuer,
		Subject:   subject,
		CreatedAt: now,
	}

	err = s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity)
	if err == nil {
		slog.Info("new user created",
			slog.String("user_id", newUser.ID),
			slog.String("subject", subject),
		)
		return newUser, nil
	}
	if !repository.IsUniqueViolation(err) {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	// 並行リクエストが先に作成した。そちらのユーザーを使う
	user, err = s.findUserBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("identity for subject %q not found after unique violation", subject)
	}
	return s.refreshName(ctx, user, name)
}

func (s *Service) findUserBySubject(ctx context.Context, subject string) (*model.User, error) {
	identity, err := s.identRepo.FindBySubject(ctx, Issuer, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) refreshName(ctx context.Context, user *model.User, name string) (*model.User, error) {
	if name == "" || name == user.Name {
		return user, nil
	}
	if err := s.userRepo.UpdateName(ctx, user.ID, name); err != nil {
		return nil, fmt.Errorf("failed to update user name: %w", err)
	}
	user.Name = name
	return user, nil
}

// GetUser はIDでユーザーを取得する。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// ValidateToken はクライアントが指定したセッショントークンを検証する。
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return model.NewInvalidSessionTokenError()
	}
	if utf8.RuneCountInString(token) > maxTokenLength {
		return model.NewValidationError(fmt.Sprintf("session_tokenは%d文字以内で指定してください", maxTokenLength))
	}
	return nil
}

// EnsureSession は(userID, token)のセッションを取得し、未作成なら作成する。
// 別ユーザーが同じトークンを使っている場合も、このユーザーの新しいセッションになる。
func (s *Service) EnsureSession(ctx context.Context, userID, token string) (*model.Session, error) {
	if err := ValidateToken(token); err != nil {
		return nil, err
	}

	sess, err := s.sessionRepo.Ensure(ctx, &model.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Token:     token,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure session: %w", err)
	}
	return sess, nil
}

// AppendMessage はトランスクリプトにメッセージを1件追加する。
func (s *Service) AppendMessage(ctx context.Context, userID, token string, role model.Role, content string, meta *model.MessageMetadata) (*model.Message, error) {
	if !role.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明なロールです: %s", role))
	}
	if err := ValidateToken(token); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:           uuid.New().String(),
		UserID:       userID,
		SessionToken: token,
		Role:         role,
		Content:      content,
		Metadata:     meta,
		CreatedAt:    s.now(),
	}
	if err := s.messageRepo.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

// ListMessages はセッションのメッセージを古い順に返す。
func (s *Service) ListMessages(ctx context.Context, userID, token string) ([]*model.Message, error) {
	if err := ValidateToken(token); err != nil {
		return nil, err
	}

	msgs, err := s.messageRepo.ListBySession(ctx, userID, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// PurgeMessages はセッションの全メッセージを削除する。元に戻すことはできない。
// ユーザーとセッションの行は残る。
func (s *Service) PurgeMessages(ctx context.Context, userID, token string) (int64, error) {
	if err := ValidateToken(token); err != nil {
		return 0, err
	}

	n, err := s.messageRepo.DeleteBySession(ctx, userID, token)
	if err != nil {
		return 0, fmt.Errorf("failed to purge messages: %w", err)
	}

	slog.Info("messages purged",
		slog.String("user_id", userID),
		slog.String("session_token", token),
		slog.Int64("deleted", n),
	)
	return n, nil
}

// ProposalState はセッションの現在の提案状態をトランスクリプトから導出する。
func (s *Service) ProposalState(ctx context.Context, userID, token string) (proposal.Status, error) {
	if err := ValidateToken(token); err != nil {
		return proposal.Status{}, err
	}

	event, err := s.messageRepo.LatestProposalEvent(ctx, userID, token)
	if err != nil {
		return proposal.Status{}, fmt.Errorf("failed to load proposal event: %w", err)
	}
	if event == nil {
		return proposal.Status{State: proposal.StateIdle}, nil
	}
	return proposal.Derive([]*model.Message{event}), nil
}
