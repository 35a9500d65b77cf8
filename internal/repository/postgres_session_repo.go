package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/chairside/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Ensure は(user_id, token)のセッションを冪等に作成し、保存済みの行を返す。
// INSERT ... ON CONFLICT DO NOTHINGの後に別ステートメントで読み直すため、
// 並行して同じトークンが作成された場合も先にコミットされた行が返る。
func (r *PostgresSessionRepo) Ensure(ctx context.Context, session *model.Session) (*model.Session, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, token) DO NOTHING`,
		session.ID, session.UserID, session.Token, session.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure session: %w", err)
	}

	stored, err := r.FindByUserAndToken(ctx, session.UserID, session.Token)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("session disappeared after ensure: user=%s", session.UserID)
	}
	return stored, nil
}

// FindByUserAndToken はセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByUserAndToken(ctx context.Context, userID, token string) (*model.Session, error) {
	session := &model.Session{}
	var endedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token, created_at, ended_at
		 FROM sessions
		 WHERE user_id = $1 AND token = $2`,
		userID, token,
	).Scan(&session.ID, &session.UserID, &session.Token, &session.CreatedAt, &endedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}

	return session, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
