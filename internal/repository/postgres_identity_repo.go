package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/chairside/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindBySubject は発行元とsubjectの組でidentityを検索する。
// subjectは大文字小文字を区別して完全一致で比較する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindBySubject(ctx context.Context, issuer, subject string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, issuer, subject, created_at
		 FROM identities
		 WHERE issuer = $1 AND subject = $2`,
		issuer, subject,
	).Scan(&identity.ID, &identity.UserID, &identity.Issuer, &identity.Subject, &identity.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity for subject: %w", err)
	}

	return identity, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
