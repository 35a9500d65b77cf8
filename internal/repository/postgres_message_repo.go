package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/chairside/internal/model"
)

// rowQuerier は*sql.DBと*sql.Txの共通部分。
// 予約確定のトランザクション内でもメッセージを挿入できるようにする。
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// Append はメッセージを1件追加する。
func (r *PostgresMessageRepo) Append(ctx context.Context, msg *model.Message) error {
	return insertMessage(ctx, r.db, msg)
}

// ListBySession はセッションの全メッセージをcreated_at昇順（同値はseq昇順）で返す。
func (r *PostgresMessageRepo) ListBySession(ctx context.Context, userID, token string) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, seq, user_id, session_token, role, content, metadata, created_at
		 FROM messages
		 WHERE user_id = $1 AND session_token = $2
		 ORDER BY created_at ASC, seq ASC`,
		userID, token,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// DeleteBySession はセッションの全メッセージを削除し、削除件数を返す。
// sessions、usersの行は残る。
func (r *PostgresMessageRepo) DeleteBySession(ctx context.Context, userID, token string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE user_id = $1 AND session_token = $2`,
		userID, token,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// LatestProposalEvent は提案状態を決める最新のメッセージを返す。見つからない場合はnilを返す。
func (r *PostgresMessageRepo) LatestProposalEvent(ctx context.Context, userID, token string) (*model.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, seq, user_id, session_token, role, content, metadata, created_at
		 FROM messages
		 WHERE user_id = $1 AND session_token = $2
		   AND (
		     (role = 'assistant'
		      AND metadata->>'needs_confirmation' = 'true'
		      AND COALESCE(metadata->>'appointment_candidate', '') <> '')
		     OR (role = 'system' AND metadata->>'intent' IN ('confirm', 'decline'))
		   )
		 ORDER BY created_at DESC, seq DESC
		 LIMIT 1`,
		userID, token,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// insertMessage はメッセージを挿入し、採番されたseqをmsgに設定する。
func insertMessage(ctx context.Context, q rowQuerier, msg *model.Message) error {
	// lib/pqは[]byteをbyteaとして送るため、JSONBには文字列で渡す
	var metadata sql.NullString
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode message metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	err := q.QueryRowContext(ctx,
		`INSERT INTO messages (id, user_id, session_token, role, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING seq`,
		msg.ID, msg.UserID, msg.SessionToken, string(msg.Role), msg.Content, metadata, msg.CreatedAt,
	).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// scanner は*sql.Rowと*sql.Rowsの共通部分。
type scanner interface {
	Scan(dest ...any) error
}

// scanMessage はmessagesテーブルの1行をmodel.Messageに変換する。
func scanMessage(s scanner) (*model.Message, error) {
	msg := &model.Message{}
	var role string
	var metadata []byte

	err := s.Scan(&msg.ID, &msg.Seq, &msg.UserID, &msg.SessionToken, &role, &msg.Content, &metadata, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.Role = model.Role(role)
	if len(metadata) > 0 {
		msg.Metadata = &model.MessageMetadata{}
		if err := json.Unmarshal(metadata, msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode message metadata: %w", err)
		}
	}

	return msg, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
