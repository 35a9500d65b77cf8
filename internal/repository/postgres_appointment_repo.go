package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/chairside/internal/database"
	"github.com/hitoshi/chairside/internal/model"
)

// PostgresAppointmentRepo はPostgreSQLを使用した予約リポジトリ。
// 確定済み予約の一意性は ConfirmedSlotConstraint 部分ユニークインデックスが最終的に保証する。
type PostgresAppointmentRepo struct {
	db *sql.DB
}

// NewPostgresAppointmentRepo はPostgresAppointmentRepoを生成する。
func NewPostgresAppointmentRepo(db *sql.DB) *PostgresAppointmentRepo {
	return &PostgresAppointmentRepo{db: db}
}

// Confirm は存在確認、予約の挿入、トランスクリプトへの記録を1つのトランザクションで行う。
func (r *PostgresAppointmentRepo) Confirm(ctx context.Context, appt *model.Appointment, entry *model.Message) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM appointments WHERE scheduled_at = $1 AND status = 'confirmed'
			 )`,
			appt.ScheduledAt,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check confirmed slot: %w", err)
		}
		if exists {
			return model.ErrSlotTaken
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO appointments (id, user_id, scheduled_at, status, notes, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			appt.ID, appt.UserID, appt.ScheduledAt, string(appt.Status), appt.Notes, appt.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert appointment: %w", err)
		}

		if entry != nil {
			if err := insertMessage(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListByUserID はユーザーの予約をscheduled_at昇順で返す。
func (r *PostgresAppointmentRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Appointment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, scheduled_at, status, notes, created_at
		 FROM appointments
		 WHERE user_id = $1
		 ORDER BY scheduled_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	appts := make([]*model.Appointment, 0)
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointments: %w", err)
	}
	return appts, nil
}

// scanAppointment はappointmentsテーブルの1行をmodel.Appointmentに変換する。
func scanAppointment(s scanner) (*model.Appointment, error) {
	appt := &model.Appointment{}
	var status string
	err := s.Scan(&appt.ID, &appt.UserID, &appt.ScheduledAt, &status, &appt.Notes, &appt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan appointment: %w", err)
	}
	appt.Status = model.AppointmentStatus(status)
	return appt, nil
}

// compile-time interface check
var _ AppointmentRepository = (*PostgresAppointmentRepo)(nil)
