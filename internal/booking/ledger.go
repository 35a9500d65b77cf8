// Package booking は予約枠の確定と辞退を扱う予約台帳を提供する。
//
// 診療台は1台のみのため、確定済み予約は時刻の値だけで一意になる。
// 同一時刻への並行した確定は、トランザクション内の事前確認と
// データベースの部分ユニークインデックスの両方で1件に絞られる。
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chairside/internal/metrics"
	"github.com/hitoshi/chairside/internal/model"
	"github.com/hitoshi/chairside/internal/repository"
)

// SessionWriter は予約台帳が使うセッションストアの操作。
// 確定・辞退の記録は、書き込む前に(userID, token)のセッションを用意する。
type SessionWriter interface {
	EnsureSession(ctx context.Context, userID, token string) (*model.Session, error)
	AppendMessage(ctx context.Context, userID, token string, role model.Role, content string, meta *model.MessageMetadata) (*model.Message, error)
}

// Ledger は予約台帳のサービス層。
type Ledger struct {
	apptRepo repository.AppointmentRepository
	sessions SessionWriter
	metrics  metrics.MetricsCollector
	loc      *time.Location
	now      func() time.Time
}

// NewLedger はLedgerを生成する。metricsはnilでもよい。
// locはタイムゾーンなしで指定された時刻を解釈するクリニックのタイムゾーン。
func NewLedger(apptRepo repository.AppointmentRepository, sessions SessionWriter, collector metrics.MetricsCollector, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		apptRepo: apptRepo,
		sessions: sessions,
		metrics:  collector,
		loc:      loc,
		now:      time.Now,
	}
}

// Confirm は指定時刻の予約を確定する。
// 時刻が不正な場合は何も書き込まずに検証エラーを返す。
// 初めて使われるトークンであれば、予約より先にセッションを作成する。
// 既に確定済みの予約がある場合は、事前確認で見つかったか
// ユニーク制約違反で検出されたかに関わらずSLOT_CONFLICTを返す。
func (l *Ledger) Confirm(ctx context.Context, userID, token, scheduledAt string) (*model.Appointment, error) {
	slot, err := model.ParseSlotIn(scheduledAt, l.loc)
	if err != nil {
		l.record(metrics.BookingInvalid)
		return nil, model.NewInvalidTimestampError(scheduledAt)
	}
	if token == "" {
		l.record(metrics.BookingInvalid)
		return nil, model.NewInvalidSessionTokenError()
	}
	if err := l.ensureSession(ctx, userID, token); err != nil {
		return nil, err
	}

	now := l.now()
	appt := &model.Appointment{
		ID:          uuid.New().String(),
		UserID:      userID,
		ScheduledAt: slot,
		Status:      model.AppointmentStatusConfirmed,
		CreatedAt:   now,
	}
	formatted := model.FormatSlot(slot)
	entry := &model.Message{
		ID:           uuid.New().String(),
		UserID:       userID,
		SessionToken: token,
		Role:         model.RoleSystem,
		Content:      fmt.Sprintf("Appointment confirmed for %s.", formatted),
		Metadata: &model.MessageMetadata{
			Candidate:     formatted,
			Intent:        model.IntentConfirm,
			AppointmentID: appt.ID,
		},
		CreatedAt: now,
	}

	err = l.apptRepo.Confirm(ctx, appt, entry)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrSlotTaken) || repository.ViolatedConstraint(err) == repository.ConfirmedSlotConstraint:
		l.record(metrics.BookingConflict)
		slog.Info("slot already confirmed",
			slog.String("user_id", userID),
			slog.String("scheduled_at", formatted),
		)
		return nil, model.NewSlotConflictError(formatted)
	default:
		l.record(metrics.BookingError)
		return nil, fmt.Errorf("failed to confirm appointment: %w", err)
	}

	l.record(metrics.BookingConfirmed)
	slog.Info("appointment confirmed",
		slog.String("user_id", userID),
		slog.String("appointment_id", appt.ID),
		slog.String("scheduled_at", formatted),
	)
	return appt, nil
}

// Decline は提案された時刻の辞退をトランスクリプトに記録する。
// 予約には一切触れない。scheduledAtは検証せずそのまま記録する。
func (l *Ledger) Decline(ctx context.Context, userID, token, scheduledAt string) error {
	if err := l.ensureSession(ctx, userID, token); err != nil {
		return err
	}

	content := "Proposed appointment declined."
	if scheduledAt != "" {
		content = fmt.Sprintf("Proposed appointment for %s declined.", scheduledAt)
	}

	_, err := l.sessions.AppendMessage(ctx, userID, token, model.RoleSystem, content, &model.MessageMetadata{
		Candidate: scheduledAt,
		Intent:    model.IntentDecline,
	})
	if err != nil {
		l.record(metrics.BookingError)
		return fmt.Errorf("failed to record decline: %w", err)
	}

	l.record(metrics.BookingDeclined)
	slog.Info("appointment declined",
		slog.String("user_id", userID),
		slog.String("scheduled_at", scheduledAt),
	)
	return nil
}

// ListAppointments はユーザーの予約一覧を返す。
func (l *Ledger) ListAppointments(ctx context.Context, userID string) ([]*model.Appointment, error) {
	appts, err := l.apptRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appts, nil
}

// ensureSession はセッションを用意する。トークンの検証エラーはそのまま返す。
func (l *Ledger) ensureSession(ctx context.Context, userID, token string) error {
	if _, err := l.sessions.EnsureSession(ctx, userID, token); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			l.record(metrics.BookingInvalid)
			return err
		}
		l.record(metrics.BookingError)
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}

func (l *Ledger) record(outcome string) {
	if l.metrics != nil {
		l.metrics.RecordBookingOutcome(outcome)
	}
}
