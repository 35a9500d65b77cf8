package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/chairside/internal/model"
)

// LedgerServiceInterface は予約の確定と辞退に必要なサービスインターフェース。
type LedgerServiceInterface interface {
	Confirm(ctx context.Context, userID, token, scheduledAt string) (*model.Appointment, error)
	Decline(ctx context.Context, userID, token, scheduledAt string) error
	ListAppointments(ctx context.Context, userID string) ([]*model.Appointment, error)
}

// UserResolver は呼び出し元のsubjectからユーザーを解決するインターフェース。
type UserResolver interface {
	EnsureUser(ctx context.Context, subject, name string) (*model.User, error)
}

// BookingHandler は予約APIのHTTPハンドラー。
type BookingHandler struct {
	ledger LedgerServiceInterface
	users  UserResolver
}

// NewBookingHandler はBookingHandlerを生成する。
func NewBookingHandler(ledger LedgerServiceInterface, users UserResolver) *BookingHandler {
	return &BookingHandler{ledger: ledger, users: users}
}

// confirmRequest は確定・辞退リクエストのボディ。
// Confirmは必須。falseの場合は辞退として扱う。
type confirmRequest struct {
	SessionToken string `json:"session_token"`
	ScheduledAt  string `json:"scheduled_at"`
	Confirm      *bool  `json:"confirm"`
}

// appointmentResponse は予約情報のAPIレスポンス。
type appointmentResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ScheduledAt string    `json:"scheduled_at"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
}

// declineResponse は辞退の受領レスポンス。
type declineResponse struct {
	Status      string `json:"status"`
	ScheduledAt string `json:"scheduled_at"`
}

// Confirm は提案された時刻を確定または辞退する。
// 確定は201、辞退は200、既に確定済みの時刻は409を返す。
// POST /api/appointments/confirm
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Confirm == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("confirmを指定してください"))
		return
	}

	user, err := h.users.EnsureUser(r.Context(), id.Subject, id.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if !*req.Confirm {
		if err := h.ledger.Decline(r.Context(), user.ID, req.SessionToken, req.ScheduledAt); err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, declineResponse{
			Status:      string(model.AppointmentStatusDeclined),
			ScheduledAt: req.ScheduledAt,
		})
		return
	}

	appt, err := h.ledger.Confirm(r.Context(), user.ID, req.SessionToken, req.ScheduledAt)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

// ListAppointments は呼び出し元の予約一覧を返す。
// GET /api/appointments
func (h *BookingHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	user, err := h.users.EnsureUser(r.Context(), id.Subject, id.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	appts, err := h.ledger.ListAppointments(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]appointmentResponse, len(appts))
	for i, a := range appts {
		resp[i] = toAppointmentResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

func toAppointmentResponse(a *model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:          a.ID,
		UserID:      a.UserID,
		ScheduledAt: model.FormatSlot(a.ScheduledAt),
		Status:      string(a.Status),
		Notes:       a.Notes,
		CreatedAt:   a.CreatedAt,
	}
}
