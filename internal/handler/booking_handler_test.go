package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/chairside/internal/model"
)

func postConfirm(h *BookingHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/appointments/confirm", bytes.NewBufferString(body))
	req = withIdentity(req, "patient-1")
	w := httptest.NewRecorder()
	h.Confirm(w, req)
	return w
}

func TestBookingHandler_Confirm_Created(t *testing.T) {
	slot := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	ledger := &mockLedger{
		confirmFn: func(ctx context.Context, userID, token, scheduledAt string) (*model.Appointment, error) {
			if userID != "user-patient-1" || token != "tok-1" || scheduledAt != "2025-06-02T10:00:00Z" {
				t.Errorf("args = %q/%q/%q", userID, token, scheduledAt)
			}
			return &model.Appointment{
				ID:          "appt-1",
				UserID:      userID,
				ScheduledAt: slot,
				Status:      model.AppointmentStatusConfirmed,
			}, nil
		},
		declineFn: func(ctx context.Context, userID, token, scheduledAt string) error {
			t.Error("Decline should not be called")
			return nil
		},
	}
	h := NewBookingHandler(ledger, &mockTranscripts{})

	w := postConfirm(h, `{"session_token":"tok-1","scheduled_at":"2025-06-02T10:00:00Z","confirm":true}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var body appointmentResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.ID != "appt-1" || body.Status != "confirmed" || body.ScheduledAt != "2025-06-02T10:00:00Z" {
		t.Errorf("body = %+v", body)
	}
}

func TestBookingHandler_Confirm_Declined(t *testing.T) {
	declined := false
	ledger := &mockLedger{
		confirmFn: func(ctx context.Context, userID, token, scheduledAt string) (*model.Appointment, error) {
			t.Error("Confirm should not be called")
			return nil, nil
		},
		declineFn: func(ctx context.Context, userID, token, scheduledAt string) error {
			declined = true
			return nil
		},
	}
	h := NewBookingHandler(ledger, &mockTranscripts{})

	w := postConfirm(h, `{"session_token":"tok-1","scheduled_at":"2025-06-02T10:00:00Z","confirm":false}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !declined {
		t.Error("Decline was not called")
	}
	var body declineResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "declined" {
		t.Errorf("status = %q, want %q", body.Status, "declined")
	}
}

func TestBookingHandler_Confirm_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		confirmErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "確定済みの時刻",
			body:       `{"session_token":"tok","scheduled_at":"2025-06-02T10:00:00Z","confirm":true}`,
			confirmErr: model.NewSlotConflictError("2025-06-02T10:00:00Z"),
			wantStatus: http.StatusConflict,
			wantCode:   model.ErrCodeSlotConflict,
		},
		{
			name:       "不正な時刻",
			body:       `{"session_token":"tok","scheduled_at":"next monday","confirm":true}`,
			confirmErr: model.NewInvalidTimestampError("next monday"),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeInvalidTimestamp,
		},
		{
			name:       "ストレージ障害",
			body:       `{"session_token":"tok","scheduled_at":"2025-06-02T10:00:00Z","confirm":true}`,
			confirmErr: errors.New("failed to confirm appointment: tx aborted"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   model.ErrCodeInternal,
		},
		{
			name:       "confirm未指定",
			body:       `{"session_token":"tok","scheduled_at":"2025-06-02T10:00:00Z"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeValidationFailed,
		},
		{
			name:       "不正なJSON",
			body:       `{"confirm":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &mockLedger{
				confirmFn: func(ctx context.Context, userID, token, scheduledAt string) (*model.Appointment, error) {
					return nil, tt.confirmErr
				},
			}
			h := NewBookingHandler(ledger, &mockTranscripts{})

			w := postConfirm(h, tt.body)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

func TestBookingHandler_Confirm_NoIdentity(t *testing.T) {
	h := NewBookingHandler(&mockLedger{}, &mockTranscripts{})

	req := httptest.NewRequest(http.MethodPost, "/api/appointments/confirm", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	h.Confirm(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestBookingHandler_ListAppointments(t *testing.T) {
	ledger := &mockLedger{
		listAppointmentsFn: func(ctx context.Context, userID string) ([]*model.Appointment, error) {
			if userID != "user-patient-1" {
				t.Errorf("userID = %q", userID)
			}
			return []*model.Appointment{
				{ID: "a1", UserID: userID, ScheduledAt: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), Status: model.AppointmentStatusConfirmed},
			}, nil
		},
	}
	h := NewBookingHandler(ledger, &mockTranscripts{})

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/appointments", nil), "patient-1")
	w := httptest.NewRecorder()
	h.ListAppointments(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body []appointmentResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body) != 1 || body[0].ID != "a1" {
		t.Errorf("body = %+v", body)
	}
}
