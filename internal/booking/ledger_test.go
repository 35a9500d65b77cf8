package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/chairside/internal/metrics"
	"github.com/hitoshi/chairside/internal/model"
	"github.com/hitoshi/chairside/internal/repository"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
)

// --- インメモリ台帳 ---

// memLedgerStore は予約と予約関連のトランスクリプトを保持するテスト用ストア。
// 確定済み予約の時刻の一意性をデータベースのユニークインデックスと同様に守る。
type memLedgerStore struct {
	mu           sync.Mutex
	appointments []*model.Appointment
	messages     []*model.Message
	sessions     map[string]*model.Session

	// skipPreCheck が真の場合、事前確認を行わずに挿入してユニーク制約で検出する
	skipPreCheck bool
	confirmErr   error
	ensureErr    error
}

func (s *memLedgerStore) Confirm(_ context.Context, appt *model.Appointment, entry *model.Message) error {
	if s.confirmErr != nil {
		return s.confirmErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := false
	for _, a := range s.appointments {
		if a.Status == model.AppointmentStatusConfirmed && a.ScheduledAt.Equal(appt.ScheduledAt) {
			taken = true
			break
		}
	}
	if taken {
		if s.skipPreCheck {
			return fmt.Errorf("failed to insert appointment: %w",
				&pq.Error{Code: "23505", Constraint: repository.ConfirmedSlotConstraint})
		}
		return model.ErrSlotTaken
	}

	cp := *appt
	s.appointments = append(s.appointments, &cp)
	m := *entry
	s.messages = append(s.messages, &m)
	return nil
}

func (s *memLedgerStore) ListByUserID(_ context.Context, userID string) ([]*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Appointment, 0)
	for _, a := range s.appointments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memLedgerStore) EnsureSession(_ context.Context, userID, token string) (*model.Session, error) {
	if s.ensureErr != nil {
		return nil, s.ensureErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]*model.Session)
	}
	key := userID + "\x00" + token
	if sess, ok := s.sessions[key]; ok {
		return sess, nil
	}
	sess := &model.Session{ID: key, UserID: userID, Token: token}
	s.sessions[key] = sess
	return sess, nil
}

func (s *memLedgerStore) hasSession(userID, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[userID+"\x00"+token]
	return ok
}

func (s *memLedgerStore) AppendMessage(_ context.Context, userID, token string, role model.Role, content string, meta *model.MessageMetadata) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &model.Message{UserID: userID, SessionToken: token, Role: role, Content: content, Metadata: meta}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memLedgerStore) confirmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.appointments {
		if a.Status == model.AppointmentStatusConfirmed {
			n++
		}
	}
	return n
}

func newTestLedger(store *memLedgerStore) (*Ledger, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewLedger(store, store, metrics.NewCollector(reg), time.UTC), reg
}

func apiErrorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// --- Confirm ---

func TestConfirm_Success(t *testing.T) {
	store := &memLedgerStore{}
	ledger, _ := newTestLedger(store)

	appt, err := ledger.Confirm(context.Background(), "user-a", "tok", "2025-06-02T10:00:00Z")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if appt.Status != model.AppointmentStatusConfirmed {
		t.Errorf("Status = %q", appt.Status)
	}
	if len(store.messages) != 1 {
		t.Fatalf("transcript entries = %d, want 1", len(store.messages))
	}
	entry := store.messages[0]
	if entry.Role != model.RoleSystem || entry.Metadata.Intent != model.IntentConfirm {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Metadata.AppointmentID != appt.ID {
		t.Errorf("entry appointment id = %q, want %q", entry.Metadata.AppointmentID, appt.ID)
	}
}

func TestConfirm_InvalidTimestampWritesNothing(t *testing.T) {
	store := &memLedgerStore{}
	ledger, _ := newTestLedger(store)

	for _, raw := range []string{"", "not-a-date", "2025-13-40T99:00:00Z"} {
		_, err := ledger.Confirm(context.Background(), "user-a", "tok", raw)
		if code := apiErrorCode(err); code != model.ErrCodeInvalidTimestamp {
			t.Errorf("Confirm(%q) code = %q, want %q", raw, code, model.ErrCodeInvalidTimestamp)
		}
	}
	if len(store.appointments) != 0 || len(store.messages) != 0 || len(store.sessions) != 0 {
		t.Errorf("store changed: %d appointments, %d messages, %d sessions",
			len(store.appointments), len(store.messages), len(store.sessions))
	}
}

// TestConfirmAndDecline_CreateSessionForUnseenToken は初めてのトークンでもセッション行が先に作られることを検証する。
func TestConfirmAndDecline_CreateSessionForUnseenToken(t *testing.T) {
	store := &memLedgerStore{}
	ledger, _ := newTestLedger(store)
	ctx := context.Background()

	if _, err := ledger.Confirm(ctx, "user-a", "never-seen", "2025-06-02T10:00:00Z"); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if !store.hasSession("user-a", "never-seen") {
		t.Error("confirm on an unseen token must create the session")
	}

	if err := ledger.Decline(ctx, "user-a", "also-unseen", "2025-06-03T10:00:00Z"); err != nil {
		t.Fatalf("Decline() error = %v", err)
	}
	if !store.hasSession("user-a", "also-unseen") {
		t.Error("decline on an unseen token must create the session")
	}

	for _, m := range store.messages {
		if !store.hasSession(m.UserID, m.SessionToken) {
			t.Errorf("transcript entry without session: user=%s token=%s", m.UserID, m.SessionToken)
		}
	}
}

// TestConfirmAndDecline_SessionFailureWritesNothing はセッションを用意できない場合に何も書き込まないことを検証する。
func TestConfirmAndDecline_SessionFailureWritesNothing(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "トークン検証エラーはそのまま返す", err: model.NewInvalidSessionTokenError(), wantCode: model.ErrCodeInvalidToken},
		{name: "ストレージ障害は内部エラー", err: errors.New("connection refused"), wantCode: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memLedgerStore{ensureErr: tt.err}
			ledger, _ := newTestLedger(store)
			ctx := context.Background()

			_, err := ledger.Confirm(ctx, "user-a", "tok", "2025-06-02T10:00:00Z")
			if !errors.Is(err, tt.err) || apiErrorCode(err) != tt.wantCode {
				t.Errorf("Confirm() error = %v, want %v", err, tt.err)
			}
			err = ledger.Decline(ctx, "user-a", "tok", "2025-06-02T10:00:00Z")
			if !errors.Is(err, tt.err) || apiErrorCode(err) != tt.wantCode {
				t.Errorf("Decline() error = %v, want %v", err, tt.err)
			}
			if len(store.appointments) != 0 || len(store.messages) != 0 {
				t.Errorf("store changed: %d appointments, %d messages", len(store.appointments), len(store.messages))
			}
		})
	}
}

func TestConfirm_SecondUserGetsConflict(t *testing.T) {
	store := &memLedgerStore{}
	ledger, _ := newTestLedger(store)
	ctx := context.Background()

	if _, err := ledger.Confirm(ctx, "user-a", "tok-a", "2025-06-02T10:00:00Z"); err != nil {
		t.Fatalf("first Confirm() error = %v", err)
	}

	// 同じ瞬間を別の表記で指定しても同じ枠として扱う
	_, err := ledger.Confirm(ctx, "user-b", "tok-b", "2025-06-02T19:00:00+09:00")
	if code := apiErrorCode(err); code != model.ErrCodeSlotConflict {
		t.Fatalf("code = %q, want %q (err=%v)", code, model.ErrCodeSlotConflict, err)
	}
	if store.confirmedCount() != 1 {
		t.Errorf("confirmed = %d, want 1", store.confirmedCount())
	}

	appts, _ := ledger.ListAppointments(ctx, "user-b")
	if len(appts) != 0 {
		t.Errorf("user-b appointments = %d, want 0", len(appts))
	}
}

func TestConfirm_UniqueViolationBecomesConflict(t *testing.T) {
	store := &memLedgerStore{skipPreCheck: true}
	ledger, _ := newTestLedger(store)
	ctx := context.Background()

	_, _ = ledger.Confirm(ctx, "user-a", "tok", "2025-06-02T10:00:00Z")
	_, err := ledger.Confirm(ctx, "user-b", "tok", "2025-06-02T10:00:00Z")
	if code := apiErrorCode(err); code != model.ErrCodeSlotConflict {
		t.Errorf("code = %q, want %q (err=%v)", code, model.ErrCodeSlotConflict, err)
	}
}

func TestConfirm_StorageErrorIsNotConflict(t *testing.T) {
	wantErr := errors.New("connection refused")
	store := &memLedgerStore{confirmErr: wantErr}
	ledger, _ := newTestLedger(store)

	_, err := ledger.Confirm(context.Background(), "user-a", "tok", "2025-06-02T10:00:00Z")
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want wrapping %v", err, wantErr)
	}
	if apiErrorCode(err) != "" {
		t.Error("storage failures must not surface as API errors")
	}
}

func TestConfirm_OtherUniqueViolationIsNotConflict(t *testing.T) {
	store := &memLedgerStore{confirmErr: fmt.Errorf("failed to insert message: %w",
		&pq.Error{Code: "23505", Constraint: "messages_pkey"})}
	ledger, _ := newTestLedger(store)

	_, err := ledger.Confirm(context.Background(), "user-a", "tok", "2025-06-02T10:00:00Z")
	if err == nil {
		t.Fatal("expected error")
	}
	if code := apiErrorCode(err); code != "" {
		t.Errorf("code = %q, want internal error", code)
	}
}

func TestConfirm_ConcurrentSameSlot(t *testing.T) {
	for _, skip := range []bool{false, true} {
		t.Run(fmt.Sprintf("skipPreCheck=%v", skip), func(t *testing.T) {
			store := &memLedgerStore{skipPreCheck: skip}
			ledger, reg := newTestLedger(store)

			const n = 16
			var wg sync.WaitGroup
			var mu sync.Mutex
			successes, conflicts := 0, 0
			start := make(chan struct{})

			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := ledger.Confirm(context.Background(), fmt.Sprintf("user-%d", i), "tok", "2025-06-02T10:00:00Z")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case apiErrorCode(err) == model.ErrCodeSlotConflict:
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			if successes != 1 || conflicts != n-1 {
				t.Errorf("successes=%d conflicts=%d, want 1/%d", successes, conflicts, n-1)
			}
			if store.confirmedCount() != 1 {
				t.Errorf("confirmed = %d, want 1", store.confirmedCount())
			}

			families, _ := reg.Gather()
			for _, mf := range families {
				if mf.GetName() != "chairside_booking_outcomes_total" {
					continue
				}
				for _, m := range mf.GetMetric() {
					if m.GetLabel()[0].GetValue() == metrics.BookingConflict && m.GetCounter().GetValue() != n-1 {
						t.Errorf("conflict metric = %v, want %d", m.GetCounter().GetValue(), n-1)
					}
				}
			}
		})
	}
}

func TestConfirm_SubSecondVariantIsSameSlot(t *testing.T) {
	store := &memLedgerStore{}
	ledger, _ := newTestLedger(store)
	ctx := context.Background()

	appt, err := ledger.Confirm(ctx, "user-a", "tok-a", "2025-06-02T10:00:00.5Z")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if got := model.FormatSlot(appt.ScheduledAt); got != "2025-06-02T10:00:00Z" {
		t.Errorf("scheduled_at = %q, want 2025-06-02T10:00:00Z", got)
	}

	_, err = ledger.Confirm(ctx, "user-b", "tok-b", "2025-06-02T10:00:00Z")
	if code := apiErrorCode(err); code != model.ErrCodeSlotConflict {
		t.Fatalf("code = %q, want %q (err=%v)", code, model.ErrCodeSlotConflict, err)
	}
	if store.confirmedCount() != 1 {
		t.Errorf("confirmed = %d, want 1", store.confirmedCount())
	}
}

func TestConfirm_DifferentSlotsBothSucceed(t *testing.T) {
	store := &memLedgerStore{}
	ledger, _ := newTestLedger(store)
	ctx := context.Background()

	if _, err := ledger.Confirm(ctx, "user-a", "tok", "2025-06-02T10:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Confirm(ctx, "user-a", "tok", "2025-06-02T11:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if store.confirmedCount() != 2 {
		t.Errorf("confirmed = %d, want 2", store.confirmedCount())
	}
}

// --- Decline ---

func TestDecline_RecordsEntryWithoutTouchingAppointments(t *testing.T) {
	store := &memLedgerStore{}
	ledger, _ := newTestLedger(store)
	ctx := context.Background()

	if _, err := ledger.Confirm(ctx, "user-a", "tok", "2025-06-02T10:00:00Z"); err != nil {
		t.Fatal(err)
	}
	before := len(store.appointments)

	// 確定済みの枠や不正な文字列でも辞退は成功する
	for _, raw := range []string{"2025-06-02T10:00:00Z", "whenever", ""} {
		if err := ledger.Decline(ctx, "user-b", "tok-b", raw); err != nil {
			t.Errorf("Decline(%q) error = %v", raw, err)
		}
	}

	if len(store.appointments) != before {
		t.Errorf("appointments changed: %d -> %d", before, len(store.appointments))
	}
	last := store.messages[len(store.messages)-1]
	if last.Role != model.RoleSystem || last.Metadata.Intent != model.IntentDecline {
		t.Errorf("last entry = %+v", last)
	}
	if len(store.messages) != 4 {
		t.Errorf("transcript entries = %d, want 4", len(store.messages))
	}
}
