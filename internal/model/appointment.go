package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AppointmentStatus は予約の状態を表す。
type AppointmentStatus string

const (
	// AppointmentStatusPending は未確定の予約。
	AppointmentStatusPending AppointmentStatus = "pending"
	// AppointmentStatusConfirmed は確定済みの予約。同一時刻に1件のみ存在できる。
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	// AppointmentStatusDeclined は辞退された予約。
	AppointmentStatusDeclined AppointmentStatus = "declined"
)

// Appointment は予約枠の確保を表す。
type Appointment struct {
	ID          string
	UserID      string
	ScheduledAt time.Time
	Status      AppointmentStatus
	Notes       string
	CreatedAt   time.Time
}

// ErrSlotTaken は指定時刻に確定済みの予約が既に存在することを示す。
var ErrSlotTaken = errors.New("slot already confirmed")

// slotLayouts はParseSlotが受け付けるタイムスタンプ形式。
var slotLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseSlot はISO-8601形式の予約時刻をパースする。
func ParseSlot(raw string) (time.Time, error) {
	return ParseSlotIn(raw, time.UTC)
}

// ParseSlotIn はISO-8601形式の予約時刻をパースする。
// タイムゾーンなしの形式はlocの時刻として解釈する。
// 予約枠は秒単位で扱うため、秒未満は切り捨てる。確定済み枠の照合、保存値、
// FormatSlotの表記がすべて同じ瞬間を指す。
func ParseSlotIn(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range slotLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("malformed timestamp: %q", raw)
}

// FormatSlot は予約時刻をトランスクリプトやレスポンスで使うRFC3339文字列に変換する。
func FormatSlot(t time.Time) string {
	return t.Format(time.RFC3339)
}
