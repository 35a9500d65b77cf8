package repository

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLのunique_violationのSQLSTATE。
const uniqueViolation = "23505"

// ConfirmedSlotConstraint は確定済み予約の時刻に張った部分ユニークインデックス名。
const ConfirmedSlotConstraint = "appointments_confirmed_slot_key"

// IsUniqueViolation はerrがユニーク制約違反に由来するかを返す。
// ラップされたエラーも判定できる。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// ViolatedConstraint はユニーク制約違反の制約名を返す。該当しない場合は空文字列。
func ViolatedConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint
	}
	return ""
}
