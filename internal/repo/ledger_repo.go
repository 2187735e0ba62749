// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the credit
// ledger and the balance counters on the users table.
//
// Counter discipline: balance mutations are expressed as atomic SQL
// increments (credits = credits + ?, used_credits = used_credits + ?),
// never as application-level read-modify-write, so concurrent deltas for
// the same user cannot lose updates. The capacity-gated debit is a single
// conditional UPDATE; zero rows affected means insufficient remaining.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-backend/internal/domain"
)

// AppendLedgerEntry inserts one immutable audit row. delta must already be
// validated by the caller (non-zero); requestID may be nil for entries not
// tied to a generation attempt (packs, bonuses).
func AppendLedgerEntry(ctx context.Context, db *gorm.DB, userID string, requestID *string, delta int, reason string) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		RequestID: requestID,
		Delta:     delta,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// AddCredits atomically increments the credits column (top-ups, bonuses,
// refunds). Returns ErrNotFound when the user does not exist.
func AddCredits(ctx context.Context, db *gorm.DB, userID string, amount int) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Update("credits", gorm.Expr("credits + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SpendCredits atomically increments the used_credits counter without a
// capacity check. Remaining may go negative; callers that must not overdraw
// use SpendCreditsIfAvailable instead.
func SpendCredits(ctx context.Context, db *gorm.DB, userID string, amount int) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Update("used_credits", gorm.Expr("used_credits + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SpendCreditsIfAvailable performs the capacity check and the debit as one
// conditional UPDATE: used_credits is incremented only when the remaining
// balance covers the amount. It reports whether the debit was taken; false
// with a nil error means insufficient remaining (or no such user; callers
// that care distinguish via GetUser inside the same transaction).
func SpendCreditsIfAvailable(ctx context.Context, db *gorm.DB, userID string, amount int) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND credits - used_credits >= ?", userID, amount).
		Update("used_credits", gorm.Expr("used_credits + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListLedgerEntries returns all ledger rows for a user, newest first.
func ListLedgerEntries(ctx context.Context, db *gorm.DB, userID string) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// RequestDebitTotal returns the absolute sum of negative deltas recorded for
// a request. Zero means the request never consumed a credit (active
// subscribers bypass the debit), so there is nothing to refund.
func RequestDebitTotal(ctx context.Context, db *gorm.DB, requestID string) (int, error) {
	var total int
	err := db.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Select("COALESCE(SUM(-delta), 0)").
		Where("request_id = ? AND delta < 0", requestID).
		Scan(&total).Error
	return total, err
}

// RequestHasRefund reports whether a positive ledger entry already exists
// for the request. Used to keep the failure refund idempotent across
// redeliveries.
func RequestHasRefund(ctx context.Context, db *gorm.DB, requestID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Where("request_id = ? AND delta > 0", requestID).
		Count(&n).Error
	return n > 0, err
}

// containsUniqueViolation matches the unique-constraint error strings
// emitted by SQLite and Postgres drivers.
func containsUniqueViolation(msg string) bool {
	low := strings.ToLower(msg)
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
