// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateUser inserts a new account row for the given external identity with
// the starter credit balance. The user ID is a randomly generated UUID and
// CreatedAt is set to UTC.
func CreateUser(ctx context.Context, db *gorm.DB, externalID, name, email string, starterCredits int) (*domain.User, error) {
	u := &domain.User{
		ID:               uuid.NewString(),
		ExternalID:       externalID,
		Name:             name,
		Email:            email,
		Credits:          starterCredits,
		UsedCredits:      0,
		SubscriptionTier: domain.TierFree,
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser fetches an account by its internal ID, or ErrNotFound if missing.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByExternalID fetches an account by the identity-provider subject.
// Returns ErrNotFound when no row exists; callers treat that as "first
// sign-in" and create the account.
func GetUserByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure in a
// driver-agnostic way. glebarez/sqlite often returns plain-text errors for
// UNIQUE violations instead of gorm.ErrDuplicatedKey.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return containsUniqueViolation(err.Error())
}

// DeleteUser hard-deletes an account. Foreign keys cascade the removal to
// study requests, materials, ledger entries, and dashboard items. Returns
// ErrNotFound when no row was deleted.
func DeleteUser(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.User{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetSubscription updates the tier, expiry, and (optionally) the credits
// column of an account in one statement. A nil credits pointer leaves the
// balance untouched; used_credits is never written here. Returns ErrNotFound
// when the user does not exist.
func SetSubscription(ctx context.Context, db *gorm.DB, id, tier string, expires *time.Time, credits *int) error {
	updates := map[string]any{
		"subscription_tier":    tier,
		"subscription_expires": expires,
	}
	if credits != nil {
		updates["credits"] = *credits
	}
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
