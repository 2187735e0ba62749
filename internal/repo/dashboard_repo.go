// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// DashboardItem model.
//
// Ownership discipline: progress updates and deletes scope the WHERE clause
// by both item ID and user ID, so the ownership check and the mutation are
// one statement. There is no check-then-act window against a concurrent
// delete, and a foreign user's item is indistinguishable from a missing one.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-backend/internal/domain"
)

// DashboardRow is a dashboard item joined with its material's topic and
// difficulty, the shape consumed by the dashboard listing.
type DashboardRow struct {
	ID         string    `json:"id"`
	MaterialID string    `json:"material_id"`
	Topic      string    `json:"topic"`
	Difficulty string    `json:"difficulty"`
	Progress   int       `json:"progress"`
	RequestID  *string   `json:"request_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateDashboardItem inserts a tracking record at progress 0. A second add
// for the same (user, material) pair violates the unique index and returns
// ErrDuplicate.
func CreateDashboardItem(ctx context.Context, db *gorm.DB, userID, materialID string, requestID *string) (*domain.DashboardItem, error) {
	it := &domain.DashboardItem{
		ID:         uuid.NewString(),
		UserID:     userID,
		MaterialID: materialID,
		Progress:   0,
		RequestID:  requestID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(it).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return it, nil
}

// IsAdded reports whether the user already tracks the material.
func IsAdded(ctx context.Context, db *gorm.DB, userID, materialID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DashboardItem{}).
		Where("user_id = ? AND material_id = ?", userID, materialID).
		Count(&n).Error
	return n > 0, err
}

// ListDashboardRows returns the user's items joined with material metadata.
// Ordering is a presentation concern; rows come back in storage order.
func ListDashboardRows(ctx context.Context, db *gorm.DB, userID string) ([]DashboardRow, error) {
	var out []DashboardRow
	err := db.WithContext(ctx).
		Model(&domain.DashboardItem{}).
		Select("dashboard_items.id, dashboard_items.material_id, study_materials.topic, study_materials.difficulty_level AS difficulty, dashboard_items.progress, dashboard_items.request_id, dashboard_items.created_at").
		Joins("LEFT JOIN study_materials ON study_materials.id = dashboard_items.material_id").
		Where("dashboard_items.user_id = ?", userID).
		Scan(&out).Error
	return out, err
}

// UpdateItemProgress overwrites the progress of an item owned by userID.
// Returns ErrNotFound when the item is missing or owned by someone else.
func UpdateItemProgress(ctx context.Context, db *gorm.DB, id, userID string, progress int) error {
	res := db.WithContext(ctx).
		Model(&domain.DashboardItem{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("progress", progress)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteDashboardItem removes an item owned by userID. Returns ErrNotFound
// when the item is missing or owned by someone else.
func DeleteDashboardItem(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.DashboardItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
