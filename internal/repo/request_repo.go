// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// StudyRequest model, including the guarded status transitions that
// enforce the request state machine at the storage layer.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-backend/internal/domain"
)

// CreateStudyRequest inserts a new request row in the queued state.
func CreateStudyRequest(ctx context.Context, db *gorm.DB, userID, purpose, topic, difficulty, model, prompt string, creditsUsed int) (*domain.StudyRequest, error) {
	r := &domain.StudyRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		Purpose:     purpose,
		Topic:       topic,
		Difficulty:  difficulty,
		Status:      domain.StatusQueued,
		Model:       model,
		Prompt:      prompt,
		CreditsUsed: creditsUsed,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetStudyRequest fetches a request by ID, or ErrNotFound if missing.
func GetStudyRequest(ctx context.Context, db *gorm.DB, id string) (*domain.StudyRequest, error) {
	var r domain.StudyRequest
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetOwnedStudyRequest fetches a request by ID and owner. A request that
// exists but belongs to a different user is indistinguishable from a
// missing one (ErrNotFound), by design.
func GetOwnedStudyRequest(ctx context.Context, db *gorm.DB, id, userID string) (*domain.StudyRequest, error) {
	var r domain.StudyRequest
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// TransitionStudyRequest moves a request from one of the allowed source
// states to newStatus as a single guarded UPDATE. It reports whether the
// transition was applied; false with a nil error means the row was not in
// an allowed source state (already transitioned, terminal, or missing).
// updates carries the payload columns to set alongside the status (output,
// error, model).
func TransitionStudyRequest(ctx context.Context, db *gorm.DB, id, newStatus string, from []string, updates map[string]any) (bool, error) {
	set := map[string]any{
		"status":     newStatus,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		set[k] = v
	}
	res := db.WithContext(ctx).
		Model(&domain.StudyRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(set)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountStudyRequests returns the total number of requests owned by userID.
func CountStudyRequests(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.StudyRequest{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListStudyRequestsPage returns a paginated slice of requests for userID,
// ordered by creation time descending (most recent first).
func ListStudyRequestsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.StudyRequest, error) {
	var out []domain.StudyRequest
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
