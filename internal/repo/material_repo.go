// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// StudyMaterial model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-study-backend/internal/domain"
)

// ErrDuplicate indicates a unique-constraint violation: a second material
// for the same request, a second dashboard item for the same (user,
// material) pair, or a replayed idempotency key.
var ErrDuplicate = errors.New("duplicate")

// CreateStudyMaterial inserts the artifact produced by a completed request.
// The request link is unique; a concurrent second completion surfaces as
// ErrDuplicate and callers fetch the existing row instead.
func CreateStudyMaterial(ctx context.Context, db *gorm.DB, requestID *string, topic, difficulty string, layout datatypes.JSON, createdBy string) (*domain.StudyMaterial, error) {
	m := &domain.StudyMaterial{
		ID:           uuid.NewString(),
		RequestID:    requestID,
		CourseID:     uuid.NewString(),
		Topic:        topic,
		Difficulty:   difficulty,
		CourseLayout: layout,
		CreatedBy:    createdBy,
		Status:       domain.MaterialReady,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

// GetStudyMaterial fetches a material by ID.
func GetStudyMaterial(ctx context.Context, db *gorm.DB, id string) (*domain.StudyMaterial, error) {
	var m domain.StudyMaterial
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMaterialByRequest fetches the material produced by a request. A request
// that never completed has none, which surfaces as gorm.ErrRecordNotFound.
func GetMaterialByRequest(ctx context.Context, db *gorm.DB, requestID string) (*domain.StudyMaterial, error) {
	var m domain.StudyMaterial
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}
