// Package services – DashboardService
//
// This file implements the DashboardService, the projection of materials a
// user chose to keep. Adding is user-initiated and decoupled from the
// generation flow; progress is overwritten freely within [0, 100] and
// never feeds back into the credit ledger. Ownership checks ride inside
// the mutating statements, so a foreign user's item and a missing item are
// indistinguishable (ErrItemNotFound) and there is no window against a
// concurrent delete.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-study-backend/internal/domain"
	"github.com/tbourn/go-study-backend/internal/repo"
)

// DashboardService implements the use-cases around dashboard items.
type DashboardService struct {
	// DB is the database handle used for all dashboard operations.
	DB *gorm.DB
}

// Add puts a material on the user's dashboard at progress 0, carrying the
// material's originating request reference. The material must exist
// (ErrMaterialNotFound); a second add for the same (user, material) pair is
// ErrAlreadyAdded, enforced by the unique index rather than a separate
// existence read.
func (s *DashboardService) Add(ctx context.Context, userID, materialID string) (*domain.DashboardItem, error) {
	var item *domain.DashboardItem
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mat, err := repo.GetStudyMaterial(ctx, tx, materialID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMaterialNotFound
			}
			return err
		}

		it, err := repo.CreateDashboardItem(ctx, tx, userID, materialID, mat.RequestID)
		if err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrAlreadyAdded
			}
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateProgress overwrites the progress of an owned item. Bounds are
// inclusive, so 0 and 100 are valid; regression is allowed (un-marking a
// chapter lowers the percentage).
func (s *DashboardService) UpdateProgress(ctx context.Context, userID, itemID string, progress int) error {
	if progress < 0 || progress > 100 {
		return ErrInvalidProgress
	}
	if err := repo.UpdateItemProgress(ctx, s.DB, itemID, userID, progress); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	return nil
}

// Remove deletes an owned item.
func (s *DashboardService) Remove(ctx context.Context, userID, itemID string) error {
	if err := repo.DeleteDashboardItem(ctx, s.DB, itemID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	return nil
}

// List returns the user's items joined with material topic and difficulty.
// Ordering/filtering is a presentation concern left to the caller.
func (s *DashboardService) List(ctx context.Context, userID string) ([]repo.DashboardRow, error) {
	return repo.ListDashboardRows(ctx, s.DB, userID)
}

// IsAdded reports whether the material is already on the user's dashboard;
// used before showing the "add" affordance.
func (s *DashboardService) IsAdded(ctx context.Context, userID, materialID string) (bool, error) {
	return repo.IsAdded(ctx, s.DB, userID, materialID)
}
