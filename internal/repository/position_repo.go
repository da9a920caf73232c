package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/feedreel/internal/models"
)

// positionRepository implements PositionRepository using GORM.
type positionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new PositionRepository.
func NewPositionRepository(db *gorm.DB) PositionRepository {
	return &positionRepository{db: db}
}

// Get retrieves the position for an item.
func (r *positionRepository) Get(ctx context.Context, id models.ItemID) (*models.PlaybackPosition, error) {
	var pos models.PlaybackPosition
	if err := r.db.WithContext(ctx).First(&pos, "item_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pos, nil
}

// Upsert creates or updates a position keyed by item id.
func (r *positionRepository) Upsert(ctx context.Context, pos *models.PlaybackPosition) error {
	if pos.ItemID == "" {
		return fmt.Errorf("upserting position: %w", models.ErrInvalidItem)
	}
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"offset", "duration", "updated_at"}),
	}).Create(pos).Error
}

// Delete removes the position for an item.
func (r *positionRepository) Delete(ctx context.Context, id models.ItemID) error {
	return r.db.WithContext(ctx).Delete(&models.PlaybackPosition{}, "item_id = ?", id).Error
}

// DeleteOlderThan removes positions not updated since cutoff.
func (r *positionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("updated_at < ?", cutoff).Delete(&models.PlaybackPosition{})
	return result.RowsAffected, result.Error
}

// Count returns the number of stored positions.
func (r *positionRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.PlaybackPosition{}).Count(&n).Error
	return n, err
}
