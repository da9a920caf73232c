// Package repository provides data access implementations.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/feedreel/internal/models"
)

// PositionRepository persists playback positions.
type PositionRepository interface {
	// Get returns the saved position for id, or nil when none is stored.
	Get(ctx context.Context, id models.ItemID) (*models.PlaybackPosition, error)
	// Upsert stores pos, replacing any previous position for the same item.
	Upsert(ctx context.Context, pos *models.PlaybackPosition) error
	// Delete removes the position for id.
	Delete(ctx context.Context, id models.ItemID) error
	// DeleteOlderThan removes positions last updated before cutoff and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// Count returns the number of stored positions.
	Count(ctx context.Context) (int64, error)
}
