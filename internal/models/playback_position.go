package models

import (
	"time"
)

// PlaybackPosition is the last saved playhead for an item, in seconds.
type PlaybackPosition struct {
	ItemID    ItemID    `gorm:"primaryKey;type:varchar(255)" json:"item_id"`
	Offset    float64   `gorm:"not null;default:0" json:"offset"`
	Duration  float64   `gorm:"not null;default:0" json:"duration"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// TableName returns the table name for PlaybackPosition.
func (PlaybackPosition) TableName() string {
	return "playback_positions"
}
