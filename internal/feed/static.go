package feed

import (
	"context"
	"fmt"

	"github.com/jmylchreest/feedreel/internal/models"
)

// StaticComposer serves a fixed list of items.
type StaticComposer struct {
	items []models.FeedItem
}

// NewStaticComposer parses entries of the form "<kind>:<id>" or a bare id.
func NewStaticComposer(entries []string) (*StaticComposer, error) {
	items := make([]models.FeedItem, 0, len(entries))
	for i, entry := range entries {
		item, err := models.ParseFeedItem(entry)
		if err != nil {
			return nil, fmt.Errorf("feed entry %d: %w", i, err)
		}
		items = append(items, item)
	}
	return &StaticComposer{items: items}, nil
}

// NewStaticComposerFromItems serves items as given.
func NewStaticComposerFromItems(items []models.FeedItem) *StaticComposer {
	return &StaticComposer{items: append([]models.FeedItem(nil), items...)}
}

// Page returns the slice of the list starting at offset.
func (s *StaticComposer) Page(_ context.Context, offset, limit int) ([]models.FeedItem, error) {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.items) || limit <= 0 {
		return nil, nil
	}
	end := min(offset+limit, len(s.items))
	return append([]models.FeedItem(nil), s.items[offset:end]...), nil
}

// Len returns the number of items in the list.
func (s *StaticComposer) Len() int {
	return len(s.items)
}
