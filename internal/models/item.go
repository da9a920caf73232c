// Package models defines the feed item types and the persisted playback state.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// ItemID identifies a feed item. IDs are opaque, non-empty, and stable for the
// lifetime of the item.
type ItemID string

// String returns the raw identifier.
func (id ItemID) String() string {
	return string(id)
}

// ItemKind distinguishes what a feed item renders.
type ItemKind string

const (
	// ItemKindVideo is a playable video with a duration.
	ItemKindVideo ItemKind = "video"
	// ItemKindPhotoGroup is a set of stills rendered without a player.
	ItemKindPhotoGroup ItemKind = "photos"
)

// ErrInvalidItem is returned when a feed entry cannot be parsed.
var ErrInvalidItem = errors.New("invalid feed item")

// FeedItem is one page of the feed.
type FeedItem struct {
	ID   ItemID   `json:"id"`
	Kind ItemKind `json:"kind"`
}

// IsVideo reports whether the item needs a player.
func (f FeedItem) IsVideo() bool {
	return f.Kind == ItemKindVideo
}

// Validate checks that the item has an id and a known kind.
func (f FeedItem) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	switch f.Kind {
	case ItemKindVideo, ItemKindPhotoGroup:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q for %s", ErrInvalidItem, f.Kind, f.ID)
	}
}

// ParseFeedItem parses the "<kind>:<id>" form used in configuration.
// A bare id is treated as a video.
func ParseFeedItem(s string) (FeedItem, error) {
	s = strings.TrimSpace(s)
	kind, id, found := strings.Cut(s, ":")
	item := FeedItem{ID: ItemID(s), Kind: ItemKindVideo}
	if found {
		item = FeedItem{ID: ItemID(id), Kind: ItemKind(kind)}
	}
	if err := item.Validate(); err != nil {
		return FeedItem{}, err
	}
	return item, nil
}
