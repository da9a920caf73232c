package cache

import (
	"fmt"
	"image"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jmylchreest/feedreel/internal/models"
)

// DefaultPreviewCapacity bounds the preview cache when no capacity is given.
const DefaultPreviewCapacity = 128

// PreviewCache keeps decoded preview images. Previews are placeholders and
// never authoritative, so recency-based eviction is fine here.
type PreviewCache struct {
	entries *lru.TwoQueueCache[models.ItemID, image.Image]
}

// NewPreviewCache creates a preview cache holding at most capacity images.
func NewPreviewCache(capacity int) (*PreviewCache, error) {
	if capacity <= 0 {
		capacity = DefaultPreviewCapacity
	}
	entries, err := lru.New2Q[models.ItemID, image.Image](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating preview cache: %w", err)
	}
	return &PreviewCache{entries: entries}, nil
}

// Get returns the preview for id.
func (p *PreviewCache) Get(id models.ItemID) (image.Image, bool) {
	img, ok := p.entries.Get(id)
	if ok {
		previewCacheLookups.WithLabelValues("hit").Inc()
	} else {
		previewCacheLookups.WithLabelValues("miss").Inc()
	}
	return img, ok
}

// Add stores a preview.
func (p *PreviewCache) Add(id models.ItemID, img image.Image) {
	p.entries.Add(id, img)
}

// Remove forgets the preview for id.
func (p *PreviewCache) Remove(id models.ItemID) {
	p.entries.Remove(id)
}

// Len returns the number of cached previews.
func (p *PreviewCache) Len() int {
	return p.entries.Len()
}
