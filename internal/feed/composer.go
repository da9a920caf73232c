// Package feed supplies the ordered list of feed items. Composition is a
// thin policy; the scheduling core only sees pages of items.
package feed

import (
	"context"
	"fmt"

	"github.com/jmylchreest/feedreel/internal/config"
	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/jmylchreest/feedreel/pkg/httpclient"
)

// Feed kinds accepted in configuration.
const (
	KindStatic = "static"
	KindHTTP   = "http"
)

// Composer returns pages of the feed. An empty page means the feed has ended.
type Composer interface {
	// Page returns up to limit items starting at offset.
	Page(ctx context.Context, offset, limit int) ([]models.FeedItem, error)
}

// New builds the composer selected by cfg.
func New(cfg config.FeedConfig, client *httpclient.Client) (Composer, error) {
	switch cfg.Kind {
	case KindStatic, "":
		return NewStaticComposer(cfg.Items)
	case KindHTTP:
		return NewHTTPComposer(cfg.URL, client)
	default:
		return nil, fmt.Errorf("unsupported feed kind: %s", cfg.Kind)
	}
}
