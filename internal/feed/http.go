package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/jmylchreest/feedreel/pkg/httpclient"
)

// pageResponse is the body returned by a feed endpoint.
type pageResponse struct {
	Items []models.FeedItem `json:"items"`
}

// HTTPComposer reads pages from a feed endpoint:
//
//	GET {url}?offset={offset}&limit={limit}
//
// answering {"items":[{"id":"...","kind":"video"}]}.
type HTTPComposer struct {
	endpoint *url.URL
	client   *httpclient.Client
}

// NewHTTPComposer creates a composer for the endpoint at rawURL.
func NewHTTPComposer(rawURL string, client *httpclient.Client) (*HTTPComposer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing feed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("feed url must be http or https, got %q", rawURL)
	}
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	return &HTTPComposer{endpoint: u, client: client}, nil
}

// Page fetches one page. Items that fail validation are dropped by the pager,
// not here, so the page size the server reports stays intact.
func (h *HTTPComposer) Page(ctx context.Context, offset, limit int) ([]models.FeedItem, error) {
	u := *h.endpoint
	q := u.Query()
	q.Set("offset", strconv.Itoa(max(offset, 0)))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed page at %d: %w", offset, err)
	}
	defer resp.Body.Close()

	var page pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding feed page: %w", err)
	}
	for i := range page.Items {
		if page.Items[i].Kind == "" {
			page.Items[i].Kind = models.ItemKindVideo
		}
	}
	return page.Items, nil
}
