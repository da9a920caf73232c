package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/jmylchreest/feedreel/pkg/httpclient"
)

// HeaderMediaDuration carries the resource duration in seconds.
const HeaderMediaDuration = "X-Media-Duration"

// HTTPSource fetches resources from a media library over HTTP:
//
//	GET {base}/items/{id}/resource
//	GET {base}/items/{id}/preview
type HTTPSource struct {
	baseURL *url.URL
	client  *httpclient.Client
	logger  *slog.Logger
}

// NewHTTPSource creates an HTTP source rooted at baseURL.
func NewHTTPSource(baseURL string, client *httpclient.Client) (*HTTPSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing media base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("media base url must be http or https, got %q", baseURL)
	}
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	return &HTTPSource{
		baseURL: u,
		client:  client,
		logger:  slog.Default().With(slog.String("component", "media_http")),
	}, nil
}

// WithLogger sets the logger for the source.
func (s *HTTPSource) WithLogger(logger *slog.Logger) *HTTPSource {
	s.logger = logger.With(slog.String("component", "media_http"))
	return s
}

func (s *HTTPSource) itemURL(id models.ItemID, leaf string) string {
	return s.baseURL.JoinPath("items", string(id), leaf).String()
}

// FetchResource downloads the full resource, reporting progress when the
// server sends a Content-Length.
func (s *HTTPSource) FetchResource(ctx context.Context, id models.ItemID, progress ProgressFunc) (*Resource, error) {
	resp, err := s.get(ctx, id, "resource")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if progress != nil && resp.ContentLength > 0 {
		body = &progressReader{reader: resp.Body, total: resp.ContentLength, progress: progress}
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, NewFetchError(id, fmt.Errorf("reading resource body: %w", err))
	}
	if progress != nil {
		progress(1)
	}

	duration := 0.0
	if v := resp.Header.Get(HeaderMediaDuration); v != "" {
		if d, err := strconv.ParseFloat(v, 64); err == nil && d > 0 {
			duration = d
		} else {
			s.logger.Debug("ignoring malformed duration header",
				slog.String("item_id", string(id)),
				slog.String("value", v),
			)
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(buf.Bytes())
	}

	return NewResource(id, contentType, buf.Bytes(), duration), nil
}

// FetchPreview downloads and decodes the item's preview image.
func (s *HTTPSource) FetchPreview(ctx context.Context, id models.ItemID, size image.Point) (image.Image, error) {
	resp, err := s.get(ctx, id, "preview")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	img, err := DecodePreview(resp.Body, size)
	if err != nil {
		return nil, &FetchError{ItemID: id, Kind: ErrorPermanent, Err: err}
	}
	return img, nil
}

func (s *HTTPSource) get(ctx context.Context, id models.ItemID, leaf string) (*http.Response, error) {
	if id == "" || strings.ContainsAny(string(id), "/?#") || id == "." || id == ".." {
		return nil, &FetchError{ItemID: id, Kind: ErrorPermanent, Err: models.ErrInvalidItem}
	}
	resp, err := s.client.Get(ctx, s.itemURL(id, leaf))
	if err != nil {
		return nil, NewFetchError(id, err)
	}
	return resp, nil
}

// progressReader reports the fraction of total read so far.
type progressReader struct {
	reader   io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.reader.Read(b)
	if n > 0 {
		p.read += int64(n)
		fraction := float64(p.read) / float64(p.total)
		if fraction > 1 {
			fraction = 1
		}
		p.progress(fraction)
	}
	return n, err
}
