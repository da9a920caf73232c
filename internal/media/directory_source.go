package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/jmylchreest/feedreel/internal/storage"
)

const (
	previewSuffix = ".preview"
	metaSuffix    = ".meta.yaml"
	readChunk     = 256 * 1024
)

// DirectorySource serves resources from a local directory. The resource for
// item "abc" is the file "abc.<ext>" and its preview is "abc.preview.<ext>".
// An optional "abc.meta.yaml" sidecar describes the resource:
//
//	duration: 12.5 # seconds
type DirectorySource struct {
	sandbox         *storage.Sandbox
	maxBytes        int64
	defaultDuration float64
}

// itemMeta is the sidecar document.
type itemMeta struct {
	Duration float64 `yaml:"duration"`
}

// NewDirectorySource creates a source over dir. maxBytes caps a single
// resource; zero disables the cap.
func NewDirectorySource(dir string, maxBytes int64) (*DirectorySource, error) {
	sandbox, err := storage.NewSandbox(dir)
	if err != nil {
		return nil, err
	}
	return &DirectorySource{sandbox: sandbox, maxBytes: maxBytes}, nil
}

// WithDefaultDuration sets the duration reported for resources without a
// sidecar. Zero means unknown, and such resources never end.
func (s *DirectorySource) WithDefaultDuration(d time.Duration) *DirectorySource {
	s.defaultDuration = max(d.Seconds(), 0)
	return s
}

// FetchResource reads the item's file in chunks so progress is reported and
// cancellation is honoured between chunks.
func (s *DirectorySource) FetchResource(ctx context.Context, id models.ItemID, progress ProgressFunc) (*Resource, error) {
	name, err := s.locate(string(id))
	if err != nil {
		return nil, &FetchError{ItemID: id, Kind: ErrorPermanent, Err: err}
	}

	f, err := s.sandbox.Open(name)
	if err != nil {
		return nil, NewFetchError(id, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, NewFetchError(id, err)
	}
	total := info.Size()
	if s.maxBytes > 0 && total > s.maxBytes {
		return nil, &FetchError{ItemID: id, Kind: ErrorPermanent,
			Err: fmt.Errorf("resource is %d bytes, limit is %d", total, s.maxBytes)}
	}

	buf := bytes.NewBuffer(make([]byte, 0, total))
	chunk := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{ItemID: id, Kind: ErrorCancelled, Err: err}
		}
		n, err := f.Read(chunk)
		buf.Write(chunk[:n])
		if progress != nil && total > 0 && n > 0 {
			progress(min(float64(buf.Len())/float64(total), 1))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, NewFetchError(id, fmt.Errorf("reading %s: %w", name, err))
		}
	}
	if progress != nil {
		progress(1)
	}

	duration, err := s.duration(string(id))
	if err != nil {
		return nil, &FetchError{ItemID: id, Kind: ErrorPermanent, Err: err}
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(buf.Bytes())
	}
	return NewResource(id, contentType, buf.Bytes(), duration), nil
}

// duration reads the sidecar for stem, falling back to the default.
func (s *DirectorySource) duration(stem string) (float64, error) {
	f, err := s.sandbox.Open(stem + metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return s.defaultDuration, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var meta itemMeta
	if err := yaml.NewDecoder(io.LimitReader(f, 64*1024)).Decode(&meta); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("parsing %s%s: %w", stem, metaSuffix, err)
	}
	if meta.Duration < 0 {
		return 0, fmt.Errorf("%s%s: negative duration", stem, metaSuffix)
	}
	if meta.Duration == 0 {
		return s.defaultDuration, nil
	}
	return meta.Duration, nil
}

// FetchPreview decodes the item's preview image.
func (s *DirectorySource) FetchPreview(ctx context.Context, id models.ItemID, size image.Point) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{ItemID: id, Kind: ErrorCancelled, Err: err}
	}

	name, err := s.locate(string(id) + previewSuffix)
	if err != nil {
		return nil, &FetchError{ItemID: id, Kind: ErrorPermanent, Err: err}
	}
	f, err := s.sandbox.Open(name)
	if err != nil {
		return nil, NewFetchError(id, err)
	}
	defer f.Close()

	img, err := DecodePreview(f, size)
	if err != nil {
		return nil, &FetchError{ItemID: id, Kind: ErrorPermanent, Err: err}
	}
	return img, nil
}

func (s *DirectorySource) locate(stem string) (string, error) {
	matches, err := s.sandbox.FindByStem(stem)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, stem)
	}
	return matches[0], nil
}
