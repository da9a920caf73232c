// Package media is the boundary to the media library: it fetches the playable
// resource for a feed item and the lightweight preview shown while that
// resource loads.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/jmylchreest/feedreel/pkg/httpclient"
)

// ErrNotFound is returned when the library has no resource for an item.
var ErrNotFound = errors.New("media not found")

// ErrClosed is returned when reading from a released resource.
var ErrClosed = errors.New("resource closed")

// ProgressFunc receives the fraction of a resource fetched so far, in [0,1].
type ProgressFunc func(fraction float64)

// Source fetches resources and previews for feed items. Implementations must
// honour context cancellation.
type Source interface {
	FetchResource(ctx context.Context, id models.ItemID, progress ProgressFunc) (*Resource, error)
	FetchPreview(ctx context.Context, id models.ItemID, size image.Point) (image.Image, error)
}

// Resource is the playable backing of one feed item. A Resource is owned by
// exactly one holder at a time and must be closed by the last one.
type Resource struct {
	ItemID      models.ItemID
	ContentType string
	Size        int64
	// Duration in seconds, zero when the library does not report one.
	Duration  float64
	Complete  bool
	FetchedAt time.Time

	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewResource wraps fetched bytes for id.
func NewResource(id models.ItemID, contentType string, data []byte, duration float64) *Resource {
	return &Resource{
		ItemID:      id,
		ContentType: contentType,
		Size:        int64(len(data)),
		Duration:    duration,
		Complete:    true,
		FetchedAt:   time.Now(),
		data:        data,
	}
}

// Bytes returns the resource payload. It fails once the resource is closed.
func (r *Resource) Bytes() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.data, nil
}

// Close releases the payload. Calling Close more than once is safe.
func (r *Resource) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.data = nil
	return nil
}

// Closed reports whether Close has been called.
func (r *Resource) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ErrorKind classifies a fetch failure by how the scheduler reacts to it.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	// ErrorTransient is a network or storage hiccup; the item is backed off and retried later.
	ErrorTransient
	// ErrorPermanent is a missing, undecodable, or forbidden resource.
	ErrorPermanent
	// ErrorCancelled is an explicit cancellation and is never reported as a failure.
	ErrorCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	case ErrorCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FetchError records why fetching an item failed.
type FetchError struct {
	ItemID models.ItemID
	Kind   ErrorKind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s (%s): %v", e.ItemID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err for id, classifying it.
func NewFetchError(id models.ItemID, err error) *FetchError {
	return &FetchError{ItemID: id, Kind: Classify(err), Err: err}
}

// Classify maps an error to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorNone
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return ErrorPermanent
	}
	if httpclient.IsRetryable(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}
