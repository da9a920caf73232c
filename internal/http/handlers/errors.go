package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/feedreel/internal/fetch"
	"github.com/jmylchreest/feedreel/internal/media"
)

// mediaError maps fetch failures onto HTTP statuses.
func mediaError(err error) error {
	if errors.Is(err, fetch.ErrClosed) {
		return huma.Error503ServiceUnavailable("fetch coordinator closed")
	}
	switch media.Classify(err) {
	case media.ErrorPermanent:
		if errors.Is(err, media.ErrNotFound) {
			return huma.Error404NotFound(err.Error())
		}
		return huma.Error502BadGateway(err.Error())
	case media.ErrorTransient:
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}
