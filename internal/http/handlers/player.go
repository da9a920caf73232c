package handlers

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/jmylchreest/feedreel/internal/paging"
	"github.com/jmylchreest/feedreel/internal/player"
)

// PlayerService is the subset of the player controller the API drives.
type PlayerService interface {
	State() (player.State, error)
	Append(items ...models.FeedItem) (int, error)
	SetViewport(itemHeight float64) error
	BeginDrag() error
	Drag(delta float64) (paging.DragState, error)
	EndDrag() (int, error)
	Activate(index int) error
	IsPageReady(index int) (bool, error)
	Item(index int) (models.FeedItem, bool, error)
	Preview(ctx context.Context, index int) (image.Image, error)
}

// PlayerHandler exposes the pager and playback sessions over HTTP.
type PlayerHandler struct {
	player PlayerService
}

// NewPlayerHandler creates a new player handler.
func NewPlayerHandler(p PlayerService) *PlayerHandler {
	return &PlayerHandler{player: p}
}

// Drag phases.
const (
	DragPhaseBegin = "begin"
	DragPhaseMove  = "move"
	DragPhaseEnd   = "end"
)

// GetPlayerInput is the input for the player state endpoint.
type GetPlayerInput struct{}

// GetPlayerOutput is the output for the player state endpoint.
type GetPlayerOutput struct {
	Body player.State
}

// DragInput is one step of a drag gesture.
type DragInput struct {
	Body struct {
		Phase string  `json:"phase" enum:"begin,move,end" doc:"Gesture phase"`
		Delta float64 `json:"delta,omitempty" doc:"Scroll delta in viewport units, positive moves forward"`
	}
}

// DragResponse reports the pager after a drag step.
type DragResponse struct {
	Drag  paging.DragState `json:"drag"`
	Index int              `json:"index"`
}

// DragOutput is the output for the drag endpoint.
type DragOutput struct {
	Body DragResponse
}

// ActivateInput jumps to an index.
type ActivateInput struct {
	Body struct {
		Index int `json:"index" minimum:"0" doc:"Feed index to make current"`
	}
}

// ActivateOutput is the output for the activate endpoint.
type ActivateOutput struct {
	Body paging.State
}

// ViewportInput sets the item height.
type ViewportInput struct {
	Body struct {
		ItemHeight float64 `json:"item_height" exclusiveMinimum:"0" doc:"Height of one feed page in viewport units"`
	}
}

// ViewportOutput is the output for the viewport endpoint.
type ViewportOutput struct {
	Body paging.State
}

// AppendItemsInput appends items to the feed.
type AppendItemsInput struct {
	Body struct {
		Items []models.FeedItem `json:"items" minItems:"1"`
	}
}

// AppendItemsOutput is the output for the append endpoint.
type AppendItemsOutput struct {
	Body struct {
		Added int `json:"added"`
	}
}

// PageInput addresses one feed page.
type PageInput struct {
	Index int `path:"index" minimum:"0"`
}

// PageReadyOutput is the output for the page readiness endpoint.
type PageReadyOutput struct {
	Body struct {
		Index int             `json:"index"`
		Item  models.FeedItem `json:"item"`
		Ready bool            `json:"ready"`
	}
}

// PreviewOutput is a PNG-encoded preview image.
type PreviewOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// Register registers the player routes with the API.
func (h *PlayerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getPlayer",
		Method:      "GET",
		Path:        "/api/v1/player",
		Summary:     "Get player state",
		Description: "Returns the pager position, the prefetch window and every playback session",
		Tags:        []string{"Player"},
	}, h.GetPlayer)

	huma.Register(api, huma.Operation{
		OperationID: "dragPlayer",
		Method:      "POST",
		Path:        "/api/v1/player/drag",
		Summary:     "Drag the pager",
		Description: "Begins, moves or ends a drag gesture; forward movement is limited to ready pages",
		Tags:        []string{"Player"},
	}, h.Drag)

	huma.Register(api, huma.Operation{
		OperationID: "activatePage",
		Method:      "POST",
		Path:        "/api/v1/player/activate",
		Summary:     "Jump to a page",
		Tags:        []string{"Player"},
	}, h.Activate)

	huma.Register(api, huma.Operation{
		OperationID: "setViewport",
		Method:      "POST",
		Path:        "/api/v1/player/viewport",
		Summary:     "Set the viewport item height",
		Tags:        []string{"Player"},
	}, h.SetViewport)

	huma.Register(api, huma.Operation{
		OperationID: "appendItems",
		Method:      "POST",
		Path:        "/api/v1/player/items",
		Summary:     "Append feed items",
		Tags:        []string{"Player"},
	}, h.AppendItems)

	huma.Register(api, huma.Operation{
		OperationID: "getPageReady",
		Method:      "GET",
		Path:        "/api/v1/player/pages/{index}/ready",
		Summary:     "Check page readiness",
		Tags:        []string{"Player"},
	}, h.GetPageReady)

	huma.Register(api, huma.Operation{
		OperationID: "getPagePreview",
		Method:      "GET",
		Path:        "/api/v1/player/pages/{index}/preview",
		Summary:     "Get page preview",
		Description: "Returns the placeholder image shown while the page's media loads",
		Tags:        []string{"Player"},
	}, h.GetPreview)
}

// GetPlayer returns a snapshot of the player.
func (h *PlayerHandler) GetPlayer(_ context.Context, _ *GetPlayerInput) (*GetPlayerOutput, error) {
	state, err := h.player.State()
	if err != nil {
		return nil, playerError(err)
	}
	return &GetPlayerOutput{Body: state}, nil
}

// Drag applies one phase of a drag gesture.
func (h *PlayerHandler) Drag(_ context.Context, input *DragInput) (*DragOutput, error) {
	var (
		resp DragResponse
		err  error
	)
	switch input.Body.Phase {
	case DragPhaseBegin:
		err = h.player.BeginDrag()
	case DragPhaseMove:
		resp.Drag, err = h.player.Drag(input.Body.Delta)
	case DragPhaseEnd:
		_, err = h.player.EndDrag()
	default:
		return nil, huma.Error422UnprocessableEntity("phase must be one of begin, move, end")
	}
	if err != nil {
		return nil, playerError(err)
	}

	state, err := h.player.State()
	if err != nil {
		return nil, playerError(err)
	}
	resp.Index = state.Paging.Index
	return &DragOutput{Body: resp}, nil
}

// Activate makes the page at index current.
func (h *PlayerHandler) Activate(_ context.Context, input *ActivateInput) (*ActivateOutput, error) {
	if err := h.player.Activate(input.Body.Index); err != nil {
		return nil, playerError(err)
	}
	state, err := h.player.State()
	if err != nil {
		return nil, playerError(err)
	}
	return &ActivateOutput{Body: state.Paging}, nil
}

// SetViewport sets the height used to quantize drags.
func (h *PlayerHandler) SetViewport(_ context.Context, input *ViewportInput) (*ViewportOutput, error) {
	if err := h.player.SetViewport(input.Body.ItemHeight); err != nil {
		return nil, playerError(err)
	}
	state, err := h.player.State()
	if err != nil {
		return nil, playerError(err)
	}
	return &ViewportOutput{Body: state.Paging}, nil
}

// AppendItems appends items to the end of the feed.
func (h *PlayerHandler) AppendItems(_ context.Context, input *AppendItemsInput) (*AppendItemsOutput, error) {
	for _, item := range input.Body.Items {
		if err := item.Validate(); err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
	}
	added, err := h.player.Append(input.Body.Items...)
	if err != nil {
		return nil, playerError(err)
	}
	out := &AppendItemsOutput{}
	out.Body.Added = added
	return out, nil
}

// GetPageReady reports whether the page at index can be scrolled onto.
func (h *PlayerHandler) GetPageReady(_ context.Context, input *PageInput) (*PageReadyOutput, error) {
	item, ok, err := h.player.Item(input.Index)
	if err != nil {
		return nil, playerError(err)
	}
	if !ok {
		return nil, huma.Error404NotFound("page not loaded")
	}
	ready, err := h.player.IsPageReady(input.Index)
	if err != nil {
		return nil, playerError(err)
	}

	out := &PageReadyOutput{}
	out.Body.Index = input.Index
	out.Body.Item = item
	out.Body.Ready = ready
	return out, nil
}

// GetPreview returns the page's preview as PNG.
func (h *PlayerHandler) GetPreview(ctx context.Context, input *PageInput) (*PreviewOutput, error) {
	img, err := h.player.Preview(ctx, input.Index)
	if err != nil {
		return nil, playerError(err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, huma.Error500InternalServerError("encoding preview", err)
	}
	return &PreviewOutput{
		ContentType:  "image/png",
		CacheControl: "private, max-age=300",
		Body:         buf.Bytes(),
	}, nil
}

func playerError(err error) error {
	switch {
	case errors.Is(err, paging.ErrIndexOutOfRange):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, player.ErrStopped):
		return huma.Error503ServiceUnavailable("player stopped")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	default:
		return mediaError(err)
	}
}
