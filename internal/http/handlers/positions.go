package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/jmylchreest/feedreel/internal/position"
)

// PositionHandler exposes saved playback positions.
type PositionHandler struct {
	ledger *position.Ledger
}

// NewPositionHandler creates a new position handler.
func NewPositionHandler(ledger *position.Ledger) *PositionHandler {
	return &PositionHandler{ledger: ledger}
}

// PositionInput addresses one item's saved position.
type PositionInput struct {
	ItemID string `path:"item_id"`
}

// PositionResponse is a saved position and the offset playback would resume from.
type PositionResponse struct {
	ItemID       models.ItemID `json:"item_id"`
	Offset       float64       `json:"offset"`
	Duration     float64       `json:"duration"`
	ResumeOffset float64       `json:"resume_offset"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// GetPositionOutput is the output for the position lookup.
type GetPositionOutput struct {
	Body PositionResponse
}

// DeletePositionOutput is the output for the position delete.
type DeletePositionOutput struct{}

// Register registers the position routes with the API.
func (h *PositionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getPosition",
		Method:      "GET",
		Path:        "/api/v1/positions/{item_id}",
		Summary:     "Get saved position",
		Description: "Returns the last saved playhead for an item and where playback would resume",
		Tags:        []string{"Positions"},
	}, h.GetPosition)

	huma.Register(api, huma.Operation{
		OperationID:   "deletePosition",
		Method:        "DELETE",
		Path:          "/api/v1/positions/{item_id}",
		Summary:       "Forget saved position",
		Tags:          []string{"Positions"},
		DefaultStatus: 204,
	}, h.DeletePosition)
}

// GetPosition returns the saved position for an item.
func (h *PositionHandler) GetPosition(ctx context.Context, input *PositionInput) (*GetPositionOutput, error) {
	id := models.ItemID(input.ItemID)
	pos, ok, err := h.ledger.Get(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading position", err)
	}
	if !ok {
		return nil, huma.Error404NotFound("no saved position")
	}

	return &GetPositionOutput{Body: PositionResponse{
		ItemID:       pos.ItemID,
		Offset:       pos.Offset,
		Duration:     pos.Duration,
		ResumeOffset: h.ledger.Policy().Resolve(pos.Offset, pos.Duration),
		UpdatedAt:    pos.UpdatedAt,
	}}, nil
}

// DeletePosition forgets the saved position for an item.
func (h *PositionHandler) DeletePosition(ctx context.Context, input *PositionInput) (*DeletePositionOutput, error) {
	if err := h.ledger.Forget(ctx, models.ItemID(input.ItemID)); err != nil {
		return nil, huma.Error500InternalServerError("forgetting position", err)
	}
	return &DeletePositionOutput{}, nil
}
