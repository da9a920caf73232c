package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/feedreel/internal/models"
	"github.com/jmylchreest/feedreel/internal/observability"
	"github.com/jmylchreest/feedreel/internal/progress"
)

// ProgressEventsPath is the SSE endpoint for ledger changes.
const ProgressEventsPath = "/api/v1/progress/events"

// ProgressHandler serves the progress ledger and its SSE stream.
type ProgressHandler struct {
	ledger            *progress.Ledger
	heartbeatInterval time.Duration
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(ledger *progress.Ledger) *ProgressHandler {
	return &ProgressHandler{
		ledger:            ledger,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *ProgressHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// ListProgressInput filters the ledger listing.
type ListProgressInput struct {
	Phase string `query:"phase" enum:"queued,fetching,resource_ready,playback_ready,failed" doc:"Only return entries in this phase"`
}

// ListProgressOutput is the output for the ledger listing.
type ListProgressOutput struct {
	Body ListProgressBody
}

// ListProgressBody lists ledger entries, most recently updated first.
type ListProgressBody struct {
	Entries []progress.Entry `json:"entries"`
}

// GetProgressInput addresses one ledger entry.
type GetProgressInput struct {
	ItemID string `path:"item_id"`
}

// GetProgressOutput is the output for a single ledger entry.
type GetProgressOutput struct {
	Body progress.Entry
}

// Register registers the progress routes with the API.
func (h *ProgressHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listProgress",
		Method:      "GET",
		Path:        "/api/v1/progress/items",
		Summary:     "List item progress",
		Description: "Returns fetch progress for recently scheduled items",
		Tags:        []string{"Progress"},
	}, h.ListProgress)

	huma.Register(api, huma.Operation{
		OperationID: "getProgress",
		Method:      "GET",
		Path:        "/api/v1/progress/items/{item_id}",
		Summary:     "Get item progress",
		Tags:        []string{"Progress"},
	}, h.GetProgress)
}

// RegisterSSE registers the SSE endpoint on a chi router. Huma does not
// stream, so the endpoint is a raw handler.
func (h *ProgressHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get(ProgressEventsPath, h.HandleSSEEvents)
}

// ListProgress returns ledger entries.
func (h *ProgressHandler) ListProgress(_ context.Context, input *ListProgressInput) (*ListProgressOutput, error) {
	entries := h.ledger.List()
	out := &ListProgressOutput{Body: ListProgressBody{Entries: make([]progress.Entry, 0, len(entries))}}
	for _, e := range entries {
		if input.Phase != "" && e.Phase.String() != input.Phase {
			continue
		}
		out.Body.Entries = append(out.Body.Entries, e)
	}
	return out, nil
}

// GetProgress returns the ledger entry for one item.
func (h *ProgressHandler) GetProgress(_ context.Context, input *GetProgressInput) (*GetProgressOutput, error) {
	entry, ok := h.ledger.Get(models.ItemID(input.ItemID))
	if !ok {
		return nil, huma.Error404NotFound("item not tracked")
	}
	return &GetProgressOutput{Body: entry}, nil
}

// HandleSSEEvents streams ledger events. An optional item_id query
// parameter restricts the stream to one item.
func (h *ProgressHandler) HandleSSEEvents(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	only := models.ItemID(r.URL.Query().Get("item_id"))

	sub := h.ledger.Subscribe()
	defer h.ledger.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	// Initial comment lets browsers fire onopen.
	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		logger.Error("failed to flush initial SSE connection", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				logger.Debug("heartbeat flush failed, client likely disconnected", "error", err)
				return
			}
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if only != "" && event.Entry.ItemID != only {
				continue
			}
			if err := writeSSEEvent(w, event); err != nil {
				logger.Error("failed to write SSE event",
					slog.String("event_type", event.EventType),
					slog.String("item_id", string(event.Entry.ItemID)),
					slog.String("error", err.Error()),
				)
				return
			}
			if err := rc.Flush(); err != nil {
				logger.Debug("event flush failed, client likely disconnected", "error", err)
				return
			}
		}
	}
}

// writeSSEEvent writes one event as a single SSE message.
func writeSSEEvent(w http.ResponseWriter, event progress.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	message := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.EventType, data))
	n, err := w.Write(message)
	if err != nil {
		return err
	}
	if n < len(message) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(message))
	}
	return nil
}
