package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/feedreel/internal/http/handlers"
	"github.com/jmylchreest/feedreel/internal/progress"
)

func newTestProgressHandler() (*handlers.ProgressHandler, *progress.Ledger) {
	ledger := progress.NewLedger(10, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return handlers.NewProgressHandler(ledger), ledger
}

func setupProgressRouter(handler *handlers.ProgressHandler) *chi.Mux {
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	handler.Register(api)
	handler.RegisterSSE(router)
	return router
}

func TestProgressHandler_ListProgress(t *testing.T) {
	t.Run("empty ledger", func(t *testing.T) {
		handler, _ := newTestProgressHandler()
		router := setupProgressRouter(handler)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/progress/items", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body handlers.ListProgressBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Empty(t, body.Entries)
	})

	t.Run("filters by phase", func(t *testing.T) {
		handler, ledger := newTestProgressHandler()
		router := setupProgressRouter(handler)

		ledger.Queue("a")
		ledger.Queue("b")
		ledger.Fetching("b", 0.5)
		ledger.Queue("c")
		ledger.PlaybackReady("c")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/progress/items?phase=fetching", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Entries []struct {
				ItemID  string  `json:"item_id"`
				Phase   string  `json:"phase"`
				Percent float64 `json:"percent"`
			} `json:"entries"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Entries, 1)
		assert.Equal(t, "b", body.Entries[0].ItemID)
		assert.Equal(t, "fetching", body.Entries[0].Phase)
		assert.InDelta(t, 0.5, body.Entries[0].Percent, 1e-9)
	})
}

func TestProgressHandler_GetProgress(t *testing.T) {
	handler, ledger := newTestProgressHandler()
	router := setupProgressRouter(handler)
	ledger.Queue("a")
	ledger.Fail("a", "not found")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/progress/items/a", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phase":"failed"`)
	assert.Contains(t, rec.Body.String(), `"note":"not found"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/progress/items/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandler_SSE(t *testing.T) {
	handler, ledger := newTestProgressHandler()
	handler.SetHeartbeatInterval(time.Hour)
	server := httptest.NewServer(setupProgressRouter(handler))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+handlers.ProgressEventsPath+"?item_id=wanted", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ":connected\n", line)

	// Subscribed once the connected comment arrives.
	ledger.Queue("other")
	ledger.Queue("wanted")
	ledger.PlaybackReady("wanted")

	var (
		events []string
		data   []string
	)
	for len(data) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}

	assert.Equal(t, []string{progress.EventTypeProgress, progress.EventTypeReady}, events)

	var last struct {
		EventType string `json:"event_type"`
		Entry     struct {
			ItemID string `json:"item_id"`
			Phase  string `json:"phase"`
		} `json:"entry"`
	}
	require.NoError(t, json.Unmarshal([]byte(data[1]), &last))
	assert.Equal(t, "wanted", last.Entry.ItemID)
	assert.Equal(t, "playback_ready", last.Entry.Phase)
}
