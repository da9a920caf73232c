package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/feedreel/internal/http/handlers"
	"github.com/jmylchreest/feedreel/internal/position"
)

func setupPositionRouter(ledger *position.Ledger) *chi.Mux {
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	handlers.NewPositionHandler(ledger).Register(api)
	return router
}

func TestPositionHandler(t *testing.T) {
	ledger := position.NewLedger(10)
	router := setupPositionRouter(ledger)

	t.Run("unknown item", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/positions/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("saved mid-video resumes at offset", func(t *testing.T) {
		require.NoError(t, ledger.Save(context.Background(), "mid", 12, 30))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/positions/mid", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.PositionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "mid", string(resp.ItemID))
		assert.InDelta(t, 12, resp.Offset, 1e-9)
		assert.InDelta(t, 12, resp.ResumeOffset, 1e-9)
	})

	t.Run("saved near the end resumes from start", func(t *testing.T) {
		require.NoError(t, ledger.Save(context.Background(), "end", 29.9, 30))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/positions/end", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.PositionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.InDelta(t, 29.9, resp.Offset, 1e-9)
		assert.Zero(t, resp.ResumeOffset)
	})

	t.Run("delete forgets", func(t *testing.T) {
		require.NoError(t, ledger.Save(context.Background(), "gone", 5, 60))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/v1/positions/gone", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/positions/gone", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
