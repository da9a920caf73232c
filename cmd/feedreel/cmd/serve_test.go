package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/feedreel/internal/config"
	"github.com/jmylchreest/feedreel/internal/player"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), bytes.Repeat([]byte{1}, 1024), 0o600))
	}

	v := viper.New()
	config.SetDefaults(v)
	v.Set("database.dsn", ":memory:")
	v.Set("source.kind", "directory")
	v.Set("source.directory", dir)
	v.Set("feed.kind", "static")
	v.Set("feed.items", []string{"video:a", "video:b", "video:c"})
	v.Set("playback.prune_schedule", "@every 1h")

	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplication_WiresPlayerAndAPI(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApplication(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer app.close()

	app.player.Start()
	require.NoError(t, app.scheduler.Start(ctx))

	handler := app.server.Handler()

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/player", nil))
		if rec.Code != http.StatusOK {
			return false
		}
		var state player.State
		if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
			return false
		}
		return state.Paging.Count == 3 && len(state.Sessions) == cfg.Playback.RenderedSlots
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/progress/items/b", nil))
		return rec.Code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Components struct {
			Database struct {
				Status string `json:"status"`
			} `json:"database"`
			NextPrune *time.Time `json:"next_prune"`
		} `json:"components"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health.Components.Database.Status)
	assert.NotNil(t, health.Components.NextPrune)
}

func TestApplication_RejectsMissingMediaDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Directory = filepath.Join(t.TempDir(), "missing")

	_, err := newApplication(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestWriteConfigYAML(t *testing.T) {
	cfg := testConfig(t)

	var buf bytes.Buffer
	require.NoError(t, writeConfigYAML(&buf, cfg))

	var decoded map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "750ms", decoded["playback"]["await_timeout"])
	assert.Equal(t, 8, decoded["prefetch"]["lookahead"])
	assert.Equal(t, "directory", decoded["source"]["kind"])
}
