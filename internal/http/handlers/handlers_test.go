package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camrec/internal/capture"
	"github.com/jmylchreest/camrec/internal/catalog"
	"github.com/jmylchreest/camrec/internal/config"
	"github.com/jmylchreest/camrec/internal/database"
	"github.com/jmylchreest/camrec/internal/encoder"
	"github.com/jmylchreest/camrec/internal/media"
	"github.com/jmylchreest/camrec/internal/pipeline"
)

type testEnv struct {
	router  *chi.Mux
	api     huma.API
	manager *pipeline.Manager
	catalog *catalog.Catalog
	db      *database.DB
	dir     string
}

func newTestEnv(t *testing.T, maxSessions int) *testEnv {
	t.Helper()

	db, err := database.OpenAndMigrate(context.Background(), config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "catalog.db"),
		LogLevel: "silent",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cat := catalog.New(db.DB, nil)
	dir := t.TempDir()

	m, err := pipeline.NewManager(pipeline.ManagerConfig{
		OutputDir:   dir,
		MaxSessions: maxSessions,
		NewBackend: func(pipeline.Options) (encoder.Backend, error) {
			return encoder.NewSyntheticBackend(encoder.SyntheticOptions{}), nil
		},
		NewSource: func(opts pipeline.Options) (pipeline.Source, error) {
			return capture.New(capture.Config{
				Kind:      capture.KindTestPattern,
				Width:     opts.Width,
				Height:    opts.Height,
				FrameRate: opts.FrameRate,
				Layout:    media.LayoutNV21,
			}, nil)
		},
		Defaults: pipeline.Options{Width: 64, Height: 48, FrameRate: 25, AutoStop: pipeline.NoAutoStop},
		OnResult: cat.Hook(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("test", "1.0.0"))

	return &testEnv{router: router, api: api, manager: m, catalog: cat, db: db, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
