package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SlpAus/slap-counter-backend/internal/idempotency"
	"github.com/SlpAus/slap-counter-backend/internal/platform/config"
	"github.com/SlpAus/slap-counter-backend/internal/platform/database"
	"github.com/SlpAus/slap-counter-backend/internal/platform/health"
	"github.com/SlpAus/slap-counter-backend/internal/ratelimit"
	"github.com/SlpAus/slap-counter-backend/internal/slap"
)

func newTestRouter(t *testing.T, videoPath string) http.Handler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	stores := database.NewStoresWith(database.WithSQL(db))
	svc := slap.NewService("slaps", slap.NewBackends(stores),
		ratelimit.New(nil, time.Minute, 10), idempotency.New(nil, time.Minute))
	require.NoError(t, svc.Prime(context.Background(), slap.PrimeOptions{AutoMigrate: true}))

	checker := health.NewChecker(stores, health.Options{})
	checker.Check(context.Background())

	return NewRouter(config.ServerConfig{
		Mode: "test",
		Cors: config.CorsConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}, Deps{
		Slap:      slap.NewHandler(svc),
		Health:    checker,
		VideoPath: videoPath,
	})
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestRouter_CounterRoutes(t *testing.T) {
	r := newTestRouter(t, "")

	w := serve(r, http.MethodPost, "/increment-counter")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"totalSlaps":1}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = serve(r, http.MethodPost, "/api/slap")
	assert.JSONEq(t, `{"ok":true,"totalSlaps":2}`, w.Body.String())

	w = serve(r, http.MethodGet, "/api/slaps")
	assert.JSONEq(t, `{"totalSlaps":2}`, w.Body.String())
}

func TestRouter_OperationalRoutes(t *testing.T) {
	r := newTestRouter(t, "")

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz").Code)

	w := serve(r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/slap/video").Code)
}

func TestRouter_VideoSupportsRange(t *testing.T) {
	video := filepath.Join(t.TempDir(), "slap.mp4")
	require.NoError(t, os.WriteFile(video, []byte("0123456789"), 0o644))
	r := newTestRouter(t, video)

	req := httptest.NewRequest(http.MethodGet, "/api/slap/video", nil)
	req.Header.Set("Range", "bytes=2-5")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "2345", w.Body.String())
}

func TestCorsConfig(t *testing.T) {
	c := corsConfig(config.CorsConfig{})
	assert.True(t, c.AllowAllOrigins)
	assert.False(t, c.AllowCredentials)

	c = corsConfig(config.CorsConfig{AllowedOrigins: []string{"https://example.com"}})
	assert.False(t, c.AllowAllOrigins)
	assert.True(t, c.AllowCredentials)
	assert.Equal(t, []string{"https://example.com"}, c.AllowOrigins)
}
