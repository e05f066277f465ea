package slap

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc)
	r := gin.New()
	r.POST("/increment-counter", h.IncrementCounter)
	r.GET("/api/slaps", h.GetTotal)
	return r
}

func post(r http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/increment-counter", strings.NewReader(`{"anything":true}`))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandler_IncrementCounter(t *testing.T) {
	f := newFixture(t, fixtureOptions{db: openSQLite(t, true)})
	r := newRouter(f.svc)

	w := post(r, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"totalSlaps":1}`, w.Body.String())

	w = post(r, nil)
	assert.JSONEq(t, `{"ok":true,"totalSlaps":2}`, w.Body.String())
}

func TestHandler_RateLimited(t *testing.T) {
	f := newFixture(t, fixtureOptions{db: openSQLite(t, true)})
	r := newRouter(f.svc)
	headers := map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}

	for i := 1; i <= 10; i++ {
		w := post(r, headers)
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, i, decode(t, w)["totalSlaps"])
	}

	w := post(r, headers)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate_limited"}`, w.Body.String())

	// 代理链中的其他地址属于不同身份
	w = post(r, map[string]string{"X-Real-IP": "10.0.0.1"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_Duplicate(t *testing.T) {
	f := newFixture(t, fixtureOptions{db: openSQLite(t, true)})
	r := newRouter(f.svc)
	headers := map[string]string{ActionIDHeader: "1700000000-k3j2h1"}

	w := post(r, headers)
	assert.JSONEq(t, `{"ok":true,"totalSlaps":1}`, w.Body.String())

	w = post(r, headers)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"totalSlaps":1,"duplicate":true}`, w.Body.String())
}

func TestHandler_DBUnavailable(t *testing.T) {
	f := newFixture(t, fixtureOptions{db: openSQLite(t, false)})
	r := newRouter(f.svc)

	w := post(r, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"db_unavailable"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "no such table")
}

func TestHandler_ServerError(t *testing.T) {
	mr, rdb := setupRedis(t)
	f := newFixture(t, fixtureOptions{rdb: rdb})
	r := newRouter(f.svc)

	mr.SetError("ERR boom")

	w := post(r, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"server_error"}`, w.Body.String())
}

func TestHandler_GetTotal(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{db: openSQLite(t, true)})
		r := newRouter(f.svc)
		post(r, nil)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/slaps", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"totalSlaps":1}`, w.Body.String())
	})

	t.Run("unavailable", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{db: openSQLite(t, false)})
		r := newRouter(f.svc)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/slaps", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"totalSlaps":null}`, w.Body.String())
	})
}
