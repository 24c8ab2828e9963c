package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/dormshare/pkg/contextkeys"
	"github.com/platinummonkey/dormshare/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		body   string
	}{
		{"success", func(w http.ResponseWriter) { WriteSuccess(w, map[string]int{"n": 1}) }, http.StatusOK, `{"n":1}`},
		{"validation", func(w http.ResponseWriter) { WriteValidationError(w, "roles is required") }, http.StatusBadRequest, `{"error":"roles is required"}`},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "not found") }, http.StatusNotFound, `{"error":"not found"}`},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError, `{"error":"internal error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestWriteServiceUnavailable(t *testing.T) {
	w := httptest.NewRecorder()
	WriteServiceUnavailable(w, "try later", 2*time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	WriteServiceUnavailable(w, "try later", 0)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestParseJSONOrError(t *testing.T) {
	var dest struct {
		Roles []string `json:"roles"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"roles":["admin"]}`))
	w := httptest.NewRecorder()
	require.True(t, ParseJSONOrError(w, req, &dest))
	assert.Equal(t, []string{"admin"}, dest.Roles)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{invalid}`))
	w = httptest.NewRecorder()
	assert.False(t, ParseJSONOrError(w, req, &dest))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPathParams(t *testing.T) {
	var gotID int64
	var gotRole string
	router := mux.NewRouter()
	router.HandleFunc("/users/{id}/roles/{role}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := ParsePathInt64OrError(w, r, "id")
		if !ok {
			return
		}
		role, ok := ParsePathStringOrError(w, r, "role")
		if !ok {
			return
		}
		gotID, gotRole = id, role
		WriteNoContent(w)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/users/42/roles/leader", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, int64(42), gotID)
	assert.Equal(t, "leader", gotRole)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/users/abc/roles/leader", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err := ParsePathString(httptest.NewRequest(http.MethodGet, "/", nil), "role")
	assert.Error(t, err)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=5&bad=x", nil)

	v, err := ParseQueryInt(req, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	v, err = ParseQueryInt(req, "offset", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	_, err = ParseQueryInt(req, "bad", 0)
	assert.Error(t, err)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "refresh_token"))
	assert.JSONEq(t, `{"error":"refresh_token is required"}`, w.Body.String())
	assert.True(t, RequireNonEmpty(httptest.NewRecorder(), "x", "refresh_token"))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	handler.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
}

func TestRecoveryAndLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	handler := Chain(
		RequestIDMiddleware,
		LoggingMiddleware(logger),
		RecoveryMiddleware(logger),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
	out := buf.String()
	assert.Contains(t, out, "PANIC recovered")
	assert.Contains(t, out, `"status":500`)
	assert.Contains(t, out, `"path":"/api/me"`)
}

func TestMaxBytesMiddleware(t *testing.T) {
	handler := MaxBytesMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]string
		if !ParseJSONOrError(w, r, &v) {
			return
		}
		WriteNoContent(w)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"refresh_token":"0123456789"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
