package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSAllowList(t *testing.T) {
	handler := CORS([]string{"https://grupoalade.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/chat/ping", nil)
	req.Header.Set("Origin", "https://grupoalade.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://grupoalade.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/chat/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS([]string{"http://localhost:5173"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/session/abc/contact", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called, "preflight is answered by the middleware")
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}

func TestOriginChecker(t *testing.T) {
	check := OriginChecker([]string{"https://aladeapp.cingulado.org"})

	cases := map[string]bool{
		"":                               true,
		"https://aladeapp.cingulado.org": true,
		"https://AladeApp.cingulado.org": true,
		"https://other.example":          false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/socket", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, check(req), "origin %q", origin)
	}

	req := httptest.NewRequest(http.MethodGet, "/socket", nil)
	req.Header.Set("Origin", "https://anything.example")
	assert.True(t, OriginChecker([]string{"*"})(req))
}
