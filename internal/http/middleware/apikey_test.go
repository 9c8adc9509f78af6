package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyDisabledWhenEmpty(t *testing.T) {
	handler := APIKey("")(okHandler())

	req := httptest.NewRequest("GET", "/api/transcode/start", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyEnforcement(t *testing.T) {
	handler := APIKey("sekrit")(okHandler())

	tests := []struct {
		name   string
		path   string
		header string
		query  string
		want   int
	}{
		{name: "valid header", path: "/api/transcode/start", header: "sekrit", want: http.StatusOK},
		{name: "valid query param", path: "/ws/progress", query: "sekrit", want: http.StatusOK},
		{name: "missing key", path: "/api/transcode/start", want: http.StatusUnauthorized},
		{name: "wrong key", path: "/api/transcode/start", header: "guess", want: http.StatusUnauthorized},
		{name: "header beats query", path: "/api/stats", header: "sekrit", query: "guess", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.path
			if tt.query != "" {
				target += "?api_key=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.JSONEq(t,
					`{"error":{"code":"unauthorized","message":"missing or invalid api key"}}`,
					rec.Body.String())
			}
		})
	}
}

func TestAPIKeyExemptPaths(t *testing.T) {
	handler := APIKey("sekrit")(okHandler())

	paths := []string{
		"/api/health",
		"/docs",
		"/openapi.json",
		"/schemas/Job.json",
		"/stream/01ARZ3NDEKTSV4RRFFQ69G5FAV/master.m3u8",
		"/download/01ARZ3NDEKTSV4RRFFQ69G5FAV",
	}

	for _, path := range paths {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
