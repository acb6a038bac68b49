package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderJSONStatus(t *testing.T) {
	w := httptest.NewRecorder()
	err := RenderJSONStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "-1", w.Header().Get("Expires"))
	assert.JSONEq(t, `{"status":"queued"}`, w.Body.String())
}

func TestRenderError(t *testing.T) {
	w := httptest.NewRecorder()
	err := RenderError(w, http.StatusServiceUnavailable, ErrorBody{Error: "offline", Offline: true})
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, map[string]any{"error": "offline", "offline": true}, got)

	w = httptest.NewRecorder()
	require.NoError(t, RenderError(w, http.StatusNotFound, ErrorBody{Error: "not found"}))
	assert.JSONEq(t, `{"error":"not found"}`, w.Body.String(), "offline omitted when false")
}

func TestMakePathPrefixer(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"", "/api/", "/api/"},
		{"/", "/api/", "/api/"},
		{"mail", "/api/", "/mail/api/"},
		{"/mail/", "/api/", "/mail/api/"},
		{"/a/b", "/api/", "/a/b/api/"},
	}
	for _, tc := range tests {
		t.Run(tc.base, func(t *testing.T) {
			assert.Equal(t, tc.want, MakePathPrefixer(tc.base)(tc.path))
		})
	}
}
