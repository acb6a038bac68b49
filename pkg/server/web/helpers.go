package web

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ErrorBody is the JSON body of every API error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Offline bool   `json:"offline,omitempty"`
}

// RenderJSON sets the correct HTTP headers for JSON, then writes the specified
// data (typically a struct) encoded in JSON
func RenderJSON(w http.ResponseWriter, data any) error {
	return RenderJSONStatus(w, http.StatusOK, data)
}

// RenderJSONStatus is RenderJSON with an explicit status code.
func RenderJSONStatus(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Expires", "-1")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	return enc.Encode(data)
}

// RenderError writes an ErrorBody with the provided status.
func RenderError(w http.ResponseWriter, status int, body ErrorBody) error {
	return RenderJSONStatus(w, status, body)
}

// MakePathPrefixer returns a func that prefixes paths with the cleaned base path.
func MakePathPrefixer(basePath string) func(string) string {
	prefix := strings.Trim(basePath, "/")
	if prefix != "" {
		prefix = "/" + prefix
	}
	return func(path string) string {
		return prefix + path
	}
}
