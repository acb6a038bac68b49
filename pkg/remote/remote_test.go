package remote

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPErrorIs(t *testing.T) {
	unauth := &HTTPError{Method: "GET", URI: "/x", StatusCode: http.StatusUnauthorized, Status: "401"}
	missing := &HTTPError{Method: "GET", URI: "/x", StatusCode: http.StatusNotFound, Status: "404"}
	broken := &HTTPError{Method: "GET", URI: "/x", StatusCode: http.StatusBadGateway, Status: "502"}

	assert.ErrorIs(t, unauth, ErrUnauthorized)
	assert.NotErrorIs(t, unauth, ErrNotFound)
	assert.ErrorIs(t, missing, ErrNotFound)
	assert.NotErrorIs(t, broken, ErrUnauthorized)
	assert.NotErrorIs(t, broken, ErrNotFound)

	wrapped := fmt.Errorf("list: %w", unauth)
	assert.True(t, errors.Is(wrapped, ErrUnauthorized))
	assert.Contains(t, broken.Error(), "unexpected 502")
}
