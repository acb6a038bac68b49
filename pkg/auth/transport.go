package auth

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Transport attaches the guard's bearer token to each request and, on a 401, retries exactly once
// with the shared refreshed credential.  If the refresh fails the original 401 response is
// returned.
type Transport struct {
	Base  http.RoundTripper
	Guard *Guard
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := t.Guard.Token()
	resp, err := t.base().RoundTrip(withToken(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		// Body cannot be replayed.
		return resp, nil
	}

	fresh, rerr := t.Guard.Refresh(req.Context(), token)
	if rerr != nil {
		log.Debug().Str("module", "auth").Str("url", req.URL.String()).Err(rerr).
			Msg("Refresh failed, returning original response")
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	retry := withToken(req, fresh)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return t.base().RoundTrip(retry)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func withToken(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}
