package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/inbucket/mailsync/pkg/remote"
)

// httpClient allows http.Client to be mocked for tests
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Generic REST restClient
type restClient struct {
	client  httpClient
	baseURL *url.URL
}

// do performs an HTTP request with this client and returns the response.  A non-nil body is
// encoded as JSON.
func (c *restClient) do(
	ctx context.Context, method, uri string, query url.Values, body any,
) (*http.Response, error) {
	u := c.baseURL.JoinPath(uri)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s for %q: %v", method, u, err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, fmt.Errorf("%s for %q: %v", method, u, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.client.Do(req)
}

// doJSON performs an HTTP request with this client and unmarshals the JSON response into v.
// Statuses other than 200 and 204 become a *remote.HTTPError.
func (c *restClient) doJSON(
	ctx context.Context, method, uri string, query url.Values, body, v any,
) error {
	resp, err := c.do(ctx, method, uri, query, body)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()
	switch resp.StatusCode {
	case http.StatusOK:
		if v == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(v)
	case http.StatusNoContent:
		return nil
	}

	return &remote.HTTPError{
		Method:     method,
		URI:        uri,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}
}
