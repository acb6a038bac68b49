package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
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

// APIError is returned when the local API responds with an error status.
type APIError struct {
	Method     string
	URI        string
	StatusCode int
	Message    string
	Offline    bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s for %q, unexpected %v", e.Method, e.URI, e.StatusCode)
	}
	return fmt.Sprintf("%s for %q, unexpected %v: %s", e.Method, e.URI, e.StatusCode, e.Message)
}

// do performs an HTTP request with this client and returns the response.
func (c *restClient) do(ctx context.Context, method, uri string, body []byte) (*http.Response, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%s for %q: %v", method, uri, err)
	}
	url := c.baseURL.JoinPath(ref.Path)
	url.RawQuery = ref.RawQuery
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url.String(), r)
	if err != nil {
		return nil, fmt.Errorf("%s for %q: %v", method, url, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.client.Do(req)
}

// doJSON performs an HTTP request with this client, sending in as the JSON body when non-nil,
// and marshalls the JSON response into out.
func (c *restClient) doJSON(ctx context.Context, method string, uri string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}
	resp, err := c.do(ctx, method, uri, body)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		if out == nil {
			return nil
		}
		// Decode response body
		return json.NewDecoder(resp.Body).Decode(out)
	}

	apiErr := &APIError{Method: method, URI: uri, StatusCode: resp.StatusCode}
	var eb struct {
		Error   string `json:"error"`
		Offline bool   `json:"offline"`
	}
	if json.NewDecoder(resp.Body).Decode(&eb) == nil {
		apiErr.Message = eb.Error
		apiErr.Offline = eb.Offline
	}
	return apiErr
}
