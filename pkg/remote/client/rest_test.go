package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/inbucket/mailsync/pkg/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURLStr = "http://test.local:8080"
const baseURLPathStr = "http://test.local:8080/mail"

type mockHTTPClient struct {
	req        *http.Request
	statusCode int
	body       string
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.req = req
	if m.statusCode == 0 {
		m.statusCode = 200
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Status:     http.StatusText(m.statusCode),
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func (m *mockHTTPClient) ReqBody() []byte {
	r, err := m.req.GetBody()
	if err != nil {
		return nil
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	_ = r.Close()
	return body
}

func mustParse(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestDoTable(t *testing.T) {
	tests := []struct {
		method   string
		uri      string
		base     string
		body     any
		wantURL  string
		wantBody string
	}{
		{method: "GET", uri: "/doget", base: baseURLStr, wantURL: baseURLStr + "/doget"},
		{method: "POST", uri: "/dopost", base: baseURLStr, body: map[string]int{"a": 1},
			wantURL: baseURLStr + "/dopost", wantBody: `{"a":1}`},
		{method: "GET", uri: "/doget", base: baseURLPathStr, wantURL: baseURLPathStr + "/doget"},
		{method: "POST", uri: "/dopost", base: baseURLPathStr, body: []string{"x"},
			wantURL: baseURLPathStr + "/dopost", wantBody: `["x"]`},
	}
	for _, test := range tests {
		t.Run(test.method+","+test.wantURL, func(t *testing.T) {
			mth := &mockHTTPClient{}
			c := &restClient{mth, mustParse(t, test.base)}

			resp, err := c.do(context.Background(), test.method, test.uri, nil, test.body)
			require.NoError(t, err)
			_ = resp.Body.Close()

			assert.Equal(t, test.method, mth.req.Method)
			assert.Equal(t, test.wantURL, mth.req.URL.String())
			if test.wantBody != "" {
				assert.Equal(t, test.wantBody, string(mth.ReqBody()))
				assert.Equal(t, "application/json", mth.req.Header.Get("Content-Type"))
			}
		})
	}
}

func TestDoQuery(t *testing.T) {
	mth := &mockHTTPClient{}
	c := &restClient{mth, mustParse(t, baseURLStr)}

	resp, err := c.do(context.Background(), "GET", "/list", url.Values{"a": {"b c"}}, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, baseURLStr+"/list?a=b+c", mth.req.URL.String())
}

func TestDoJSON(t *testing.T) {
	mth := &mockHTTPClient{body: `{"foo":"bar"}`}
	c := &restClient{mth, mustParse(t, baseURLStr)}

	var v map[string]string
	err := c.doJSON(context.Background(), "GET", "/doget", nil, nil, &v)
	require.NoError(t, err)
	assert.Equal(t, "bar", v["foo"])
}

func TestDoJSONNoContent(t *testing.T) {
	mth := &mockHTTPClient{statusCode: http.StatusNoContent}
	c := &restClient{mth, mustParse(t, baseURLStr)}

	var v map[string]string
	err := c.doJSON(context.Background(), "POST", "/x", nil, nil, &v)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDoJSONStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, remote.ErrUnauthorized},
		{http.StatusNotFound, remote.ErrNotFound},
	}
	for _, test := range tests {
		mth := &mockHTTPClient{statusCode: test.status}
		c := &restClient{mth, mustParse(t, baseURLStr)}

		err := c.doJSON(context.Background(), "GET", "/x", nil, nil, nil)
		assert.ErrorIs(t, err, test.want)
		var herr *remote.HTTPError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, test.status, herr.StatusCode)
	}
}
