package client

import (
	"context"
	"testing"

	"github.com/inbucket/mailsync/pkg/rest/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientV1Requests(t *testing.T) {
	tests := []struct {
		name       string
		call       func(ctx context.Context, c *Client) error
		wantMethod string
		wantURL    string
		wantBody   string
	}{
		{
			name: "labels",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.Labels(ctx)
				return err
			},
			wantMethod: "GET",
			wantURL:    "/api/v1/labels",
		},
		{
			name: "list mailbox",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.ListMailbox(ctx, "INBOX")
				return err
			},
			wantMethod: "GET",
			wantURL:    "/api/v1/mailbox/INBOX",
		},
		{
			name: "load more",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.LoadMore(ctx, "Label_7")
				return err
			},
			wantMethod: "POST",
			wantURL:    "/api/v1/mailbox/Label_7/more",
		},
		{
			name: "get message",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.GetMessage(ctx, "abc123")
				return err
			},
			wantMethod: "GET",
			wantURL:    "/api/v1/message/abc123",
		},
		{
			name: "mark read",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.MarkRead(ctx, "INBOX", "abc123", true)
				return err
			},
			wantMethod: "PATCH",
			wantURL:    "/api/v1/message/abc123?mailbox=INBOX",
			wantBody:   `{"read":true}`,
		},
		{
			name: "unstar",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.SetStarred(ctx, "SENT", "abc123", false)
				return err
			},
			wantMethod: "PATCH",
			wantURL:    "/api/v1/message/abc123?mailbox=SENT",
			wantBody:   `{"starred":false}`,
		},
		{
			name: "move",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.Move(ctx, "abc123", "INBOX", "Label_7")
				return err
			},
			wantMethod: "PATCH",
			wantURL:    "/api/v1/message/abc123",
			wantBody:   `{"move":{"from":"INBOX","to":"Label_7"}}`,
		},
		{
			name: "delete",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.DeleteMessage(ctx, "INBOX", "abc123")
				return err
			},
			wantMethod: "DELETE",
			wantURL:    "/api/v1/message/abc123?mailbox=INBOX",
		},
		{
			name: "send",
			call: func(ctx context.Context, c *Client) error {
				return c.Send(ctx, &model.JSONSendV1{To: []string{"a@example.com"}, Subject: "hi"})
			},
			wantMethod: "POST",
			wantURL:    "/api/v1/send",
			wantBody:   `{"to":["a@example.com"],"subject":"hi"}`,
		},
		{
			name: "sync",
			call: func(ctx context.Context, c *Client) error {
				return c.Sync(ctx, "INBOX", "SENT")
			},
			wantMethod: "POST",
			wantURL:    "/api/v1/sync?mailbox=INBOX&mailbox=SENT",
		},
		{
			name: "status",
			call: func(ctx context.Context, c *Client) error {
				_, err := c.Status(ctx)
				return err
			},
			wantMethod: "GET",
			wantURL:    "/api/v1/status",
		},
		{
			name: "clear cache",
			call: func(ctx context.Context, c *Client) error {
				return c.ClearCache(ctx)
			},
			wantMethod: "DELETE",
			wantURL:    "/api/v1/cache",
		},
		{
			name: "prefetch",
			call: func(ctx context.Context, c *Client) error {
				return c.AgentCommand(ctx, "prefetch", "/api/messages/1")
			},
			wantMethod: "POST",
			wantURL:    "/api/v1/agent/prefetch",
			wantBody:   `{"urls":["/api/messages/1"]}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(baseURLStr)
			require.NoError(t, err)
			mth := &mockHTTPClient{body: `{}`}
			c.client = mth

			// Method under test
			require.NoError(t, tc.call(context.Background(), c))

			assert.Equal(t, tc.wantMethod, mth.req.Method)
			assert.Equal(t, baseURLStr+tc.wantURL, mth.req.URL.String())
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, string(mth.ReqBody()))
			}
		})
	}
}

func TestClientV1MutationStatus(t *testing.T) {
	c, err := New(baseURLStr)
	require.NoError(t, err)
	c.client = &mockHTTPClient{statusCode: 202, body: `{"status":"queued"}`}

	status, err := c.SetStarred(context.Background(), "INBOX", "abc123", true)
	require.NoError(t, err)
	assert.Equal(t, "queued", status)
}
