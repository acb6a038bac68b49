// Package client provides a basic REST client for the mailsync local API
package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/inbucket/mailsync/pkg/rest/model"
)

// Client accesses the mailsync REST API v1
type Client struct {
	restClient
}

// New creates a new v1 REST API client given the base URL of a mailsync daemon, ex:
// "http://localhost:9300"
func New(baseURL string, opts ...func(*ClientOptions)) (*Client, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	options := getDefaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}
	c := &Client{
		restClient{
			client: &http.Client{
				Transport: options.transport,
				Timeout:   options.timeout,
			},
			baseURL: parsedURL,
		},
	}
	return c, nil
}

// IsOffline reports whether err is the local API reporting that the device is offline and
// nothing is cached for the request.
func IsOffline(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Offline
}

// Labels returns the mailbox folders.
func (c *Client) Labels(ctx context.Context) (*model.JSONLabelSetV1, error) {
	ls := &model.JSONLabelSetV1{}
	if err := c.doJSON(ctx, "GET", "/api/v1/labels", nil, ls); err != nil {
		return nil, err
	}
	return ls, nil
}

// ListMailbox returns the current page of the requested mailbox.
func (c *Client) ListMailbox(ctx context.Context, mailbox string) (*model.JSONMailboxV1, error) {
	mb := &model.JSONMailboxV1{}
	uri := "/api/v1/mailbox/" + url.PathEscape(mailbox)
	if err := c.doJSON(ctx, "GET", uri, nil, mb); err != nil {
		return nil, err
	}
	return mb, nil
}

// LoadMore replaces the current page of the mailbox with the next one and returns it.
func (c *Client) LoadMore(ctx context.Context, mailbox string) (*model.JSONMailboxV1, error) {
	mb := &model.JSONMailboxV1{}
	uri := "/api/v1/mailbox/" + url.PathEscape(mailbox) + "/more"
	if err := c.doJSON(ctx, "POST", uri, nil, mb); err != nil {
		return nil, err
	}
	return mb, nil
}

// GetMessage returns the message details given a message ID.
func (c *Client) GetMessage(ctx context.Context, id string) (*model.JSONMessageV1, error) {
	msg := &model.JSONMessageV1{}
	if err := c.doJSON(ctx, "GET", messageURI(id, ""), nil, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead sets the read flag of a message listed in mailbox.  The returned status is applied
// or queued.
func (c *Client) MarkRead(ctx context.Context, mailbox, id string, read bool) (string, error) {
	return c.patch(ctx, mailbox, id, &model.JSONMessagePatchV1{Read: &read})
}

// SetStarred sets the starred flag of a message listed in mailbox.
func (c *Client) SetStarred(ctx context.Context, mailbox, id string, starred bool) (string, error) {
	return c.patch(ctx, mailbox, id, &model.JSONMessagePatchV1{Starred: &starred})
}

// Move moves a message between mailboxes.
func (c *Client) Move(ctx context.Context, id, from, to string) (string, error) {
	return c.patch(ctx, "", id, &model.JSONMessagePatchV1{Move: &model.JSONMoveV1{From: from, To: to}})
}

// DeleteMessage moves a message listed in mailbox to the trash.
func (c *Client) DeleteMessage(ctx context.Context, mailbox, id string) (string, error) {
	res := &model.JSONMutationV1{}
	if err := c.doJSON(ctx, "DELETE", messageURI(id, mailbox), nil, res); err != nil {
		return "", err
	}
	return res.Status, nil
}

// Send sends a message.
func (c *Client) Send(ctx context.Context, msg *model.JSONSendV1) error {
	return c.doJSON(ctx, "POST", "/api/v1/send", msg, nil)
}

// Sync refreshes the label set and the first page of each mailbox.
func (c *Client) Sync(ctx context.Context, mailboxes ...string) error {
	q := url.Values{"mailbox": mailboxes}
	uri := "/api/v1/sync"
	if len(mailboxes) > 0 {
		uri += "?" + q.Encode()
	}
	return c.doJSON(ctx, "POST", uri, nil, nil)
}

// Status returns the state of the daemon.
func (c *Client) Status(ctx context.Context) (*model.JSONStatusV1, error) {
	status := &model.JSONStatusV1{}
	if err := c.doJSON(ctx, "GET", "/api/v1/status", nil, status); err != nil {
		return nil, err
	}
	return status, nil
}

// ClearCache wipes every cache tier of the daemon.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.doJSON(ctx, "DELETE", "/api/v1/cache", nil, nil)
}

// AgentCommand posts a control command to the network agent.  urls are used by prefetch.
func (c *Client) AgentCommand(ctx context.Context, command string, urls ...string) error {
	var body any
	if len(urls) > 0 {
		body = map[string][]string{"urls": urls}
	}
	return c.doJSON(ctx, "POST", "/api/v1/agent/"+url.PathEscape(command), body, nil)
}

func (c *Client) patch(
	ctx context.Context, mailbox, id string, patch *model.JSONMessagePatchV1) (string, error) {
	res := &model.JSONMutationV1{}
	if err := c.doJSON(ctx, "PATCH", messageURI(id, mailbox), patch, res); err != nil {
		return "", err
	}
	return res.Status, nil
}

func messageURI(id, mailbox string) string {
	uri := "/api/v1/message/" + url.PathEscape(id)
	if mailbox != "" {
		uri += "?" + url.Values{"mailbox": {mailbox}}.Encode()
	}
	return uri
}
