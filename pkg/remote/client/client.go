// Package client implements the remote mailbox service over its JSON REST API.
package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/inbucket/mailsync/pkg/message"
	"github.com/inbucket/mailsync/pkg/remote"
)

// Client accesses the remote mailbox REST API.
type Client struct {
	restClient
}

var _ remote.Service = &Client{}

// New creates a client given the base URL of the mailbox service, ex: "https://mail.example.com"
func New(baseURL string, opts ...func(*Options)) (*Client, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Client{
		restClient{
			client: &http.Client{
				Transport: o.transport,
				Timeout:   o.timeout,
			},
			baseURL: parsedURL,
		},
	}, nil
}

type labelsResponse struct {
	Labels []message.Label `json:"labels"`
}

type modifyRequest struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
}

type indexRequest struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	Text    string `json:"text"`
}

// ListLabels returns every label with its counts.
func (c *Client) ListLabels(ctx context.Context) ([]message.Label, error) {
	resp := &labelsResponse{}
	if err := c.doJSON(ctx, "GET", "/api/emails/labels", nil, nil, resp); err != nil {
		return nil, err
	}
	return resp.Labels, nil
}

// ListMessages returns one page of the mailbox.
func (c *Client) ListMessages(
	ctx context.Context, mailboxID, pageToken string, pageSize int,
) (*remote.ListResult, error) {
	q := url.Values{}
	q.Set("labelId", mailboxID)
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	if pageSize > 0 {
		q.Set("maxResults", strconv.Itoa(pageSize))
	}
	result := &remote.ListResult{}
	if err := c.doJSON(ctx, "GET", "/api/emails", q, nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetMessage returns the fully hydrated message.
func (c *Client) GetMessage(ctx context.Context, id string) (*message.Detail, error) {
	d := &message.Detail{}
	if err := c.doJSON(ctx, "GET", "/api/emails/"+url.PathEscape(id), nil, nil, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ModifyLabels adds and removes labels on the message.
func (c *Client) ModifyLabels(ctx context.Context, id string, add, remove []string) error {
	uri := "/api/emails/" + url.PathEscape(id) + "/modify"
	return c.doJSON(ctx, "POST", uri, nil, &modifyRequest{AddLabelIDs: add, RemoveLabelIDs: remove}, nil)
}

// Trash moves the message to the trash.
func (c *Client) Trash(ctx context.Context, id string) error {
	uri := "/api/emails/" + url.PathEscape(id) + "/trash"
	return c.doJSON(ctx, "POST", uri, nil, nil, nil)
}

// Send sends a new message.
func (c *Client) Send(ctx context.Context, msg *message.Outgoing) error {
	return c.doJSON(ctx, "POST", "/api/emails/send", nil, msg, nil)
}

// Probe checks the service is reachable.
func (c *Client) Probe(ctx context.Context) error {
	return c.doJSON(ctx, "GET", "/api/health", nil, nil, nil)
}

// IndexMessage submits the message to the semantic search index.
func (c *Client) IndexMessage(ctx context.Context, d *message.Detail) error {
	req := &indexRequest{ID: d.ID, Subject: d.Subject, From: d.From, Text: d.Text}
	return c.doJSON(ctx, "POST", "/api/search/index", nil, req, nil)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// Refresh exchanges a refresh token for a new access token.  The client used for refreshing must
// not itself be wrapped by the auth transport.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	resp := &refreshResponse{}
	err := c.doJSON(ctx, "POST", "/api/auth/refresh", nil, &refreshRequest{RefreshToken: refreshToken}, resp)
	if err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}
