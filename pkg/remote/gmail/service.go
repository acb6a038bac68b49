// Package gmail implements the remote mailbox service on the Gmail API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/inbucket/mailsync/pkg/message"
	"github.com/inbucket/mailsync/pkg/remote"
	"github.com/inbucket/mailsync/pkg/sanitize"
	"github.com/jhillyerd/enmime/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	user = "me"

	// Concurrent per-item requests issued while listing.
	fanOut = 8
)

var summaryHeaders = []string{"From", "To", "Subject", "Date"}

// Service adapts *gmail.Service to remote.Service.
type Service struct {
	svc    *gmail.Service
	policy *sanitize.Policy
}

var _ remote.Service = &Service{}

// New creates a Gmail backed service.  hc carries authentication, typically the auth transport.
// Extra client options, such as option.WithEndpoint, are passed through.
func New(ctx context.Context, hc *http.Client, policy *sanitize.Policy, opts ...option.ClientOption) (*Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	if policy == nil {
		policy = sanitize.Default
	}
	return &Service{svc: svc, policy: policy}, nil
}

// ListLabels lists labels, then fetches counts for each concurrently.
func (s *Service) ListLabels(ctx context.Context) ([]message.Label, error) {
	lr, err := s.svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	labels := make([]message.Label, len(lr.Labels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, l := range lr.Labels {
		g.Go(func() error {
			full, err := s.svc.Users.Labels.Get(user, l.Id).Context(gctx).Do()
			if err != nil {
				return mapError(err)
			}
			labels[i] = message.Label{
				ID:     full.Id,
				Name:   full.Name,
				Type:   full.Type,
				Total:  int(full.MessagesTotal),
				Unread: int(full.MessagesUnread),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return labels, nil
}

// ListMessages lists message ids in the mailbox, then fetches summary metadata for each
// concurrently, preserving list order.
func (s *Service) ListMessages(
	ctx context.Context, mailboxID, pageToken string, pageSize int,
) (*remote.ListResult, error) {
	call := s.svc.Users.Messages.List(user).LabelIds(mailboxID)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	if pageSize > 0 {
		call = call.MaxResults(int64(pageSize))
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	summaries := make([]message.Summary, len(res.Messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, m := range res.Messages {
		g.Go(func() error {
			full, err := s.svc.Users.Messages.Get(user, m.Id).Format("metadata").
				MetadataHeaders(summaryHeaders...).Context(gctx).Do()
			if err != nil {
				return mapError(err)
			}
			summaries[i] = toSummary(full)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &remote.ListResult{Messages: summaries, NextPageToken: res.NextPageToken}, nil
}

// GetMessage fetches the raw message and hydrates it with enmime.  The HTML body is sanitized
// before it is returned.
func (s *Service) GetMessage(ctx context.Context, id string) (*message.Detail, error) {
	full, err := s.svc.Users.Messages.Get(user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	raw, err := decodeRaw(full.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}

	d := &message.Detail{
		Summary: toSummary(full),
		Cc:      addressList(env, "Cc"),
		Header:  make(map[string][]string),
		Text:    env.Text,
		HTML:    env.HTML,
	}
	d.From = env.GetHeader("From")
	d.To = addressList(env, "To")
	d.Subject = env.GetHeader("Subject")
	for _, k := range env.GetHeaderKeys() {
		d.Header[k] = env.GetHeaderValues(k)
	}
	for i, p := range env.Attachments {
		d.Attachments = append(d.Attachments, message.Attachment{
			ID:          fmt.Sprintf("%d", i),
			FileName:    p.FileName,
			ContentType: p.ContentType,
			Size:        int64(len(p.Content)),
		})
	}
	d.HasAttachments = len(d.Attachments) > 0
	for _, e := range env.Errors {
		log.Debug().Str("module", "remote").Str("id", id).Str("mime", e.Error()).
			Msg("MIME parse warning")
	}
	if err := s.policy.Detail(d); err != nil {
		log.Warn().Str("module", "remote").Str("id", id).Err(err).
			Msg("HTML sanitization failed, body dropped")
	}
	return d, nil
}

// ModifyLabels adds and removes labels on the message.
func (s *Service) ModifyLabels(ctx context.Context, id string, add, remove []string) error {
	req := &gmail.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
	_, err := s.svc.Users.Messages.Modify(user, id, req).Context(ctx).Do()
	return mapError(err)
}

// Trash moves the message to the trash.
func (s *Service) Trash(ctx context.Context, id string) error {
	_, err := s.svc.Users.Messages.Trash(user, id).Context(ctx).Do()
	return mapError(err)
}

// Send builds a MIME message with enmime and sends it.
func (s *Service) Send(ctx context.Context, msg *message.Outgoing) error {
	b := enmime.Builder().Subject(msg.Subject).Date(time.Now())
	if msg.From != "" {
		b = b.From("", msg.From)
	}
	for _, to := range msg.To {
		b = b.To("", to)
	}
	for _, cc := range msg.Cc {
		b = b.CC("", cc)
	}
	if msg.Text != "" {
		b = b.Text([]byte(msg.Text))
	}
	if msg.HTML != "" {
		b = b.HTML([]byte(msg.HTML))
	}
	root, err := b.Build()
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	buf := &bytes.Buffer{}
	if err := root.Encode(buf); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	raw := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(buf.Bytes())}
	_, err = s.svc.Users.Messages.Send(user, raw).Context(ctx).Do()
	return mapError(err)
}

// Probe fetches the profile to check reachability.
func (s *Service) Probe(ctx context.Context) error {
	_, err := s.svc.Users.GetProfile(user).Context(ctx).Do()
	return mapError(err)
}

func toSummary(m *gmail.Message) message.Summary {
	sum := message.Summary{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Snippet:  m.Snippet,
		LabelIDs: m.LabelIds,
	}
	if m.InternalDate > 0 {
		sum.Date = time.UnixMilli(m.InternalDate).UTC()
	}
	for _, l := range m.LabelIds {
		switch l {
		case message.LabelUnread:
			sum.Unread = true
		case message.LabelStarred:
			sum.Starred = true
		}
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch h.Name {
			case "From":
				sum.From = h.Value
			case "To":
				sum.To = splitAddresses(h.Value)
			case "Subject":
				sum.Subject = h.Value
			case "Date":
				if sum.Date.IsZero() {
					if t, err := mail.ParseDate(h.Value); err == nil {
						sum.Date = t
					}
				}
			}
		}
	}
	return sum
}

func addressList(env *enmime.Envelope, key string) []string {
	addrs, err := env.AddressList(key)
	if err != nil {
		return splitAddresses(env.GetHeader(key))
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func splitAddresses(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(v)
	if err != nil {
		return []string{v}
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func decodeRaw(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// mapError converts Google API status errors into remote sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", remote.ErrUnauthorized, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", remote.ErrNotFound, err)
		}
		if gerr.Code > 0 {
			return &remote.HTTPError{Method: "gmail", URI: "gmail/v1", StatusCode: gerr.Code,
				Status: gerr.Message}
		}
	}
	return err
}
