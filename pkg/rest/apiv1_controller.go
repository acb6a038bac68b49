package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/inbucket/mailsync/pkg/agent"
	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/message"
	"github.com/inbucket/mailsync/pkg/policy"
	"github.com/inbucket/mailsync/pkg/query"
	"github.com/inbucket/mailsync/pkg/remote"
	"github.com/inbucket/mailsync/pkg/rest/model"
	"github.com/inbucket/mailsync/pkg/server/web"
	"github.com/rs/zerolog/log"
)

// Largest request body accepted by the JSON endpoints.
const maxBodySize = 1 << 20

// LabelsV1 renders the label set.
func LabelsV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	res, err := ctx.Cache.Labels(req.Context())
	if err != nil {
		return renderQueryError(w, err)
	}
	ls := res.Value
	jlabels := make([]model.JSONLabelV1, len(ls.Labels))
	for i, l := range ls.Labels {
		jlabels[i] = model.JSONLabelV1{
			ID:     l.ID,
			Name:   l.Name,
			Type:   l.Type,
			Total:  l.Total,
			Unread: l.Unread,
		}
	}
	return web.RenderJSON(w, &model.JSONLabelSetV1{
		Labels:    jlabels,
		FetchedAt: ls.FetchedAt,
		Stale:     res.Stale,
		Source:    string(res.Source),
	})
}

// MailboxListV1 renders the current page of a mailbox.
func MailboxListV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	// Don't have to validate these aren't empty, Gorilla returns 404
	res, err := ctx.Cache.Page(req.Context(), ctx.Vars["id"])
	if err != nil {
		return renderQueryError(w, err)
	}
	return web.RenderJSON(w, mailboxV1(res))
}

// MailboxMoreV1 loads the next page of a mailbox, replacing the current one.
func MailboxMoreV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	res, err := ctx.Cache.LoadMore(req.Context(), ctx.Vars["id"])
	if err != nil {
		return renderQueryError(w, err)
	}
	return web.RenderJSON(w, mailboxV1(res))
}

// MessageShowV1 renders a fully hydrated message.
func MessageShowV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	res, err := ctx.Cache.Detail(req.Context(), ctx.Vars["id"])
	if err != nil {
		return renderQueryError(w, err)
	}
	d := res.Value
	attachments := make([]*model.JSONMessageAttachmentV1, len(d.Attachments))
	for i, att := range d.Attachments {
		attachments[i] = &model.JSONMessageAttachmentV1{
			ID:          att.ID,
			FileName:    att.FileName,
			ContentType: att.ContentType,
			Size:        att.Size,
		}
	}
	return web.RenderJSON(w, &model.JSONMessageV1{
		JSONMessageHeaderV1: *headerV1(d.Summary),
		Cc:                  d.Cc,
		Header:              d.Header,
		Body: &model.JSONMessageBodyV1{
			Text: d.Text,
			HTML: d.HTML,
		},
		Attachments: attachments,
		FetchedAt:   d.FetchedAt,
		Stale:       res.Stale,
		Source:      string(res.Source),
	})
}

// MessagePatchV1 changes the read or starred flag of a message, or moves it.  The mailbox the
// message is listed in is given by the mailbox query parameter, defaulting to the inbox.
func MessagePatchV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	id := ctx.Vars["id"]
	patch := &model.JSONMessagePatchV1{}
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodySize))
	if err := dec.Decode(patch); err != nil {
		return web.RenderError(w, http.StatusBadRequest,
			web.ErrorBody{Error: fmt.Sprintf("invalid patch: %v", err)})
	}

	set := 0
	for _, present := range []bool{patch.Read != nil, patch.Starred != nil, patch.Move != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return web.RenderError(w, http.StatusBadRequest,
			web.ErrorBody{Error: "patch must contain exactly one of read, starred or move"})
	}

	mailbox := mailboxParam(req)
	var m message.Mutation
	switch {
	case patch.Read != nil:
		m = message.ReadMutation{ID: id, Read: *patch.Read}
	case patch.Starred != nil:
		m = message.StarMutation{ID: id, Starred: *patch.Starred}
	default:
		if patch.Move.From == "" || patch.Move.To == "" {
			return web.RenderError(w, http.StatusBadRequest,
				web.ErrorBody{Error: "move requires from and to"})
		}
		mailbox = patch.Move.From
		m = message.MoveMutation{ID: id, From: patch.Move.From, Target: patch.Move.To}
	}
	status, err := ctx.Cache.Mutate(req.Context(), mailbox, m)
	return renderMutation(w, status, err)
}

// MessageDeleteV1 moves a message to the trash.
func MessageDeleteV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	status, err := ctx.Cache.Delete(req.Context(), mailboxParam(req), ctx.Vars["id"])
	return renderMutation(w, status, err)
}

// SendV1 sends a message through the remote service.  Sending requires connectivity; it is
// never queued.
func SendV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	in := &model.JSONSendV1{}
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodySize))
	if err := dec.Decode(in); err != nil {
		return web.RenderError(w, http.StatusBadRequest,
			web.ErrorBody{Error: fmt.Sprintf("invalid message: %v", err)})
	}
	if len(in.To) == 0 {
		return web.RenderError(w, http.StatusBadRequest,
			web.ErrorBody{Error: "message requires at least one recipient"})
	}
	to, err := policy.Recipients(in.To)
	if err == nil {
		in.Cc, err = policy.Recipients(in.Cc)
	}
	if err != nil {
		return web.RenderError(w, http.StatusBadRequest, web.ErrorBody{Error: err.Error()})
	}
	err = ctx.Cache.Send(req.Context(), &message.Outgoing{
		To:      to,
		Cc:      in.Cc,
		Subject: in.Subject,
		Text:    in.Text,
		HTML:    in.HTML,
	})
	if err != nil {
		return renderQueryError(w, err)
	}
	return web.RenderJSON(w, "OK")
}

// SyncV1 refreshes the label set and the first page of each requested mailbox.
func SyncV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	mailboxes := req.URL.Query()["mailbox"]
	if len(mailboxes) == 0 {
		mailboxes = []string{message.LabelInbox}
	}
	if err := ctx.Cache.Sync(req.Context(), mailboxes...); err != nil {
		return renderQueryError(w, err)
	}
	return web.RenderJSON(w, "OK")
}

// StatusV1 renders the state of the engine.
func StatusV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	stats := ctx.Cache.Stats()
	pending := ctx.Cache.Pending()
	queued := make([]*model.JSONQueuedV1, len(pending))
	for i, e := range pending {
		queued[i] = &model.JSONQueuedV1{
			ID:        e.ID,
			Mailbox:   e.MailboxID,
			MessageID: e.Mutation.MessageID(),
			Kind:      e.Kind,
			QueuedAt:  e.QueuedAt,
		}
	}
	status := &model.JSONStatusV1{
		Version:  config.Version,
		Online:   stats.Online,
		Entries:  stats.Entries,
		Queued:   queued,
		Labels:   stats.Local.Labels,
		Pages:    stats.Local.Pages,
		Details:  stats.Local.Details,
		LastSync: stats.Local.LastSync,
		Agent:    ctx.Agent != nil && ctx.Agent.Active(),
	}
	if ctx.Monitor != nil {
		status.OnlineSince = ctx.Monitor.Since()
	}
	return web.RenderJSON(w, status)
}

// CacheClearV1 wipes the query cache, the local store and the agent's response cache, as on
// logout.
func CacheClearV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	ctx.Cache.ClearAll()
	if ctx.Agent != nil {
		ctx.Agent.Post(agent.ClearAll{})
	}
	log.Info().Str("module", "rest").Msg("Caches cleared")
	return web.RenderJSON(w, "OK")
}

// agentRequest is the optional body of an agent command.
type agentRequest struct {
	URLs []string `json:"urls"`
}

// AgentCommandV1 posts a command to the network agent.  Commands are fire and forget: the
// response only acknowledges that the command was queued.
func AgentCommandV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	if ctx.Agent == nil {
		return web.RenderError(w, http.StatusNotFound, web.ErrorBody{Error: "agent disabled"})
	}
	body := &agentRequest{}
	if req.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodySize))
		if err := dec.Decode(body); err != nil {
			return web.RenderError(w, http.StatusBadRequest,
				web.ErrorBody{Error: fmt.Sprintf("invalid command: %v", err)})
		}
	}
	cmd, err := agent.ParseCommand(ctx.Vars["command"], body.URLs)
	if err != nil {
		return web.RenderError(w, http.StatusBadRequest, web.ErrorBody{Error: err.Error()})
	}
	ctx.Agent.Post(cmd)
	return web.RenderJSONStatus(w, http.StatusAccepted, "OK")
}

// mailboxParam returns the mailbox query parameter, defaulting to the inbox.
func mailboxParam(req *http.Request) string {
	if mb := req.URL.Query().Get("mailbox"); mb != "" {
		return mb
	}
	return message.LabelInbox
}

func renderMutation(w http.ResponseWriter, status query.Status, err error) error {
	if err != nil {
		return renderQueryError(w, err)
	}
	code := http.StatusOK
	if status == query.Queued {
		code = http.StatusAccepted
	}
	return web.RenderJSONStatus(w, code, &model.JSONMutationV1{Status: status.String()})
}

// renderQueryError maps engine errors onto HTTP responses.  Errors it does not recognize are
// returned for the handler to report.
func renderQueryError(w http.ResponseWriter, err error) error {
	var merr *query.MutationError
	var herr *remote.HTTPError
	switch {
	case errors.Is(err, query.ErrOfflineNoCache), errors.Is(err, query.ErrOffline):
		return web.RenderError(w, http.StatusServiceUnavailable,
			web.ErrorBody{Error: "offline", Offline: true})
	case errors.As(err, &merr):
		return web.RenderError(w, http.StatusBadGateway, web.ErrorBody{Error: merr.Error()})
	case errors.Is(err, remote.ErrNotFound):
		return web.RenderError(w, http.StatusNotFound, web.ErrorBody{Error: "not found"})
	case errors.Is(err, remote.ErrUnauthorized):
		return web.RenderError(w, http.StatusUnauthorized, web.ErrorBody{Error: "unauthorized"})
	case errors.As(err, &herr):
		return web.RenderError(w, http.StatusBadGateway, web.ErrorBody{Error: herr.Error()})
	}
	return err
}

func mailboxV1(res query.Result[message.Page]) *model.JSONMailboxV1 {
	p := res.Value
	jmessages := make([]*model.JSONMessageHeaderV1, len(p.Messages))
	for i, msg := range p.Messages {
		jmessages[i] = headerV1(msg)
	}
	return &model.JSONMailboxV1{
		Mailbox:   p.MailboxID,
		Messages:  jmessages,
		NextToken: p.NextToken,
		FetchedAt: p.FetchedAt,
		Stale:     res.Stale,
		Source:    string(res.Source),
	}
}

func headerV1(s message.Summary) *model.JSONMessageHeaderV1 {
	to := s.To
	if to == nil {
		to = []string{}
	}
	labels := s.LabelIDs
	if labels == nil {
		labels = []string{}
	}
	return &model.JSONMessageHeaderV1{
		ID:             s.ID,
		ThreadID:       s.ThreadID,
		From:           s.From,
		To:             to,
		Subject:        s.Subject,
		Snippet:        s.Snippet,
		Date:           s.Date,
		PosixMillis:    s.Date.UnixNano() / 1000000,
		Unread:         s.Unread,
		Starred:        s.Starred,
		Labels:         labels,
		HasAttachments: s.HasAttachments,
	}
}
