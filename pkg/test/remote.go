package test

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/inbucket/mailsync/pkg/message"
	"github.com/inbucket/mailsync/pkg/remote"
)

// ErrNetwork is returned by Remote while it is failing.
var ErrNetwork = errors.New("test: network unreachable")

// Call records one invocation of a Remote method.
type Call struct {
	Method string
	ID     string
	Add    []string
	Remove []string
}

// Remote is an in-memory remote.Service for tests.  Messages are listed newest first in pages
// of the requested size, with numeric continuation tokens.
type Remote struct {
	mu       sync.Mutex
	labels   []message.Label
	messages map[string]*message.Detail
	order    []string
	failing  error
	gate     chan struct{}
	calls    []Call
	sent     []*message.Outgoing
	indexed  []string
}

var _ remote.Service = &Remote{}

// NewRemote creates an empty fake remote.
func NewRemote() *Remote {
	return &Remote{messages: make(map[string]*message.Detail)}
}

// SetLabels replaces the label list.
func (r *Remote) SetLabels(labels ...message.Label) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = append([]message.Label(nil), labels...)
}

// AddMessage adds or replaces a message.  Messages keep their first insertion order.
func (r *Remote) AddMessage(d *message.Detail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[d.ID]; !ok {
		r.order = append(r.order, d.ID)
	}
	r.messages[d.ID] = d.Clone()
}

// Message returns a copy of the server side message.
func (r *Remote) Message(id string) (*message.Detail, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.messages[id]
	return d.Clone(), ok
}

// Fail makes every later call return err; nil restores service.
func (r *Remote) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = err
}

// Hold blocks every later call until the returned release function is called.
func (r *Remote) Hold() (release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gate := make(chan struct{})
	r.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.gate == gate {
				r.gate = nil
			}
			r.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns the recorded calls, optionally filtered by method name.
func (r *Remote) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Sent returns the messages passed to Send.
func (r *Remote) Sent() []*message.Outgoing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*message.Outgoing(nil), r.sent...)
}

// Indexed returns the IDs passed to IndexMessage.
func (r *Remote) Indexed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.indexed...)
}

// enter records the call, waits on any gate and returns the configured failure.
func (r *Remote) enter(ctx context.Context, c Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failing
}

// ListLabels implements remote.Service.
func (r *Remote) ListLabels(ctx context.Context) ([]message.Label, error) {
	if err := r.enter(ctx, Call{Method: "ListLabels"}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Label(nil), r.labels...), nil
}

// ListMessages implements remote.Service.
func (r *Remote) ListMessages(
	ctx context.Context,
	mailboxID, pageToken string,
	pageSize int,
) (*remote.ListResult, error) {
	if err := r.enter(ctx, Call{Method: "ListMessages", ID: mailboxID}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []message.Summary
	for i := len(r.order) - 1; i >= 0; i-- {
		d := r.messages[r.order[i]]
		if d.HasLabel(mailboxID) {
			matched = append(matched, d.Summary)
		}
	}
	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, &remote.HTTPError{Method: "GET", URI: "messages", StatusCode: 400,
				Status: "400 Bad Request"}
		}
		start = n
	}
	if pageSize <= 0 {
		pageSize = len(matched)
	}
	end := start + pageSize
	res := &remote.ListResult{}
	if end < len(matched) {
		res.NextPageToken = strconv.Itoa(end)
	} else {
		end = len(matched)
	}
	if start < end {
		for _, s := range matched[start:end] {
			c := s
			c.To = append([]string(nil), s.To...)
			c.LabelIDs = append([]string(nil), s.LabelIDs...)
			res.Messages = append(res.Messages, c)
		}
	}
	return res, nil
}

// GetMessage implements remote.Service.
func (r *Remote) GetMessage(ctx context.Context, id string) (*message.Detail, error) {
	if err := r.enter(ctx, Call{Method: "GetMessage", ID: id}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.messages[id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return d.Clone(), nil
}

// ModifyLabels implements remote.Service.
func (r *Remote) ModifyLabels(ctx context.Context, id string, add, remove []string) error {
	err := r.enter(ctx, Call{Method: "ModifyLabels", ID: id, Add: add, Remove: remove})
	if err != nil {
		return err
	}
	return r.modify(id, add, remove)
}

func (r *Remote) modify(id string, add, remove []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.messages[id]
	if !ok {
		return remote.ErrNotFound
	}
	labels := make(map[string]bool)
	for _, l := range d.LabelIDs {
		labels[l] = true
	}
	for _, l := range remove {
		delete(labels, l)
	}
	for _, l := range add {
		labels[l] = true
	}
	d.LabelIDs = d.LabelIDs[:0]
	for l := range labels {
		d.LabelIDs = append(d.LabelIDs, l)
	}
	sort.Strings(d.LabelIDs)
	d.Unread = labels[message.LabelUnread]
	d.Starred = labels[message.LabelStarred]
	return nil
}

// Trash implements remote.Service.
func (r *Remote) Trash(ctx context.Context, id string) error {
	if err := r.enter(ctx, Call{Method: "Trash", ID: id}); err != nil {
		return err
	}
	return r.modify(id, []string{message.LabelTrash}, []string{message.LabelInbox})
}

// Send implements remote.Service.
func (r *Remote) Send(ctx context.Context, msg *message.Outgoing) error {
	if err := r.enter(ctx, Call{Method: "Send"}); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

// Probe implements remote.Service.
func (r *Remote) Probe(ctx context.Context) error {
	return r.enter(ctx, Call{Method: "Probe"})
}

// IndexMessage records the message as indexed.
func (r *Remote) IndexMessage(ctx context.Context, d *message.Detail) error {
	if err := r.enter(ctx, Call{Method: "IndexMessage", ID: d.ID}); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, d.ID)
	return nil
}
