package query

import (
	"context"
	"fmt"
	"time"

	"github.com/inbucket/mailsync/pkg/extension/event"
	"github.com/inbucket/mailsync/pkg/message"
)

// Status reports what became of a mutation.
type Status int

// Mutation outcomes.
const (
	Applied    Status = iota // Confirmed by the remote service
	Queued                   // Applied locally while offline, waiting for replay
	RolledBack               // Rejected or failed; the in-memory tier was restored
)

func (s Status) String() string {
	switch s {
	case Applied:
		return "applied"
	case Queued:
		return "queued"
	case RolledBack:
		return "rolledback"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// snapshot holds what an optimistic mutation replaced in memory.
type snapshot struct {
	pageKey   Key
	hadPage   bool
	index     int // original position in the page, -1 if absent
	summary   message.Summary
	detailKey Key
	detail    *message.Detail
}

// MarkRead marks a message read.
func (c *Cache) MarkRead(ctx context.Context, mailboxID, id string) (Status, error) {
	return c.Mutate(ctx, mailboxID, message.ReadMutation{ID: id, Read: true})
}

// MarkUnread marks a message unread.
func (c *Cache) MarkUnread(ctx context.Context, mailboxID, id string) (Status, error) {
	return c.Mutate(ctx, mailboxID, message.ReadMutation{ID: id, Read: false})
}

// ToggleStar flips the starred flag of a message as currently cached.  A message that is not
// cached anywhere is starred.
func (c *Cache) ToggleStar(ctx context.Context, mailboxID, id string) (Status, error) {
	return c.Mutate(ctx, mailboxID, message.StarMutation{ID: id, Starred: !c.starred(mailboxID, id)})
}

// Delete moves a message to the trash.  On success its detail is evicted from every tier.
func (c *Cache) Delete(ctx context.Context, mailboxID, id string) (Status, error) {
	return c.Mutate(ctx, mailboxID, message.DeleteMutation{ID: id})
}

// Move moves a message from mailboxID to target.
func (c *Cache) Move(ctx context.Context, mailboxID, id, target string) (Status, error) {
	return c.Mutate(ctx, mailboxID, message.MoveMutation{ID: id, From: mailboxID, Target: target})
}

// Mutate applies m optimistically to the mailbox page and the message detail in memory and in
// the local store, then sends it to the remote service.  Background revalidation of the affected
// keys is canceled first so it cannot overwrite the optimistic value.
//
// On success the affected keys are invalidated to reconcile with the server.  On failure only the
// in-memory tier is restored and a *MutationError is returned; the local store keeps the
// optimistic value until the next successful fetch replaces it.  While offline the mutation is
// queued and replayed when connectivity returns.
//
// The network call is not canceled with ctx once issued.
func (c *Cache) Mutate(ctx context.Context, mailboxID string, m message.Mutation) (Status, error) {
	expMutations.Add(1)
	s := c.apply(mailboxID, m)
	if !c.online.Online() {
		e := c.outbox.add(mailboxID, m, s, c.now())
		expQueued.Add(1)
		c.logger.Info().Str("mutation", m.Kind()).Str("id", m.MessageID()).Str("entry", e.ID).
			Msg("Offline, mutation queued")
		c.emit(event.OpQueued, s.pageKey, m.Kind())
		return Queued, nil
	}
	err := c.finish(s, m, c.send(context.WithoutCancel(ctx), m))
	if err != nil {
		return RolledBack, err
	}
	return Applied, nil
}

// Invalidate marks keys stale without removing them, so the next read revalidates.  Keys cached
// in memory are revalidated in the background immediately when online.
func (c *Cache) Invalidate(keys ...Key) {
	for _, k := range keys {
		c.mu.Lock()
		e := c.entries[k]
		if e == nil {
			e = &entry{accessed: c.now()}
			c.entries[k] = e
		}
		e.invalidated = true
		cached := e.value != nil
		c.mu.Unlock()

		c.emit(event.OpInvalidated, k, "")
		if cached && c.online.Online() {
			c.refresh(k)
		}
	}
}

// Send sends a message and invalidates the sent mailbox and the label set.
func (c *Cache) Send(ctx context.Context, msg *message.Outgoing) error {
	if !c.online.Online() {
		return fmt.Errorf("send: %w", ErrOffline)
	}
	if err := c.remote.Send(ctx, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	c.Invalidate(PageKey(message.LabelSent), LabelsKey())
	return nil
}

// send carries out m on the remote service.
func (c *Cache) send(ctx context.Context, m message.Mutation) error {
	if d, ok := m.(message.DeleteMutation); ok {
		return c.remote.Trash(ctx, d.ID)
	}
	add, remove := message.LabelChanges(m)
	return c.remote.ModifyLabels(ctx, m.MessageID(), add, remove)
}

// apply takes the rollback snapshot and writes the optimistic effect of m to both tiers.
func (c *Cache) apply(mailboxID string, m message.Mutation) *snapshot {
	s := &snapshot{pageKey: PageKey(mailboxID), detailKey: DetailKey(m.MessageID()), index: -1}
	c.applyPage(s, m)
	c.applyDetail(s, m)
	return s
}

func (c *Cache) applyPage(s *snapshot, m message.Mutation) {
	l := c.lockFor(s.pageKey)
	l.Lock()
	defer l.Unlock()

	cur := c.begin(s.pageKey)
	var page *message.Page
	if cur != nil {
		page = cur.(*message.Page)
	} else if p, _, ok := c.local.Page(s.pageKey.ID); ok {
		page = p
	}
	if page == nil {
		return
	}
	s.hadPage = true
	if i := page.Index(m.MessageID()); i >= 0 {
		s.index = i
		s.summary = page.Messages[i].Clone()
	}
	next := message.ApplyToPage(page, m)
	c.local.PutPage(next)
	c.setValue(s.pageKey, next, next.FetchedAt)
	c.emit(event.OpUpdated, s.pageKey, m.Kind())
}

func (c *Cache) applyDetail(s *snapshot, m message.Mutation) {
	l := c.lockFor(s.detailKey)
	l.Lock()
	defer l.Unlock()

	cur := c.begin(s.detailKey)
	var detail *message.Detail
	if cur != nil {
		detail = cur.(*message.Detail)
	} else if d, _, ok := c.local.Detail(s.detailKey.ID); ok {
		detail = d
	}
	if detail == nil {
		return
	}
	s.detail = detail.Clone()
	next := message.ApplyToDetail(detail, m)
	c.local.PutDetail(next)
	c.setValue(s.detailKey, next, next.FetchedAt)
	c.emit(event.OpUpdated, s.detailKey, m.Kind())
}

// begin cancels revalidation of k, supersedes in-flight fetches, marks a mutation pending and
// returns the in-memory value, if any.
func (c *Cache) begin(k Key) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelFlight(k)
	c.gens[k]++
	c.pending[k]++
	if e := c.entries[k]; e != nil {
		return e.value
	}
	return nil
}

// setValue replaces the in-memory value of k, keeping its invalidation state.
func (c *Cache) setValue(k Key, v any, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[k]
	if e == nil {
		e = &entry{}
		c.entries[k] = e
	}
	e.value = v
	e.fetchedAt = fetchedAt
	e.accessed = c.now()
}

// finish completes a mutation given the result of its network call.
func (c *Cache) finish(s *snapshot, m message.Mutation, err error) error {
	if err != nil {
		c.rollback(s, m)
		c.release(s.pageKey)
		c.release(s.detailKey)
		expRollbacks.Add(1)
		c.logger.Warn().Str("mutation", m.Kind()).Str("id", m.MessageID()).Err(err).
			Msg("Mutation failed, rolled back")
		return &MutationError{Mutation: m, Err: err}
	}
	c.release(s.pageKey)
	c.release(s.detailKey)
	if _, ok := m.(message.DeleteMutation); ok {
		c.evict(s.detailKey)
	}
	c.logger.Debug().Str("mutation", m.Kind()).Str("id", m.MessageID()).Msg("Mutation confirmed")
	c.Invalidate(affected(s.pageKey.ID, m)...)
	return nil
}

func (c *Cache) release(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[k] > 1 {
		c.pending[k]--
	} else {
		delete(c.pending, k)
	}
}

// rollback restores the snapshot in memory only.  The message is put back at its original
// position with its original fields; other changes to the page since the mutation are kept.
func (c *Cache) rollback(s *snapshot, m message.Mutation) {
	if s.hadPage {
		l := c.lockFor(s.pageKey)
		l.Lock()
		c.mu.Lock()
		if e := c.entries[s.pageKey]; e != nil && e.value != nil {
			p := e.value.(*message.Page).Clone()
			if i := p.Index(m.MessageID()); i >= 0 {
				p.Messages = append(p.Messages[:i], p.Messages[i+1:]...)
			}
			if s.index >= 0 {
				i := min(s.index, len(p.Messages))
				p.Messages = append(p.Messages[:i], append([]message.Summary{s.summary}, p.Messages[i:]...)...)
			}
			e.value = p
		}
		c.mu.Unlock()
		l.Unlock()
		c.emit(event.OpRolledBack, s.pageKey, m.Kind())
	}
	if s.detail != nil {
		l := c.lockFor(s.detailKey)
		l.Lock()
		c.setValue(s.detailKey, s.detail, s.detail.FetchedAt)
		l.Unlock()
		c.emit(event.OpRolledBack, s.detailKey, m.Kind())
	}
}

// evict removes k from memory and the local store.
func (c *Cache) evict(k Key) {
	l := c.lockFor(k)
	l.Lock()
	c.mu.Lock()
	c.cancelFlight(k)
	c.gens[k]++
	delete(c.entries, k)
	c.mu.Unlock()
	if k.Resource == event.ResourceDetail {
		c.local.RemoveDetail(k.ID)
	} else if k.Resource == event.ResourcePage {
		c.local.RemovePage(k.ID)
	}
	l.Unlock()
	c.emit(event.OpEvicted, k, "")
}

// starred reports the cached starred flag of a message, from its page or its detail.
func (c *Cache) starred(mailboxID, id string) bool {
	if p := memoryValue[message.Page](c, PageKey(mailboxID)); p != nil {
		if i := p.Index(id); i >= 0 {
			return p.Messages[i].Starred
		}
	}
	if d := memoryValue[message.Detail](c, DetailKey(id)); d != nil {
		return d.Starred
	}
	if p, _, ok := c.local.Page(mailboxID); ok {
		if i := p.Index(id); i >= 0 {
			return p.Messages[i].Starred
		}
	}
	if d, _, ok := c.local.Detail(id); ok {
		return d.Starred
	}
	return false
}

// affected lists the keys whose server state may differ after m succeeds.
func affected(mailboxID string, m message.Mutation) []Key {
	keys := []Key{PageKey(mailboxID), LabelsKey()}
	add := func(label string) {
		if label != "" && label != mailboxID {
			keys = append(keys, PageKey(label))
		}
	}
	switch m := m.(type) {
	case message.ReadMutation:
		add(message.LabelUnread)
	case message.StarMutation:
		add(message.LabelStarred)
	case message.DeleteMutation:
		add(message.LabelTrash)
	case message.MoveMutation:
		add(m.Target)
		add(m.From)
	}
	return keys
}
