package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inbucket/mailsync/pkg/message"
)

// OutboxEntry is a mutation made while offline.  Its optimistic effect is already visible in
// both tiers.
type OutboxEntry struct {
	ID        string           `json:"id"`
	MailboxID string           `json:"mailboxId"`
	Mutation  message.Mutation `json:"mutation"`
	Kind      string           `json:"kind"`
	QueuedAt  time.Time        `json:"queuedAt"`

	snap *snapshot
}

// Outbox holds queued mutations in the order they were made.  It lives in memory only.
type Outbox struct {
	mu      sync.Mutex
	entries []*OutboxEntry
}

func (o *Outbox) add(mailboxID string, m message.Mutation, s *snapshot, at time.Time) *OutboxEntry {
	e := &OutboxEntry{
		ID:        uuid.NewString(),
		MailboxID: mailboxID,
		Mutation:  m,
		Kind:      m.Kind(),
		QueuedAt:  at,
		snap:      s,
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, e)
	return e
}

// Len returns the number of queued mutations.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Entries returns copies of the queued entries, oldest first.
func (o *Outbox) Entries() []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OutboxEntry, len(o.entries))
	for i, e := range o.entries {
		out[i] = *e
		out[i].snap = nil
	}
	return out
}

// drain removes and returns every entry.
func (o *Outbox) drain() []*OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.entries
	o.entries = nil
	return out
}

// requeue puts entries back at the front of the queue.
func (o *Outbox) requeue(entries []*OutboxEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(append([]*OutboxEntry(nil), entries...), o.entries...)
}

// Pending returns the queued mutations, oldest first.
func (c *Cache) Pending() []OutboxEntry {
	return c.outbox.Entries()
}

// Replay sends queued mutations in the order they were made.  Each is confirmed or rolled back
// exactly as a live mutation would be.  If the device goes offline again, or ctx is canceled,
// the remaining entries stay queued.  The returned error joins every MutationError.
func (c *Cache) Replay(ctx context.Context) error {
	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	entries := c.outbox.drain()
	if len(entries) == 0 {
		return nil
	}
	c.logger.Info().Int("mutations", len(entries)).Msg("Replaying queued mutations")
	var errs []error
	for i, e := range entries {
		if ctx.Err() != nil || !c.online.Online() {
			c.outbox.requeue(entries[i:])
			c.logger.Info().Int("mutations", len(entries)-i).Msg("Replay interrupted, kept queued")
			errs = append(errs, ctx.Err())
			break
		}
		expReplayed.Add(1)
		if err := c.finish(e.snap, e.Mutation, c.send(ctx, e.Mutation)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
