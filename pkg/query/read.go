package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inbucket/mailsync/pkg/extension/event"
	"github.com/inbucket/mailsync/pkg/message"
	"github.com/inbucket/mailsync/pkg/remote"
	"golang.org/x/sync/errgroup"
)

// resource describes how one kind of value moves between the network, the local store and
// memory.
type resource[T any] struct {
	key   Key
	load  func() (*T, bool, bool)
	store func(*T)
	fetch func(ctx context.Context, cached *T) (*T, error)
	stamp func(*T) time.Time
	clone func(*T) *T
}

func (c *Cache) labelsResource() resource[message.LabelSet] {
	return resource[message.LabelSet]{
		key:   LabelsKey(),
		load:  c.local.Labels,
		store: c.local.PutLabels,
		fetch: c.fetchLabels,
		stamp: func(v *message.LabelSet) time.Time { return v.FetchedAt },
		clone: (*message.LabelSet).Clone,
	}
}

func (c *Cache) pageResource(mailboxID string) resource[message.Page] {
	return resource[message.Page]{
		key: PageKey(mailboxID),
		load: func() (*message.Page, bool, bool) {
			return c.local.Page(mailboxID)
		},
		store: c.local.PutPage,
		fetch: func(ctx context.Context, cached *message.Page) (*message.Page, error) {
			token := ""
			if cached != nil {
				token = cached.Token
			}
			return c.fetchPage(ctx, mailboxID, token)
		},
		stamp: func(v *message.Page) time.Time { return v.FetchedAt },
		clone: (*message.Page).Clone,
	}
}

func (c *Cache) detailResource(id string) resource[message.Detail] {
	return resource[message.Detail]{
		key: DetailKey(id),
		load: func() (*message.Detail, bool, bool) {
			return c.local.Detail(id)
		},
		store: c.local.PutDetail,
		fetch: func(ctx context.Context, _ *message.Detail) (*message.Detail, error) {
			return c.fetchDetail(ctx, id)
		},
		stamp: func(v *message.Detail) time.Time { return v.FetchedAt },
		clone: (*message.Detail).Clone,
	}
}

// Labels returns the label set.
func (c *Cache) Labels(ctx context.Context) (Result[message.LabelSet], error) {
	return read(ctx, c, c.labelsResource())
}

// Page returns the current page of the mailbox.
func (c *Cache) Page(ctx context.Context, mailboxID string) (Result[message.Page], error) {
	return read(ctx, c, c.pageResource(mailboxID))
}

// Detail returns a fully hydrated message.
func (c *Cache) Detail(ctx context.Context, id string) (Result[message.Detail], error) {
	return read(ctx, c, c.detailResource(id))
}

// LoadMore replaces the current page of the mailbox with the page following it.  If there is no
// next page the current page is returned unchanged.
func (c *Cache) LoadMore(ctx context.Context, mailboxID string) (Result[message.Page], error) {
	cur, err := c.Page(ctx, mailboxID)
	if err != nil || cur.Value.NextToken == "" {
		return cur, err
	}
	r := c.pageResource(mailboxID)
	if !c.online.Online() {
		expOfflineMisses.Add(1)
		return Result[message.Page]{}, &OfflineError{Key: r.key}
	}

	c.mu.Lock()
	c.cancelFlight(r.key)
	gen := c.generation(r.key)
	c.mu.Unlock()

	expNetworkFetches.Add(1)
	v, err := r.fetch(ctx, &message.Page{Token: cur.Value.NextToken})
	if err != nil {
		return Result[message.Page]{}, c.fetchError(r.key, err)
	}
	commit(c, r, v, gen)
	return Result[message.Page]{Value: r.clone(v), Source: SourceNetwork}, nil
}

// Sync refreshes the label set and the first page of each listed mailbox from the network, then
// records a full sync in the local store.
func (c *Cache) Sync(ctx context.Context, mailboxIDs ...string) error {
	if !c.online.Online() {
		return ErrOffline
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := fetchBlocking(gctx, c, c.labelsResource(), nil)
		return err
	})
	for _, id := range mailboxIDs {
		g.Go(func() error {
			_, err := fetchBlocking(gctx, c, c.pageResource(id), nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.local.MarkSynced(c.now())
	c.logger.Info().Strs("mailboxes", mailboxIDs).Msg("Full sync complete")
	return nil
}

// read serves a value from memory while it is fresh, then from the local store, revalidating
// stale values in the background, and finally from the network.
func read[T any](ctx context.Context, c *Cache, r resource[T]) (Result[T], error) {
	now := c.now()
	family, _ := r.key.lockKey()

	c.mu.Lock()
	if e := c.entries[r.key]; e != nil && e.value != nil {
		e.accessed = now
		// The window is measured from the local store timestamp, so both tiers age together.
		if !e.invalidated && now.Sub(e.fetchedAt) <= c.policy(r.key.Resource).FreshFor {
			v := r.clone(e.value.(*T))
			c.mu.Unlock()
			expMemoryHits.Add(1)
			return Result[T]{Value: v, Source: SourceMemory}, nil
		}
	}
	c.mu.Unlock()

	if v, _, ok := r.load(); ok {
		expLocalHits.Add(1)
		c.mu.Lock()
		e := c.entries[r.key]
		if e == nil {
			e = &entry{}
			c.entries[r.key] = e
		}
		if e.value == nil || r.stamp(v).After(e.fetchedAt) {
			e.value = r.clone(v)
			e.fetchedAt = r.stamp(v)
		} else {
			// Memory holds the same version or a newer one, possibly rolled back.
			v = r.clone(e.value.(*T))
		}
		e.accessed = now
		stale := e.invalidated || c.local.IsStale(family, e.fetchedAt)
		cached := r.clone(v)
		c.mu.Unlock()
		if stale && c.online.Online() {
			revalidate(c, r, cached)
		}
		return Result[T]{Value: v, Stale: stale, Source: SourceLocal}, nil
	}

	c.mu.Lock()
	if e := c.entries[r.key]; e != nil && e.value != nil {
		// The local store lost the record, memory still has it.
		e.accessed = now
		v := r.clone(e.value.(*T))
		c.mu.Unlock()
		if c.online.Online() {
			revalidate(c, r, r.clone(v))
		}
		return Result[T]{Value: v, Stale: true, Source: SourceMemory}, nil
	}
	c.mu.Unlock()

	if !c.online.Online() {
		expOfflineMisses.Add(1)
		return Result[T]{}, &OfflineError{Key: r.key}
	}
	v, err := fetchBlocking(ctx, c, r, nil)
	if err != nil {
		return Result[T]{}, err
	}
	return Result[T]{Value: v, Source: SourceNetwork}, nil
}

// fetchBlocking fetches and commits the value for r, sharing the fetch with concurrent callers
// for the same key.  The shared fetch is not canceled when one caller gives up, only when the
// cache is closed.
func fetchBlocking[T any](ctx context.Context, c *Cache, r resource[T], cached *T) (*T, error) {
	ch := c.fetches.DoChan(r.key.String(), func() (any, error) {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()

		c.mu.Lock()
		gen := c.generation(r.key)
		c.mu.Unlock()

		expNetworkFetches.Add(1)
		v, err := r.fetch(fctx, cached)
		if err != nil {
			return nil, err
		}
		if !commit(c, r, v, gen) {
			// A mutation superseded the fetch; its optimistic value is current.
			if cur := memoryValue[T](c, r.key); cur != nil {
				return r.clone(cur), nil
			}
		}
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, c.fetchError(r.key, res.Err)
		}
		return r.clone(res.Val.(*T)), nil
	}
}

// revalidate refreshes r in a detached task unless a refresh is already running or a mutation
// on the key is unconfirmed.  The task is canceled by a mutation of the key; its failures are
// reported on the spawner error channel and never reach the reader.
func revalidate[T any](c *Cache, r resource[T], cached *T) {
	c.mu.Lock()
	if c.ctx.Err() != nil || c.pending[r.key] > 0 {
		c.mu.Unlock()
		return
	}
	if _, running := c.flights[r.key]; running {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	f := &flight{cancel: cancel}
	c.flights[r.key] = f
	gen := c.generation(r.key)
	c.wg.Add(1)
	c.mu.Unlock()

	expRevalidations.Add(1)
	id := c.spawner.SpawnDetached("revalidate "+r.key.String(), func(sctx context.Context) error {
		defer c.wg.Done()
		defer c.endFlight(r.key, f)
		stop := context.AfterFunc(sctx, cancel)
		defer stop()

		v, err := r.fetch(ctx, cached)
		if ctx.Err() != nil {
			c.logger.Debug().Str("key", r.key.String()).Msg("Revalidation canceled")
			return nil
		}
		if err != nil {
			expRevalidateFails.Add(1)
			return fmt.Errorf("revalidate %s: %w", r.key, err)
		}
		commit(c, r, v, gen)
		return nil
	})
	if id == "" {
		c.wg.Done()
		c.endFlight(r.key, f)
	}
}

// commit writes a fetched value through to the local store and then memory, and notifies
// subscribers.  The value is discarded if the key's generation changed since the fetch began or
// a mutation of the key is unconfirmed.
func commit[T any](c *Cache, r resource[T], v *T, gen generation) bool {
	l := c.lockFor(r.key)
	l.Lock()
	defer l.Unlock()

	c.mu.Lock()
	if c.generation(r.key) != gen || c.pending[r.key] > 0 {
		c.mu.Unlock()
		expDiscarded.Add(1)
		c.logger.Debug().Str("key", r.key.String()).Msg("Discarded superseded fetch")
		return false
	}
	c.mu.Unlock()

	r.store(v)

	c.mu.Lock()
	e := c.entries[r.key]
	if e == nil {
		e = &entry{}
		c.entries[r.key] = e
	}
	e.value = r.clone(v)
	e.fetchedAt = r.stamp(v)
	e.accessed = c.now()
	e.invalidated = false
	c.mu.Unlock()

	c.emit(event.OpUpdated, r.key, "")
	return true
}

func memoryValue[T any](c *Cache, k Key) *T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[k]; e != nil && e.value != nil {
		return e.value.(*T)
	}
	return nil
}

// refresh revalidates k in the background if it is cached in memory.
func (c *Cache) refresh(k Key) {
	switch k.Resource {
	case event.ResourceLabels:
		if v := memoryValue[message.LabelSet](c, k); v != nil {
			revalidate(c, c.labelsResource(), v.Clone())
		}
	case event.ResourcePage:
		if v := memoryValue[message.Page](c, k); v != nil {
			revalidate(c, c.pageResource(k.ID), v.Clone())
		}
	case event.ResourceDetail:
		if v := memoryValue[message.Detail](c, k); v != nil {
			revalidate(c, c.detailResource(k.ID), v.Clone())
		}
	}
}

func (c *Cache) endFlight(k Key, f *flight) {
	c.mu.Lock()
	if c.flights[k] == f {
		delete(c.flights, k)
	}
	c.mu.Unlock()
	f.cancel()
}

// fetchError classifies a failed blocking fetch.  Responses from the service are returned as
// they are; transport failures, including timeouts, mean no cached value could be served.
func (c *Cache) fetchError(k Key, err error) error {
	var httpErr *remote.HTTPError
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, remote.ErrNotFound),
		errors.Is(err, remote.ErrUnauthorized),
		errors.As(err, &httpErr):
		return fmt.Errorf("fetch %s: %w", k, err)
	}
	expOfflineMisses.Add(1)
	c.logger.Warn().Str("key", k.String()).Err(err).Msg("Fetch failed with nothing cached")
	return &OfflineError{Key: k, Err: err}
}

func (c *Cache) fetchLabels(ctx context.Context, _ *message.LabelSet) (*message.LabelSet, error) {
	labels, err := c.remote.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	return &message.LabelSet{
		Labels:    append([]message.Label{}, labels...),
		FetchedAt: c.now(),
	}, nil
}

func (c *Cache) fetchPage(ctx context.Context, mailboxID, token string) (*message.Page, error) {
	res, err := c.remote.ListMessages(ctx, mailboxID, token, c.pageSize)
	if err != nil {
		return nil, err
	}
	return &message.Page{
		MailboxID: mailboxID,
		Messages:  append([]message.Summary{}, res.Messages...),
		Token:     token,
		NextToken: res.NextPageToken,
		FetchedAt: c.now(),
	}, nil
}

// fetchDetail gets a message, lets extensions rewrite its bodies, and hands a copy to the
// indexer.
func (c *Cache) fetchDetail(ctx context.Context, id string) (*message.Detail, error) {
	d, err := c.remote.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	d.FetchedAt = c.now()
	fetched := &event.DetailFetched{ID: d.ID, Text: d.Text, HTML: d.HTML}
	if rewritten := c.host.Events.BeforeDetailCached.Emit(fetched); rewritten != nil {
		d.Text, d.HTML = rewritten.Text, rewritten.HTML
	}
	if c.indexer != nil {
		doc := d.Clone()
		c.spawner.SpawnDetached("index "+id, func(ctx context.Context) error {
			return c.indexer.IndexMessage(ctx, doc)
		})
	}
	return d, nil
}
