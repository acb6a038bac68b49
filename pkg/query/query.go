// Package query is the in-memory reactive query cache.  It serves reads from memory, then from
// the persistent local store, then from the network, revalidating stale values in the
// background, and applies user mutations optimistically with rollback on failure.
package query

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"sync"
	"time"

	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/extension"
	"github.com/inbucket/mailsync/pkg/extension/event"
	"github.com/inbucket/mailsync/pkg/message"
	"github.com/inbucket/mailsync/pkg/remote"
	"github.com/inbucket/mailsync/pkg/storage"
	"github.com/inbucket/mailsync/pkg/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	expMemoryHits      = new(expvar.Int)
	expLocalHits       = new(expvar.Int)
	expNetworkFetches  = new(expvar.Int)
	expOfflineMisses   = new(expvar.Int)
	expRevalidations   = new(expvar.Int)
	expRevalidateFails = new(expvar.Int)
	expDiscarded       = new(expvar.Int)
	expMutations       = new(expvar.Int)
	expRollbacks       = new(expvar.Int)
	expQueued          = new(expvar.Int)
	expReplayed        = new(expvar.Int)
)

func init() {
	m := expvar.NewMap("query")
	m.Set("MemoryHits", expMemoryHits)
	m.Set("LocalHits", expLocalHits)
	m.Set("NetworkFetches", expNetworkFetches)
	m.Set("OfflineMisses", expOfflineMisses)
	m.Set("Revalidations", expRevalidations)
	m.Set("RevalidationFailures", expRevalidateFails)
	m.Set("Discarded", expDiscarded)
	m.Set("Mutations", expMutations)
	m.Set("Rollbacks", expRollbacks)
	m.Set("Queued", expQueued)
	m.Set("Replayed", expReplayed)
	m.Set("Entries", expEntries)
	m.Set("EntriesHist", expEntriesHist)
	m.Set("CollectedTotal", expCollectedTotal)
	m.Set("CollectedHist", expCollectedHist)
	m.Set("SecondsSinceCollect", expvar.Func(secondsSinceCollect))
}

// ErrOfflineNoCache matches every OfflineError.
var ErrOfflineNoCache = errors.New("no cached data while offline")

// ErrOffline is returned by operations that require the network, such as Send, while offline.
var ErrOffline = errors.New("device offline")

// OfflineError reports that a resource is absent from every tier and the network cannot be
// reached.  It is distinct from an empty result.
type OfflineError struct {
	Key Key
	Err error // Network failure, if a fetch was attempted
}

func (e *OfflineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Key, ErrOfflineNoCache, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Key, ErrOfflineNoCache)
}

// Is matches ErrOfflineNoCache.
func (e *OfflineError) Is(target error) bool {
	return target == ErrOfflineNoCache
}

func (e *OfflineError) Unwrap() error { return e.Err }

// MutationError reports a mutation whose network call failed.  The in-memory tier has already
// been rolled back when it is returned.
type MutationError struct {
	Mutation message.Mutation
	Err      error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Mutation.Kind(), e.Mutation.MessageID(), e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// Key identifies a query cache entry.
type Key struct {
	Resource event.Resource
	ID       string
}

// LabelsKey is the key of the label set.
func LabelsKey() Key { return Key{Resource: event.ResourceLabels} }

// PageKey is the key of a mailbox's current page.
func PageKey(mailboxID string) Key { return Key{Resource: event.ResourcePage, ID: mailboxID} }

// DetailKey is the key of a message detail.
func DetailKey(id string) Key { return Key{Resource: event.ResourceDetail, ID: id} }

func (k Key) String() string {
	if k.ID == "" {
		return string(k.Resource)
	}
	return string(k.Resource) + "/" + k.ID
}

func (k Key) lockKey() (storage.Family, string) {
	switch k.Resource {
	case event.ResourceLabels:
		return storage.FamilyLabels, storage.LabelsKey
	case event.ResourcePage:
		return storage.FamilyPages, k.ID
	}
	return storage.FamilyDetails, k.ID
}

// Source identifies the tier a result was served from.
type Source string

// Result sources.
const (
	SourceMemory  Source = "memory"
	SourceLocal   Source = "local"
	SourceNetwork Source = "network"
)

// Result is a value read from the cache.  Stale results have been returned without waiting for
// the network; a background refresh may already be running.
type Result[T any] struct {
	Value  *T
	Stale  bool
	Source Source
}

// Policy sets the lifetime of in-memory entries of one resource kind.  Entries are served
// without consulting the local store for FreshFor after they were fetched, and collected after
// RetainFor without being read.
type Policy struct {
	FreshFor  time.Duration
	RetainFor time.Duration
}

// Policies holds a Policy per resource kind.
type Policies map[event.Resource]Policy

// DefaultPolicies returns the standard windows for each resource kind.
func DefaultPolicies() Policies {
	return Policies{
		event.ResourceLabels: {FreshFor: 10 * time.Minute, RetainFor: 30 * time.Minute},
		event.ResourcePage:   {FreshFor: 3 * time.Minute, RetainFor: 15 * time.Minute},
		event.ResourceDetail: {FreshFor: 5 * time.Minute, RetainFor: 20 * time.Minute},
	}
}

// PoliciesFromConfig builds Policies from the query configuration.
func PoliciesFromConfig(cfg config.Query) Policies {
	return Policies{
		event.ResourceLabels: {FreshFor: cfg.LabelFreshFor, RetainFor: cfg.LabelRetainFor},
		event.ResourcePage:   {FreshFor: cfg.PageFreshFor, RetainFor: cfg.PageRetainFor},
		event.ResourceDetail: {FreshFor: cfg.DetailFreshFor, RetainFor: cfg.DetailRetainFor},
	}
}

// Connectivity reports whether the device is online.
type Connectivity interface {
	Online() bool
}

// Indexer receives freshly fetched message details, for example to build a search index.  It is
// always called from a detached task.
type Indexer interface {
	IndexMessage(ctx context.Context, d *message.Detail) error
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

// Options configure a Cache.  Local and Remote are required.
type Options struct {
	Local      *storage.Local
	Remote     remote.Service
	Online     Connectivity    // Defaults to always online
	Host       *extension.Host // Receives cache events
	Spawner    *task.Spawner   // Runs background revalidation and indexing
	Indexer    Indexer
	Policies   Policies
	PageSize   int
	GCInterval time.Duration    // Zero disables the collector
	Now        func() time.Time // Defaults to the local store clock
}

// entry is the in-memory mirror of one resource.  A nil value marks a key that was invalidated
// before it was ever loaded into memory.
type entry struct {
	value       any
	fetchedAt   time.Time // local store timestamp of value
	accessed    time.Time
	invalidated bool
}

// flight is a cancelable background revalidation.
type flight struct {
	cancel context.CancelFunc
}

// Cache is the reactive query cache.  It is the only writer of the local store.
type Cache struct {
	local    *storage.Local
	remote   remote.Service
	online   Connectivity
	host     *extension.Host
	spawner  *task.Spawner
	indexer  Indexer
	policies Policies
	pageSize int
	gcEvery  time.Duration
	now      func() time.Time

	keyLocks storage.HashLock
	fetches  singleflight.Group

	mu      sync.Mutex
	entries map[Key]*entry
	flights map[Key]*flight
	gens    map[Key]uint64 // bumped whenever a mutation supersedes fetched data
	epoch   uint64         // bumped by ClearAll
	pending map[Key]int    // mutations applied but not yet confirmed
	outbox  *Outbox

	replayMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates a cache.  Call Start to run the collector and Close to dispose of it.
func New(opts Options) (*Cache, error) {
	if opts.Local == nil {
		return nil, errors.New("query cache requires a local store")
	}
	if opts.Remote == nil {
		return nil, errors.New("query cache requires a remote service")
	}
	if opts.Online == nil {
		opts.Online = alwaysOnline{}
	}
	if opts.Host == nil {
		opts.Host = extension.NewHost()
	}
	if opts.Spawner == nil {
		opts.Spawner = task.NewSpawner()
	}
	if opts.Policies == nil {
		opts.Policies = DefaultPolicies()
	}
	if opts.Now == nil {
		opts.Now = opts.Local.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		local:    opts.Local,
		remote:   opts.Remote,
		online:   opts.Online,
		host:     opts.Host,
		spawner:  opts.Spawner,
		indexer:  opts.Indexer,
		policies: opts.Policies,
		pageSize: opts.PageSize,
		gcEvery:  opts.GCInterval,
		now:      opts.Now,
		entries:  make(map[Key]*entry),
		flights:  make(map[Key]*flight),
		gens:     make(map[Key]uint64),
		pending:  make(map[Key]int),
		outbox:   &Outbox{},
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With().Str("module", "query").Logger(),
	}
	c.host.Events.AfterConnectivity.AddListener("query", c.connectivityChanged)
	return c, nil
}

// Start runs the idle entry collector until ctx is canceled or the cache is closed.
func (c *Cache) Start(ctx context.Context) {
	collector := NewCollector(c, c.gcEvery)
	if !collector.Enabled() {
		c.logger.Info().Msg("Idle entry collector disabled")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()
	collector.Run(ctx)
}

// Close cancels background work started by the cache and waits for it to finish.  The local
// store is left open.
func (c *Cache) Close() {
	c.host.Events.AfterConnectivity.RemoveListener("query")
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}

// Online reports the current connectivity.
func (c *Cache) Online() bool {
	return c.online.Online()
}

// Stats summarizes the cache.
type Stats struct {
	Entries int           `json:"entries"`
	Queued  int           `json:"queued"`
	Online  bool          `json:"online"`
	Local   storage.Stats `json:"local"`
}

// Stats returns the current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := 0
	for _, e := range c.entries {
		if e.value != nil {
			n++
		}
	}
	c.mu.Unlock()
	return Stats{
		Entries: n,
		Queued:  c.outbox.Len(),
		Online:  c.online.Online(),
		Local:   c.local.Stats(),
	}
}

// ClearAll wipes every entry from memory and the local store, and drops queued mutations.
// Background revalidations are canceled and their results discarded.
func (c *Cache) ClearAll() {
	// Hold every key lock so no write-through lands between the two clears.
	for i := range c.keyLocks {
		c.keyLocks[i].Lock()
	}
	c.mu.Lock()
	for k, f := range c.flights {
		f.cancel()
		delete(c.flights, k)
	}
	c.epoch++
	c.entries = make(map[Key]*entry)
	c.pending = make(map[Key]int)
	dropped := c.outbox.drain()
	c.mu.Unlock()
	c.local.ClearAll()
	for i := range c.keyLocks {
		c.keyLocks[i].Unlock()
	}

	if len(dropped) > 0 {
		c.logger.Warn().Int("mutations", len(dropped)).Msg("Dropped queued mutations on clear")
	}
	c.emit(event.OpCleared, Key{Resource: event.ResourceAll}, "")
}

// emit publishes a cache event to the extension host.
func (c *Cache) emit(op event.CacheOp, k Key, mutation string) {
	c.host.Events.AfterCacheChanged.Emit(&event.CacheEvent{
		Op:       op,
		Resource: k.Resource,
		Key:      k.ID,
		Mutation: mutation,
		At:       c.now(),
	})
}

func (c *Cache) policy(r event.Resource) Policy {
	return c.policies[r]
}

// generation identifies the state of a key when a fetch began.  A fetched value is written
// only if the generation is unchanged when it completes.
type generation struct {
	epoch, n uint64
}

// generation returns the current generation of k.  Caller must hold c.mu.
func (c *Cache) generation(k Key) generation {
	return generation{epoch: c.epoch, n: c.gens[k]}
}

// lockFor returns the mutex serializing write-through for k.
func (c *Cache) lockFor(k Key) *sync.RWMutex {
	family, id := k.lockKey()
	return c.keyLocks.For(family, id)
}

// cancelFlight stops background revalidation of k.  Caller must hold c.mu.
func (c *Cache) cancelFlight(k Key) {
	if f, ok := c.flights[k]; ok {
		f.cancel()
		delete(c.flights, k)
		c.logger.Debug().Str("key", k.String()).Msg("Canceled revalidation")
	}
}

// connectivityChanged replays queued mutations when the device comes back online.
func (c *Cache) connectivityChanged(e event.ConnectivityChange) {
	if !e.Online || c.outbox.Len() == 0 {
		return
	}
	c.spawner.SpawnDetached("replay outbox", func(ctx context.Context) error {
		return c.Replay(ctx)
	})
}
