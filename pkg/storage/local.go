package storage

import (
	"encoding/json"
	"errors"
	"expvar"
	"sync"
	"time"

	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/message"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	expHits      = new(expvar.Int)
	expMisses    = new(expvar.Int)
	expStale     = new(expvar.Int)
	expDegraded  = new(expvar.Int)
	expWrites    = new(expvar.Int)
	expRemovals  = new(expvar.Int)
	expLastClear = new(expvar.String)
)

func init() {
	m := expvar.NewMap("storage")
	m.Set("Hits", expHits)
	m.Set("Misses", expMisses)
	m.Set("StaleHits", expStale)
	m.Set("Degraded", expDegraded)
	m.Set("Writes", expWrites)
	m.Set("Removals", expRemovals)
	m.Set("LastClear", expLastClear)
}

// Stats summarizes the contents of the local store.
type Stats struct {
	Labels   int       `json:"labels"`
	Pages    int       `json:"pages"`
	Details  int       `json:"details"`
	LastSync time.Time `json:"lastSync"`
}

// Local is the persistent local store used by the rest of the engine.  It wraps a Backend,
// encodes typed values, computes staleness at read time, and turns every backend failure into a
// miss so callers always have a defined fallback: the network.
type Local struct {
	mu      sync.RWMutex
	backend Backend
	ttl     map[Family]time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewLocal wraps the backend, using the TTLs from cfg.
func NewLocal(backend Backend, cfg config.Storage) *Local {
	return &Local{
		backend: backend,
		ttl: map[Family]time.Duration{
			FamilyLabels:  cfg.LabelTTL,
			FamilyPages:   cfg.PageTTL,
			FamilyDetails: cfg.DetailTTL,
		},
		now:    time.Now,
		logger: log.With().Str("module", "storage").Logger(),
	}
}

// SetClock replaces the time source, for tests.
func (l *Local) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Now returns the current time according to the store clock.
func (l *Local) Now() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.now()
}

// TTL returns the time-to-live for the family.
func (l *Local) TTL(family Family) time.Duration {
	return l.ttl[family]
}

// IsStale reports whether a record of family fetched at fetchedAt is stale now.
func (l *Local) IsStale(family Family, fetchedAt time.Time) bool {
	ttl, ok := l.ttl[family]
	if !ok {
		return false
	}
	return l.Now().Sub(fetchedAt) > ttl
}

// Labels returns the cached label set.
func (l *Local) Labels() (ls *message.LabelSet, stale bool, ok bool) {
	ls = &message.LabelSet{}
	at, ok := l.get(FamilyLabels, LabelsKey, ls)
	if !ok {
		return nil, false, false
	}
	ls.FetchedAt = at
	return ls, l.IsStale(FamilyLabels, at), true
}

// Page returns the cached current page for the mailbox.
func (l *Local) Page(mailboxID string) (p *message.Page, stale bool, ok bool) {
	p = &message.Page{}
	at, ok := l.get(FamilyPages, mailboxID, p)
	if !ok {
		return nil, false, false
	}
	p.FetchedAt = at
	return p, l.IsStale(FamilyPages, at), true
}

// Detail returns the cached message detail.
func (l *Local) Detail(id string) (d *message.Detail, stale bool, ok bool) {
	d = &message.Detail{}
	at, ok := l.get(FamilyDetails, id, d)
	if !ok {
		return nil, false, false
	}
	d.FetchedAt = at
	return d, l.IsStale(FamilyDetails, at), true
}

// PutLabels replaces the label set.  A zero FetchedAt is stamped with the current time.
func (l *Local) PutLabels(ls *message.LabelSet) {
	l.put(FamilyLabels, LabelsKey, ls.FetchedAt, ls)
}

// PutPage replaces the current page for p.MailboxID.
func (l *Local) PutPage(p *message.Page) {
	l.put(FamilyPages, p.MailboxID, p.FetchedAt, p)
}

// PutDetail replaces the message detail.
func (l *Local) PutDetail(d *message.Detail) {
	l.put(FamilyDetails, d.ID, d.FetchedAt, d)
}

// RemoveDetail evicts a single message detail.
func (l *Local) RemoveDetail(id string) {
	l.remove(FamilyDetails, id)
}

// RemovePage evicts the current page for a mailbox.
func (l *Local) RemovePage(mailboxID string) {
	l.remove(FamilyPages, mailboxID)
}

// MarkSynced records a successful full sync.
func (l *Local) MarkSynced(at time.Time) {
	l.put(FamilyMeta, SyncKey, at, &message.SyncMeta{LastSync: at})
}

// ClearAll removes every record from every family.
func (l *Local) ClearAll() {
	b := l.current()
	if b == nil {
		return
	}
	if err := b.Clear(); err != nil {
		expDegraded.Add(1)
		l.logger.Warn().Err(err).Msg("Failed to clear local store")
		return
	}
	expLastClear.Set(l.Now().Format(time.RFC3339))
	l.logger.Info().Msg("Cleared local store")
}

// Stats returns per-family record counts and the last sync time.  Counts that cannot be
// determined are reported as zero.
func (l *Local) Stats() Stats {
	s := Stats{
		Labels:  l.count(FamilyLabels),
		Pages:   l.count(FamilyPages),
		Details: l.count(FamilyDetails),
	}
	meta := &message.SyncMeta{}
	if _, ok := l.get(FamilyMeta, SyncKey, meta); ok {
		s.LastSync = meta.LastSync
	}
	return s
}

// Close releases the backend.  Every later operation is a miss.
func (l *Local) Close() error {
	l.mu.Lock()
	b := l.backend
	l.backend = nil
	l.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}

func (l *Local) current() Backend {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.backend
}

// get decodes the record into v and returns its fetch time.  Any failure is a miss.
func (l *Local) get(family Family, key string, v any) (time.Time, bool) {
	b := l.current()
	if b == nil {
		expMisses.Add(1)
		return time.Time{}, false
	}
	rec, err := b.Get(family, key)
	if err != nil {
		if !errors.Is(err, ErrNotExist) {
			expDegraded.Add(1)
			l.logger.Warn().Str("family", string(family)).Str("key", key).Err(err).
				Msg("Read degraded to miss")
		}
		expMisses.Add(1)
		return time.Time{}, false
	}
	if err := json.Unmarshal(rec.Payload, v); err != nil {
		expDegraded.Add(1)
		expMisses.Add(1)
		l.logger.Warn().Str("family", string(family)).Str("key", key).Err(err).
			Msg("Corrupt record degraded to miss")
		return time.Time{}, false
	}
	expHits.Add(1)
	if l.IsStale(family, rec.FetchedAt) {
		expStale.Add(1)
	}
	return rec.FetchedAt, true
}

func (l *Local) put(family Family, key string, fetchedAt time.Time, v any) {
	b := l.current()
	if b == nil {
		return
	}
	if fetchedAt.IsZero() {
		fetchedAt = l.Now()
	}
	payload, err := json.Marshal(v)
	if err != nil {
		l.logger.Warn().Str("family", string(family)).Str("key", key).Err(err).
			Msg("Failed to encode record")
		return
	}
	err = b.Put(&Record{Family: family, Key: key, Payload: payload, FetchedAt: fetchedAt})
	if err != nil {
		expDegraded.Add(1)
		l.logger.Warn().Str("family", string(family)).Str("key", key).Err(err).
			Msg("Write dropped")
		return
	}
	expWrites.Add(1)
}

func (l *Local) remove(family Family, key string) {
	b := l.current()
	if b == nil {
		return
	}
	if err := b.Remove(family, key); err != nil && !errors.Is(err, ErrNotExist) {
		expDegraded.Add(1)
		l.logger.Warn().Str("family", string(family)).Str("key", key).Err(err).
			Msg("Remove dropped")
		return
	}
	expRemovals.Add(1)
}

func (l *Local) count(family Family) int {
	b := l.current()
	if b == nil {
		return 0
	}
	n, err := b.Count(family)
	if err != nil {
		expDegraded.Add(1)
		l.logger.Warn().Str("family", string(family)).Err(err).Msg("Count degraded to zero")
		return 0
	}
	return n
}
