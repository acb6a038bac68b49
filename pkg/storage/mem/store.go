package mem

import (
	"sync"

	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/storage"
)

// Store implements an in-memory record backend.  Records do not survive a restart, so this backend
// suits tests and ephemeral sessions.
type Store struct {
	sync.Mutex
	families map[storage.Family]*family
}

type family struct {
	sync.RWMutex
	records map[string]*storage.Record
}

var _ storage.Backend = &Store{}

// New returns an empty memory store.
func New(cfg config.Storage) (storage.Backend, error) {
	return NewStore(), nil
}

// NewStore returns an empty memory store.
func NewStore() *Store {
	return &Store{families: make(map[storage.Family]*family)}
}

// Get returns a copy of the keyed record.
func (s *Store) Get(f storage.Family, key string) (rec *storage.Record, err error) {
	s.withFamily(f, false, func(fm *family) {
		r, ok := fm.records[key]
		if !ok {
			err = storage.ErrNotExist
			return
		}
		rec = copyRecord(r)
	})
	return rec, err
}

// Put replaces the keyed record with a copy of rec.
func (s *Store) Put(rec *storage.Record) error {
	if err := storage.ValidFamily(rec.Family); err != nil {
		return err
	}
	c := copyRecord(rec)
	s.withFamily(rec.Family, true, func(fm *family) {
		fm.records[rec.Key] = c
	})
	return nil
}

// Remove deletes the keyed record.
func (s *Store) Remove(f storage.Family, key string) (err error) {
	s.withFamily(f, true, func(fm *family) {
		if _, ok := fm.records[key]; !ok {
			err = storage.ErrNotExist
			return
		}
		delete(fm.records, key)
	})
	return err
}

// Clear deletes every record.
func (s *Store) Clear() error {
	s.Lock()
	s.families = make(map[storage.Family]*family)
	s.Unlock()
	return nil
}

// Count returns the number of records in the family.
func (s *Store) Count(f storage.Family) (n int, err error) {
	s.withFamily(f, false, func(fm *family) {
		n = len(fm.records)
	})
	return n, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}

// withFamily gets or creates a family, locks it, then calls f.
func (s *Store) withFamily(name storage.Family, writeLock bool, f func(fm *family)) {
	s.Lock()
	fm, ok := s.families[name]
	if !ok {
		fm = &family{records: make(map[string]*storage.Record)}
		s.families[name] = fm
	}
	s.Unlock()
	if writeLock {
		fm.Lock()
	} else {
		fm.RLock()
	}
	defer func() {
		if writeLock {
			fm.Unlock()
		} else {
			fm.RUnlock()
		}
	}()
	f(fm)
}

func copyRecord(r *storage.Record) *storage.Record {
	c := *r
	c.Payload = append([]byte(nil), r.Payload...)
	return &c
}
