// Package storage contains the persistent local store: backend independent record handling,
// per-family staleness, and the degrade-to-miss facade used by the query cache.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/inbucket/mailsync/pkg/config"
)

var (
	// ErrNotExist indicates the requested record does not exist.
	ErrNotExist = errors.New("record does not exist")

	// ErrUnavailable indicates the backing store is corrupt or cannot be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// Family identifies an independent group of records.
type Family string

// Record families.
const (
	FamilyLabels  Family = "labels"
	FamilyPages   Family = "pages"
	FamilyDetails Family = "details"
	FamilyMeta    Family = "meta"
)

// Families lists every record family, in display order.
var Families = []Family{FamilyLabels, FamilyPages, FamilyDetails, FamilyMeta}

const (
	// LabelsKey is the only key of the labels family.
	LabelsKey = "current"

	// SyncKey is the only key of the meta family.
	SyncKey = "sync"
)

// Record is a single persisted value.  Payload is opaque to backends.
type Record struct {
	Family    Family
	Key       string
	Payload   []byte
	FetchedAt time.Time
}

// Backend is implemented by each persistence mechanism.  Put fully replaces the keyed record.
// Operations must be atomic per key; a concurrent Get never observes a partial record.
type Backend interface {
	Get(family Family, key string) (*Record, error)
	Put(rec *Record) error
	Remove(family Family, key string) error
	Clear() error
	Count(family Family) (int, error)
	Close() error
}

// BackendConstructor constructs a Backend from configuration.
type BackendConstructor func(cfg config.Storage) (Backend, error)

// Constructors maps backend type names to their constructors, populated by main.
var Constructors = make(map[string]BackendConstructor)

// FromConfig creates a backend for the configured storage type.
func FromConfig(cfg config.Storage) (Backend, error) {
	c, ok := Constructors[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown storage type configured: %q", cfg.Type)
	}
	return c(cfg)
}

// ValidFamily returns an error if f is not a known record family.
func ValidFamily(f Family) error {
	for _, known := range Families {
		if f == known {
			return nil
		}
	}
	return fmt.Errorf("unknown record family %q", f)
}
