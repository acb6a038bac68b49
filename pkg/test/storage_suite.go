package test

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory returns a new backend for the test suite.
type StoreFactory func(conf config.Storage) (store storage.Backend, destroy func(), err error)

// StoreSuite runs a set of general tests on the provided Backend.
func StoreSuite(t *testing.T, factory StoreFactory) {
	testCases := []struct {
		name string
		test func(*testing.T, storage.Backend)
		conf config.Storage
	}{
		{"missing", testMissing, config.Storage{}},
		{"round trip", testRoundTrip, config.Storage{}},
		{"replace not merge", testReplace, config.Storage{}},
		{"family isolation", testFamilyIsolation, config.Storage{}},
		{"remove", testRemove, config.Storage{}},
		{"clear", testClear, config.Storage{}},
		{"count", testCount, config.Storage{}},
		{"unknown family", testUnknownFamily, config.Storage{}},
		{"no torn reads", testNoTornReads, config.Storage{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, destroy, err := factory(tc.conf)
			if err != nil {
				t.Fatal(err)
			}
			tc.test(t, store)
			destroy()
		})
	}
}

// testMissing verifies an absent record reports ErrNotExist.
func testMissing(t *testing.T, store storage.Backend) {
	rec, err := store.Get(storage.FamilyPages, "INBOX")
	assert.ErrorIs(t, err, storage.ErrNotExist)
	assert.Nil(t, rec)
}

// testRoundTrip verifies a record is stored and retrieved intact.
func testRoundTrip(t *testing.T, store storage.Backend) {
	fetched := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	want := &storage.Record{
		Family:    storage.FamilyDetails,
		Key:       "abc123",
		Payload:   []byte(`{"id":"abc123","subject":"hello"}`),
		FetchedAt: fetched,
	}
	require.NoError(t, store.Put(want))

	got, err := store.Get(storage.FamilyDetails, "abc123")
	require.NoError(t, err)
	assert.Equal(t, want.Family, got.Family)
	assert.Equal(t, want.Key, got.Key)
	assert.Equal(t, want.Payload, got.Payload)
	assert.True(t, fetched.Equal(got.FetchedAt), "got fetchedAt %v, want %v", got.FetchedAt, fetched)
}

// testReplace verifies that a second Put fully replaces the first.
func testReplace(t *testing.T, store storage.Backend) {
	first := &storage.Record{
		Family:    storage.FamilyPages,
		Key:       "SENT",
		Payload:   []byte(`{"messages":[{"id":"1"},{"id":"2"}]}`),
		FetchedAt: time.Now().Add(-time.Hour),
	}
	second := &storage.Record{
		Family:    storage.FamilyPages,
		Key:       "SENT",
		Payload:   []byte(`{"messages":[{"id":"3"}]}`),
		FetchedAt: time.Now(),
	}
	require.NoError(t, store.Put(first))
	require.NoError(t, store.Put(second))

	got, err := store.Get(storage.FamilyPages, "SENT")
	require.NoError(t, err)
	assert.Equal(t, second.Payload, got.Payload)
	assert.True(t, second.FetchedAt.Equal(got.FetchedAt))

	n, err := store.Count(storage.FamilyPages)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// testFamilyIsolation verifies the same key in different families are different records.
func testFamilyIsolation(t *testing.T, store storage.Backend) {
	now := time.Now()
	require.NoError(t, store.Put(&storage.Record{
		Family: storage.FamilyPages, Key: "x", Payload: []byte(`"page"`), FetchedAt: now}))
	require.NoError(t, store.Put(&storage.Record{
		Family: storage.FamilyDetails, Key: "x", Payload: []byte(`"detail"`), FetchedAt: now}))

	got, err := store.Get(storage.FamilyPages, "x")
	require.NoError(t, err)
	assert.Equal(t, `"page"`, string(got.Payload))
	got, err = store.Get(storage.FamilyDetails, "x")
	require.NoError(t, err)
	assert.Equal(t, `"detail"`, string(got.Payload))
}

// testRemove verifies a single record can be removed without disturbing others.
func testRemove(t *testing.T, store storage.Backend) {
	now := time.Now()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, store.Put(&storage.Record{
			Family: storage.FamilyDetails, Key: id, Payload: []byte(`{}`), FetchedAt: now}))
	}
	require.NoError(t, store.Remove(storage.FamilyDetails, "a"))

	_, err := store.Get(storage.FamilyDetails, "a")
	assert.ErrorIs(t, err, storage.ErrNotExist)
	_, err = store.Get(storage.FamilyDetails, "b")
	assert.NoError(t, err)

	err = store.Remove(storage.FamilyDetails, "a")
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

// testClear verifies every family is emptied.
func testClear(t *testing.T, store storage.Backend) {
	now := time.Now()
	for _, f := range storage.Families {
		require.NoError(t, store.Put(&storage.Record{
			Family: f, Key: "k", Payload: []byte(`{}`), FetchedAt: now}))
	}
	require.NoError(t, store.Clear())
	for _, f := range storage.Families {
		n, err := store.Count(f)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "family %s", f)
		_, err = store.Get(f, "k")
		assert.ErrorIs(t, err, storage.ErrNotExist)
	}

	// Store must remain usable.
	require.NoError(t, store.Put(&storage.Record{
		Family: storage.FamilyLabels, Key: storage.LabelsKey, Payload: []byte(`{}`), FetchedAt: now}))
}

// testCount verifies counts track puts and removes per family.
func testCount(t *testing.T, store storage.Backend) {
	now := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(&storage.Record{
			Family: storage.FamilyDetails, Key: fmt.Sprintf("m%d", i), Payload: []byte(`{}`),
			FetchedAt: now}))
	}
	require.NoError(t, store.Put(&storage.Record{
		Family: storage.FamilyPages, Key: "INBOX", Payload: []byte(`{}`), FetchedAt: now}))

	n, err := store.Count(storage.FamilyDetails)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = store.Count(storage.FamilyPages)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.Count(storage.FamilyLabels)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// testUnknownFamily verifies records for unknown families are rejected.
func testUnknownFamily(t *testing.T, store storage.Backend) {
	err := store.Put(&storage.Record{Family: "bogus", Key: "k", Payload: []byte(`{}`)})
	assert.Error(t, err)
}

// testNoTornReads writes two uniform payloads concurrently and verifies readers only ever observe
// one of them in full.
func testNoTornReads(t *testing.T, store storage.Backend) {
	const size = 4096
	payloads := [][]byte{
		[]byte(`"` + string(bytes.Repeat([]byte("a"), size)) + `"`),
		[]byte(`"` + string(bytes.Repeat([]byte("b"), size)) + `"`),
	}
	require.NoError(t, store.Put(&storage.Record{
		Family: storage.FamilyDetails, Key: "torn", Payload: payloads[0], FetchedAt: time.Now()}))

	wg := &sync.WaitGroup{}
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(p []byte) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := store.Put(&storage.Record{
					Family: storage.FamilyDetails, Key: "torn", Payload: p, FetchedAt: time.Now(),
				}); err != nil {
					t.Error(err)
					return
				}
			}
		}(payloads[w])
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				rec, err := store.Get(storage.FamilyDetails, "torn")
				if err != nil {
					t.Error(err)
					return
				}
				if !bytes.Equal(rec.Payload, payloads[0]) && !bytes.Equal(rec.Payload, payloads[1]) {
					t.Errorf("observed torn record of %v bytes", len(rec.Payload))
					return
				}
			}
		}()
	}
	wg.Wait()
}
