package mem

import (
	"testing"

	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/storage"
	"github.com/inbucket/mailsync/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSuite runs storage package test suite on memory store.
func TestSuite(t *testing.T) {
	test.StoreSuite(t, func(conf config.Storage) (storage.Backend, func(), error) {
		s, _ := New(conf)
		destroy := func() {}
		return s, destroy, nil
	})
}

// TestGetReturnsCopy verifies callers cannot mutate stored payloads.
func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Put(&storage.Record{
		Family: storage.FamilyDetails, Key: "a", Payload: []byte(`"x"`)}))

	rec, err := s.Get(storage.FamilyDetails, "a")
	require.NoError(t, err)
	rec.Payload[1] = 'y'

	rec, err = s.Get(storage.FamilyDetails, "a")
	require.NoError(t, err)
	assert.Equal(t, `"x"`, string(rec.Payload))
}
