package storage_test

import (
	"errors"
	"testing"
	"time"

	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/message"
	"github.com/inbucket/mailsync/pkg/storage"
	"github.com/inbucket/mailsync/pkg/storage/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testCfg = config.Storage{
	LabelTTL:  10 * time.Minute,
	PageTTL:   3 * time.Minute,
	DetailTTL: 5 * time.Minute,
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newLocal(t *testing.T) (*storage.Local, *clock) {
	t.Helper()
	l := storage.NewLocal(mem.NewStore(), testCfg)
	c := &clock{t: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	l.SetClock(c.now)
	return l, c
}

func TestLocalStalenessBoundary(t *testing.T) {
	l, c := newLocal(t)
	start := c.t
	l.PutPage(&message.Page{MailboxID: "INBOX", Messages: []message.Summary{{ID: "1"}}})

	c.t = start.Add(3*time.Minute - time.Second)
	p, stale, ok := l.Page("INBOX")
	require.True(t, ok)
	assert.False(t, stale)
	assert.True(t, start.Equal(p.FetchedAt))

	c.t = start.Add(3 * time.Minute)
	_, stale, ok = l.Page("INBOX")
	require.True(t, ok)
	assert.False(t, stale, "exactly TTL old is still fresh")

	c.t = start.Add(3*time.Minute + time.Second)
	_, stale, ok = l.Page("INBOX")
	require.True(t, ok)
	assert.True(t, stale)
}

func TestLocalFamiliesHaveIndependentTTL(t *testing.T) {
	l, c := newLocal(t)
	start := c.t
	l.PutLabels(&message.LabelSet{Labels: []message.Label{{ID: "INBOX"}}})
	l.PutPage(&message.Page{MailboxID: "INBOX"})
	l.PutDetail(&message.Detail{Summary: message.Summary{ID: "m1"}})

	c.t = start.Add(4 * time.Minute)
	_, stale, _ := l.Labels()
	assert.False(t, stale)
	_, stale, _ = l.Page("INBOX")
	assert.True(t, stale)
	_, stale, _ = l.Detail("m1")
	assert.False(t, stale)
}

func TestLocalPutKeepsFetchedAt(t *testing.T) {
	l, c := newLocal(t)
	earlier := c.t.Add(-time.Hour)
	l.PutDetail(&message.Detail{Summary: message.Summary{ID: "m1"}, FetchedAt: earlier})

	d, stale, ok := l.Detail("m1")
	require.True(t, ok)
	assert.True(t, stale)
	assert.True(t, earlier.Equal(d.FetchedAt))
}

func TestLocalPutReplaces(t *testing.T) {
	l, _ := newLocal(t)
	l.PutPage(&message.Page{MailboxID: "INBOX", Messages: []message.Summary{{ID: "1"}, {ID: "2"}}})
	l.PutPage(&message.Page{MailboxID: "INBOX", Messages: []message.Summary{{ID: "3"}}, NextToken: "t"})

	p, _, ok := l.Page("INBOX")
	require.True(t, ok)
	require.Len(t, p.Messages, 1)
	assert.Equal(t, "3", p.Messages[0].ID)
	assert.Equal(t, "t", p.NextToken)
}

func TestLocalRemoveAndClear(t *testing.T) {
	l, _ := newLocal(t)
	l.PutDetail(&message.Detail{Summary: message.Summary{ID: "m1"}})
	l.PutDetail(&message.Detail{Summary: message.Summary{ID: "m2"}})
	l.PutPage(&message.Page{MailboxID: "INBOX"})

	l.RemoveDetail("m1")
	_, _, ok := l.Detail("m1")
	assert.False(t, ok)
	_, _, ok = l.Detail("m2")
	assert.True(t, ok)

	l.RemovePage("INBOX")
	_, _, ok = l.Page("INBOX")
	assert.False(t, ok)

	l.ClearAll()
	_, _, ok = l.Detail("m2")
	assert.False(t, ok)
}

func TestLocalStats(t *testing.T) {
	l, c := newLocal(t)
	l.PutLabels(&message.LabelSet{})
	l.PutPage(&message.Page{MailboxID: "INBOX"})
	l.PutPage(&message.Page{MailboxID: "SENT"})
	l.PutDetail(&message.Detail{Summary: message.Summary{ID: "m1"}})
	l.MarkSynced(c.t)

	s := l.Stats()
	assert.Equal(t, 1, s.Labels)
	assert.Equal(t, 2, s.Pages)
	assert.Equal(t, 1, s.Details)
	assert.True(t, c.t.Equal(s.LastSync))
}

func TestLocalDegradesToMiss(t *testing.T) {
	b := &storage.MockBackend{}
	b.On("Get", mock.Anything, mock.Anything).Return(nil, storage.ErrUnavailable)
	b.On("Put", mock.Anything).Return(errors.New("disk full"))
	b.On("Remove", mock.Anything, mock.Anything).Return(errors.New("disk gone"))
	b.On("Clear").Return(errors.New("disk gone"))
	b.On("Count", mock.Anything).Return(0, errors.New("disk gone"))
	l := storage.NewLocal(b, testCfg)

	assert.NotPanics(t, func() {
		l.PutLabels(&message.LabelSet{})
		l.RemoveDetail("m1")
		l.ClearAll()
	})
	_, _, ok := l.Labels()
	assert.False(t, ok)
	_, _, ok = l.Page("INBOX")
	assert.False(t, ok)
	assert.Equal(t, storage.Stats{}, l.Stats())
	b.AssertExpectations(t)
}

func TestLocalCorruptPayloadIsMiss(t *testing.T) {
	b := mem.NewStore()
	require.NoError(t, b.Put(&storage.Record{
		Family: storage.FamilyDetails, Key: "m1", Payload: []byte("{not json"), FetchedAt: time.Now()}))
	l := storage.NewLocal(b, testCfg)

	_, _, ok := l.Detail("m1")
	assert.False(t, ok)
}

func TestLocalClosed(t *testing.T) {
	l, _ := newLocal(t)
	l.PutDetail(&message.Detail{Summary: message.Summary{ID: "m1"}})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, _, ok := l.Detail("m1")
	assert.False(t, ok)
	l.PutDetail(&message.Detail{Summary: message.Summary{ID: "m2"}})
	assert.Equal(t, storage.Stats{}, l.Stats())
}
