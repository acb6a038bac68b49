package msghub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/inbucket/mailsync/pkg/extension"
	"github.com/inbucket/mailsync/pkg/extension/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testListener implements the Listener interface, mock for unit tests
type testListener struct {
	events     []event.CacheEvent // received events
	wantEvents int                // how many events this listener wants to receive
	errorAfter int                // when != 0, event count until Receive() begins returning error

	done     chan struct{} // closed once we have received wantEvents
	overflow chan struct{} // closed if we receive wantEvents+1
}

func newTestListener(want int) *testListener {
	l := &testListener{
		events:     make([]event.CacheEvent, 0, want*2),
		wantEvents: want,
		done:       make(chan struct{}),
		overflow:   make(chan struct{}),
	}
	if want == 0 {
		close(l.done)
	}
	return l
}

func (l *testListener) Receive(e event.CacheEvent) error {
	l.events = append(l.events, e)
	if len(l.events) == l.wantEvents {
		close(l.done)
	}
	if len(l.events) == l.wantEvents+1 {
		close(l.overflow)
	}
	if l.errorAfter > 0 && len(l.events) > l.errorAfter {
		return errors.New("too many events")
	}
	return nil
}

func (l *testListener) String() string {
	return fmt.Sprintf("got %v events, wanted %v", len(l.events), l.wantEvents)
}

func (l *testListener) wait(t *testing.T) {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(time.Second):
		t.Fatal("Timeout:", l)
	}
}

func pageEvent(op event.CacheOp, key string) event.CacheEvent {
	return event.CacheEvent{Op: op, Resource: event.ResourcePage, Key: key}
}

func startHub(t *testing.T, historyLen int) (*Hub, *extension.Host) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	host := extension.NewHost()
	hub := New(historyLen, host)
	go hub.Start(ctx)
	return hub, host
}

func TestHubZeroLen(t *testing.T) {
	hub, _ := startHub(t, 0)
	l := newTestListener(100)
	hub.AddListener(l)
	for i := 0; i < 100; i++ {
		hub.Dispatch(pageEvent(event.OpUpdated, "INBOX"))
	}
	l.wait(t)
}

func TestHubOneListener(t *testing.T) {
	hub, _ := startHub(t, 5)
	l := newTestListener(1)

	hub.AddListener(l)
	hub.Dispatch(pageEvent(event.OpUpdated, "INBOX"))
	l.wait(t)
	assert.Equal(t, "INBOX", l.events[0].Key)
}

func TestHubReceivesFromExtensionHost(t *testing.T) {
	hub, host := startHub(t, 5)
	l := newTestListener(1)
	hub.AddListener(l)

	host.Events.AfterCacheChanged.Emit(&event.CacheEvent{
		Op: event.OpInvalidated, Resource: event.ResourceLabels})
	l.wait(t)
	assert.Equal(t, event.OpInvalidated, l.events[0].Op)
}

func TestHubRemoveListener(t *testing.T) {
	hub, _ := startHub(t, 5)
	l := newTestListener(1)

	hub.AddListener(l)
	hub.Dispatch(pageEvent(event.OpUpdated, "INBOX"))
	hub.RemoveListener(l)
	hub.Dispatch(pageEvent(event.OpUpdated, "INBOX"))
	hub.Sync()

	select {
	case <-l.overflow:
		t.Error(l)
	case <-time.After(50 * time.Millisecond):
		// Expected result, no overflow
	}
}

func TestHubRemoveListenerOnError(t *testing.T) {
	hub, _ := startHub(t, 5)

	// error after 1 means listener should receive 2 events before being removed
	l := newTestListener(2)
	l.errorAfter = 1

	hub.AddListener(l)
	for i := 0; i < 4; i++ {
		hub.Dispatch(pageEvent(event.OpUpdated, "INBOX"))
	}
	hub.Sync()

	select {
	case <-l.overflow:
		t.Error(l)
	case <-time.After(50 * time.Millisecond):
		// Expected result, no overflow
	}
}

func TestHubHistoryReplay(t *testing.T) {
	hub, _ := startHub(t, 100)
	keys := []string{"INBOX", "SENT", "TRASH"}
	for _, k := range keys {
		hub.Dispatch(pageEvent(event.OpUpdated, k))
	}

	l := newTestListener(3)
	hub.AddListener(l)
	l.wait(t)
	for i, k := range keys {
		assert.Equal(t, k, l.events[i].Key)
	}
}

func TestHubHistoryReplayWrap(t *testing.T) {
	hub, _ := startHub(t, 5)
	for i := 0; i < 20; i++ {
		hub.Dispatch(pageEvent(event.OpUpdated, fmt.Sprintf("box%d", i)))
	}

	l := newTestListener(5)
	hub.AddListener(l)
	l.wait(t)
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("box%d", i+15), l.events[i].Key)
	}
}

func TestHubEvictionForgetsHistory(t *testing.T) {
	hub, _ := startHub(t, 10)
	hub.Dispatch(event.CacheEvent{Op: event.OpUpdated, Resource: event.ResourceDetail, Key: "m1"})
	hub.Dispatch(event.CacheEvent{Op: event.OpUpdated, Resource: event.ResourceDetail, Key: "m2"})
	hub.Dispatch(event.CacheEvent{Op: event.OpEvicted, Resource: event.ResourceDetail, Key: "m1"})
	hub.Sync()

	l := newTestListener(2)
	hub.AddListener(l)
	l.wait(t)
	assert.Equal(t, "m2", l.events[0].Key)
	assert.Equal(t, event.OpEvicted, l.events[1].Op)

	// Buffer must keep its configured size.
	hub.Sync()
	require.Equal(t, 10, hub.history.Len())
}

func TestHubClearForgetsHistory(t *testing.T) {
	hub, _ := startHub(t, 10)
	hub.Dispatch(pageEvent(event.OpUpdated, "INBOX"))
	hub.Dispatch(pageEvent(event.OpUpdated, "SENT"))
	hub.Dispatch(event.CacheEvent{Op: event.OpCleared, Resource: event.ResourceAll})

	l := newTestListener(1)
	hub.AddListener(l)
	l.wait(t)
	hub.Sync()
	assert.Len(t, l.events, 1)
	assert.Equal(t, event.OpCleared, l.events[0].Op)
}

func TestHubContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := New(5, extension.NewHost())
	go hub.Start(ctx)
	l := newTestListener(1)

	hub.AddListener(l)
	hub.Dispatch(pageEvent(event.OpUpdated, "INBOX"))
	hub.Sync()
	cancel()

	select {
	case <-l.overflow:
		t.Error(l)
	case <-time.After(50 * time.Millisecond):
		// Expected result, no overflow
	}
}
