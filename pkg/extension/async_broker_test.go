package extension_test

import (
	"testing"
	"time"

	"github.com/inbucket/mailsync/pkg/extension"
	"github.com/inbucket/mailsync/pkg/extension/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncBrokerEmitCallsOneListener(t *testing.T) {
	broker := &extension.AsyncEventBroker[event.CacheEvent]{}

	events := make(chan event.CacheEvent, 1)
	broker.AddListener("x", func(e event.CacheEvent) { events <- e })

	want := event.CacheEvent{Op: event.OpUpdated, Resource: event.ResourcePage, Key: "INBOX"}
	broker.Emit(&want)

	select {
	case got := <-events:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestAsyncBrokerEmitCallsMultipleListeners(t *testing.T) {
	broker := &extension.AsyncEventBroker[event.CacheEvent]{}

	first := broker.AsyncTestListener("first", 1)
	second := broker.AsyncTestListener("second", 1)

	want := event.CacheEvent{Op: event.OpInvalidated, Resource: event.ResourceLabels}
	broker.Emit(&want)

	firstGot, err := first()
	require.NoError(t, err)
	assert.Equal(t, want, *firstGot)

	secondGot, err := second()
	require.NoError(t, err)
	assert.Equal(t, want, *secondGot)
}

func TestAsyncBrokerAddingDuplicateNameReplacesPrevious(t *testing.T) {
	broker := &extension.AsyncEventBroker[string]{}

	first := broker.AsyncTestListener("dup", 1)
	second := broker.AsyncTestListener("dup", 1)

	want := "hi"
	broker.Emit(&want)

	got, err := second()
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, err = first()
	assert.Error(t, err, "replaced listener should not receive events")
}

func TestAsyncBrokerTestListenerRemovesItself(t *testing.T) {
	broker := &extension.AsyncEventBroker[string]{}

	listener := broker.AsyncTestListener("once", 1)
	want := "hi"
	broker.Emit(&want)
	_, err := listener()
	require.NoError(t, err)

	assert.Empty(t, broker.Listeners())
}

func TestAsyncBrokerTestListenerTimesOut(t *testing.T) {
	broker := &extension.AsyncEventBroker[string]{}

	listener := broker.AsyncTestListener("quiet", 1)
	got, err := listener()
	assert.Nil(t, got)
	assert.Error(t, err)
}
