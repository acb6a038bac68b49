package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedRefresher blocks until released, counting calls.
type gatedRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	token   string
	err     error
}

func (r *gatedRefresher) Refresh(ctx context.Context) (string, error) {
	r.calls.Add(1)
	<-r.release
	return r.token, r.err
}

func TestGuardConcurrentRefreshSharesOneCall(t *testing.T) {
	r := &gatedRefresher{release: make(chan struct{}), token: "fresh"}
	g := NewGuard("stale", r)

	const callers = 3
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := g.Refresh(context.Background(), "stale")
			assert.NoError(t, err)
			results <- tok
		}()
	}
	require.Eventually(t, func() bool { return g.State() == Refreshing }, time.Second, time.Millisecond)
	// Give the other callers time to join the flight.
	time.Sleep(20 * time.Millisecond)
	close(r.release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), r.calls.Load())
	for tok := range results {
		assert.Equal(t, "fresh", tok)
	}
	assert.Equal(t, "fresh", g.Token())
	assert.Equal(t, Idle, g.State())
}

func TestGuardReplacedTokenSkipsRefresh(t *testing.T) {
	r := &gatedRefresher{release: make(chan struct{})}
	g := NewGuard("current", r)

	tok, err := g.Refresh(context.Background(), "older")
	require.NoError(t, err)
	assert.Equal(t, "current", tok)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestGuardFailureSharedAndLogsOut(t *testing.T) {
	boom := errors.New("issuer down")
	r := &gatedRefresher{release: make(chan struct{}), err: boom}
	g := NewGuard("stale", r)
	var logouts atomic.Int32
	g.OnLogout(func(err error) {
		assert.ErrorIs(t, err, boom)
		logouts.Add(1)
	})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := g.Refresh(context.Background(), "stale")
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return g.State() == Refreshing }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(r.release)

	for i := 0; i < 2; i++ {
		err := <-errs
		assert.ErrorIs(t, err, ErrSessionExpired)
	}
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, int32(1), logouts.Load())

	assert.Equal(t, Idle, g.State())
	assert.Equal(t, "stale", g.Token())
}

func TestGuardRefreshesAgainAfterFailure(t *testing.T) {
	var calls atomic.Int32
	g := NewGuard("stale", RefresherFunc(func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("issuer down")
		}
		return "fresh", nil
	}))

	_, err := g.Refresh(context.Background(), "stale")
	require.ErrorIs(t, err, ErrSessionExpired)

	tok, err := g.Refresh(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "fresh", g.Token())
}

func TestGuardSetToken(t *testing.T) {
	r := &gatedRefresher{release: make(chan struct{})}
	g := NewGuard("stale", r)
	g.SetToken("relogin")
	assert.Equal(t, "relogin", g.Token())

	tok, err := g.Refresh(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "relogin", tok)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestGuardEmptyTokenIsFailure(t *testing.T) {
	g := NewGuard("", RefresherFunc(func(ctx context.Context) (string, error) { return "", nil }))
	_, err := g.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestGuardCallerCancelDoesNotCancelRefresh(t *testing.T) {
	r := &gatedRefresher{release: make(chan struct{}), token: "fresh"}
	g := NewGuard("stale", r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Refresh(ctx, "stale")
		done <- err
	}()
	require.Eventually(t, func() bool { return g.State() == Refreshing }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(r.release)
	require.Eventually(t, func() bool { return g.Token() == "fresh" }, time.Second, time.Millisecond)
}

func TestTransportRetriesOnceWithSharedToken(t *testing.T) {
	var refreshes atomic.Int32
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	release := make(chan struct{})
	g := NewGuard("stale", RefresherFunc(func(ctx context.Context) (string, error) {
		refreshes.Add(1)
		<-release
		return "fresh", nil
	}))
	client := &http.Client{Transport: &Transport{Guard: g}}

	const callers = 3
	var wg sync.WaitGroup
	statuses := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(srv.URL)
			if !assert.NoError(t, err) {
				return
			}
			_ = resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	require.Eventually(t, func() bool { return requests.Load() == callers }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(statuses)

	assert.Equal(t, int32(1), refreshes.Load())
	for s := range statuses {
		assert.Equal(t, http.StatusOK, s)
	}
	assert.Equal(t, int32(2*callers), requests.Load())
}

func TestTransportReplaysBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := new(bytes.Buffer)
		_, _ = b.ReadFrom(r.Body)
		mu.Lock()
		bodies = append(bodies, b.String())
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	g := NewGuard("stale", RefresherFunc(func(ctx context.Context) (string, error) { return "fresh", nil }))
	client := &http.Client{Transport: &Transport{Guard: g}}
	resp, err := client.Post(srv.URL, "application/json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
}

func TestTransportRefreshFailureReturnsOriginal(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGuard("stale", RefresherFunc(func(ctx context.Context) (string, error) {
		return "", errors.New("denied")
	}))
	loggedOut := make(chan struct{}, 1)
	g.OnLogout(func(error) { loggedOut <- struct{}{} })
	client := &http.Client{Transport: &Transport{Guard: g}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), requests.Load())
	select {
	case <-loggedOut:
	case <-time.After(time.Second):
		t.Fatal("logout not triggered")
	}
}

func TestTransportRecoversAfterFailedRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	var refreshes atomic.Int32
	g := NewGuard("stale", RefresherFunc(func(ctx context.Context) (string, error) {
		if refreshes.Add(1) == 1 {
			return "", errors.New("issuer down")
		}
		return "fresh", nil
	}))
	client := &http.Client{Transport: &Transport{Guard: g}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), refreshes.Load())
}
