package rest

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/inbucket/mailsync/pkg/agent"
	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/connectivity"
	"github.com/inbucket/mailsync/pkg/extension"
	"github.com/inbucket/mailsync/pkg/message"
	"github.com/inbucket/mailsync/pkg/msghub"
	"github.com/inbucket/mailsync/pkg/query"
	"github.com/inbucket/mailsync/pkg/server/web"
	"github.com/inbucket/mailsync/pkg/storage"
	"github.com/inbucket/mailsync/pkg/storage/mem"
	"github.com/inbucket/mailsync/pkg/task"
	"github.com/inbucket/mailsync/pkg/test"
	"github.com/stretchr/testify/require"
)

// testEngine is a fully wired cache engine backed by a fake remote service.
type testEngine struct {
	remote  *test.Remote
	monitor *connectivity.Monitor
	cache   *query.Cache
	spawner *task.Spawner
	hub     *msghub.Hub
	agent   *agent.Agent
}

// setupWebServer wires an engine into the shared router.  withAgent adds an inactive network
// agent.
func setupWebServer(t *testing.T, withAgent bool) *testEngine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	local := storage.NewLocal(mem.NewStore(), config.Storage{
		LabelTTL:  10 * time.Minute,
		PageTTL:   3 * time.Minute,
		DetailTTL: 5 * time.Minute,
	})
	host := extension.NewHost()
	e := &testEngine{
		remote:  test.NewRemote(),
		monitor: connectivity.NewMonitor(nil, 0, host),
		spawner: task.NewSpawner(),
		hub:     msghub.New(10, host),
	}
	go e.hub.Start(ctx)

	var err error
	e.cache, err = query.New(query.Options{
		Local:    local,
		Remote:   e.remote,
		Online:   e.monitor,
		Host:     host,
		Spawner:  e.spawner,
		PageSize: 10,
	})
	require.NoError(t, err)

	if withAgent {
		cs, err := agent.NewCacheStorage(t.TempDir())
		require.NoError(t, err)
		e.agent, err = agent.New(agent.Options{Storage: cs, Version: "v1", Spawner: e.spawner})
		require.NoError(t, err)
		go e.agent.Start(ctx)
	}

	t.Cleanup(func() {
		e.spawner.Wait()
		e.cache.Close()
		cancel()
		e.spawner.Close()
	})

	cfg := &config.Root{Web: config.Web{Addr: "127.0.0.1:0"}}
	SetupRoutes(web.Router.PathPrefix("/api/").Subrouter())
	web.NewServer(cfg, web.Services{
		MsgHub:  e.hub,
		Cache:   e.cache,
		Agent:   e.agent,
		Monitor: e.monitor,
	})
	return e
}

// seed adds n unread inbox messages, m1 first.  The server lists newest first.
func (e *testEngine) seed(n int) {
	for i := 1; i <= n; i++ {
		id := "m" + strconv.Itoa(i)
		e.remote.AddMessage(&message.Detail{
			Summary: message.Summary{
				ID:       id,
				From:     "sender@example.com",
				To:       []string{"me@example.com"},
				Subject:  "Subject " + strconv.Itoa(i),
				Date:     time.Date(2024, 3, 4, 9, i, 0, 0, time.UTC),
				Unread:   true,
				LabelIDs: []string{message.LabelInbox, message.LabelUnread},
			},
			Text: "Body " + strconv.Itoa(i),
			HTML: "<p>Body " + strconv.Itoa(i) + "</p>",
		})
	}
}

func testRestRequest(method, url, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Add("Accept", "application/json")
	if body != "" {
		req.Header.Add("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	web.Router.ServeHTTP(w, req)
	return w
}

func testRestGet(url string) *httptest.ResponseRecorder {
	return testRestRequest("GET", url, "")
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) any {
	t.Helper()
	var result any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result), "body: %s", w.Body.String())
	return result
}

func decodedBoolEquals(t *testing.T, json any, path string, want bool) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	if got, ok := val.(bool); ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T), want: %v", path, val, val, want)
}

func decodedNumberEquals(t *testing.T, json any, path string, want float64) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	got, ok := val.(float64)
	if ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T) %v (int64),\nwant: %v / %v",
		path, val, val, int64(got), want, int64(want))
}

func decodedStringEquals(t *testing.T, json any, path string, want string) {
	t.Helper()
	els := strings.Split(path, "/")
	val, msg := getDecodedPath(json, els...)
	if msg != "" {
		t.Errorf("JSON result%s", msg)
		return
	}
	if got, ok := val.(string); ok {
		if got == want {
			return
		}
	}
	t.Errorf("JSON result/%s == %v (%T), want: %v", path, val, val, want)
}

// getDecodedPath recursively navigates the specified path, returing the requested element.  If
// something goes wrong, the returned string will contain an explanation.
//
// Named path elements require the parent element to be a map[string]any, numbers in square
// brackets require the parent element to be a []any.
//
//     getDecodedPath(o, "users", "[1]", "name")
//
// is equivalent to the JavaScript:
//
//     o.users[1].name
//
func getDecodedPath(o any, path ...string) (any, string) {
	if len(path) == 0 {
		return o, ""
	}
	if o == nil {
		return nil, " is nil"
	}
	key := path[0]
	present := false
	var val any
	if key[0] == '[' {
		// Expecting slice.
		index, err := strconv.Atoi(strings.Trim(key, "[]"))
		if err != nil {
			return nil, "/" + key + " is not a slice index"
		}
		oslice, ok := o.([]any)
		if !ok {
			return nil, " is not a slice"
		}
		if index >= len(oslice) {
			return nil, "/" + key + " is out of bounds"
		}
		val, present = oslice[index], true
	} else {
		// Expecting map.
		omap, ok := o.(map[string]any)
		if !ok {
			return nil, " is not a map"
		}
		val, present = omap[key]
	}
	if !present {
		return nil, "/" + key + " is missing"
	}
	result, msg := getDecodedPath(val, path[1:]...)
	if msg != "" {
		return nil, "/" + key + msg
	}
	return result, ""
}

func jsonDecode(w *httptest.ResponseRecorder, v any) error {
	return json.NewDecoder(w.Body).Decode(v)
}
