package rest

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/inbucket/mailsync/pkg/extension/event"
	"github.com/inbucket/mailsync/pkg/msghub"
	"github.com/inbucket/mailsync/pkg/rest/model"
	"github.com/inbucket/mailsync/pkg/server/web"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Events buffered per socket before it is considered too slow and dropped.
	listenerQueueLen = 100
)

// errSlowListener unregisters a socket whose queue is full.
var errSlowListener = errors.New("websocket listener queue full")

// options for gorilla connection upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// eventListener handles events from the msghub.
type eventListener struct {
	hub      *msghub.Hub
	c        chan event.CacheEvent // Queue of events from Receive()
	resource event.Resource        // Resource to monitor, "" == all resources
	once     sync.Once
}

// newEventListener creates a listener and registers it.  Optional resource parameter will
// restrict events sent to the WebSocket to that resource, plus whole-cache clears.
func newEventListener(hub *msghub.Hub, resource event.Resource) *eventListener {
	el := &eventListener{
		hub:      hub,
		c:        make(chan event.CacheEvent, listenerQueueLen),
		resource: resource,
	}
	hub.AddListener(el)
	return el
}

// Receive handles an incoming event.  Returning an error unregisters the listener, which happens
// when the socket falls too far behind.
func (el *eventListener) Receive(e event.CacheEvent) error {
	if el.resource != "" && e.Resource != el.resource && e.Resource != event.ResourceAll {
		// Did not match resource
		return nil
	}
	select {
	case el.c <- e:
		return nil
	default:
		return errSlowListener
	}
}

// WSReader makes sure the websocket client is still connected, discards any messages from client
func (el *eventListener) WSReader(conn *websocket.Conn) {
	slog := log.With().Str("module", "rest").Str("proto", "WebSocket").
		Str("remote", conn.RemoteAddr().String()).Logger()
	defer el.Close()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		slog.Debug().Msg("Got pong")
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				// Unexpected close code
				slog.Warn().Err(err).Msg("Socket error")
			} else {
				slog.Debug().Msg("Closing socket")
			}
			break
		}
	}
}

// WSWriter relays events to the websocket client and keeps the connection alive.
func (el *eventListener) WSWriter(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		el.Close()
	}()

	// Handle events from hub until the reader exits
	for {
		select {
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case e := <-el.c:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if conn.WriteJSON(cacheEventV1(e)) != nil {
				// Write failed
				return
			}
		case <-ticker.C:
			// Send ping
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if conn.WriteMessage(websocket.PingMessage, []byte{}) != nil {
				// Write error
				return
			}
			log.Debug().Str("module", "rest").Str("proto", "WebSocket").
				Str("remote", conn.RemoteAddr().String()).Msg("Sent ping")
		}
	}
}

// Close removes the listener registration.  It is safe to call more than once.
func (el *eventListener) Close() {
	el.once.Do(func() {
		el.hub.RemoveListener(el)
	})
}

// MonitorCacheV1 is a web handler which upgrades the connection to a websocket and notifies the
// client of changes to the query cache.  The optional resource query parameter limits events to
// labels, page or detail.
func MonitorCacheV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) (err error) {
	resource := event.Resource(req.URL.Query().Get("resource"))
	switch resource {
	case "", event.ResourceLabels, event.ResourcePage, event.ResourceDetail:
	default:
		return web.RenderError(w, http.StatusBadRequest,
			web.ErrorBody{Error: "unknown resource " + string(resource)})
	}
	// Upgrade to Websocket.
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Debug().Str("module", "rest").Str("proto", "WebSocket").Err(err).
			Msg("WebSocket upgrade failed")
		return nil
	}
	web.ExpWebSocketConnectsCurrent.Add(1)
	defer func() {
		_ = conn.Close()
		web.ExpWebSocketConnectsCurrent.Add(-1)
	}()
	log.Debug().Str("module", "rest").Str("proto", "WebSocket").
		Str("remote", conn.RemoteAddr().String()).Msg("Upgraded to WebSocket")
	// Create, register listener; then interact with conn.
	el := newEventListener(ctx.MsgHub, resource)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		el.WSWriter(conn, done)
		close(writerDone)
	}()
	el.WSReader(conn)
	close(done)
	<-writerDone
	return nil
}

func cacheEventV1(e event.CacheEvent) *model.JSONCacheEventV1 {
	return &model.JSONCacheEventV1{
		Op:          string(e.Op),
		Resource:    string(e.Resource),
		Key:         e.Key,
		Mutation:    e.Mutation,
		At:          e.At,
		PosixMillis: e.At.UnixNano() / 1000000,
	}
}
