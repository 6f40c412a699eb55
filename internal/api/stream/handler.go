// Package stream pushes ranking updates to renderers over a websocket.
package stream

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/giftrank/internal/api/wire"
	"github.com/osa030/giftrank/internal/app/notification"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 20 * time.Second
)

var errSlowClient = errors.New("client send buffer full")

// Source provides updates to push.
type Source interface {
	Overview() *notification.Update
	Notifications() *notification.Manager
	Done() <-chan struct{}
}

// Handler upgrades GET requests and streams every update as JSON.
type Handler struct {
	source   Source
	upgrader websocket.Upgrader
}

// NewHandler creates a push handler.
func NewHandler(source Source) *Handler {
	return &Handler{
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Debug().Msgf("ws upgrade failed: remote=%s error=%v", r.RemoteAddr, err)
		return
	}

	remote := r.RemoteAddr
	zlog.Info().Msgf("ws connect: remote=%s", remote)

	c := newClient(conn)
	// Initial state first, so a renderer never waits a full interval.
	if err := c.Send(h.source.Overview()); err != nil {
		zlog.Debug().Msgf("ws initial send failed: remote=%s error=%v", remote, err)
	}

	notifications := h.source.Notifications()
	id := notifications.Subscribe(c)
	defer func() {
		notifications.Unsubscribe(id)
		c.close()
		zlog.Info().Msgf("ws disconnect: remote=%s", remote)
	}()

	go c.writePump(h.source.Done())

	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			zlog.Debug().Msgf("ws read closed: remote=%s error=%v", remote, err)
			return
		}
	}
}

// client adapts a websocket connection to notification.Stream.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

var _ notification.Stream = (*client)(nil)

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues an update without blocking the broadcaster.
func (c *client) Send(update *notification.Update) error {
	b, err := json.Marshal(wire.FromUpdate(update))
	if err != nil {
		return errors.Wrap(err, "failed to marshal update")
	}
	select {
	case <-c.done:
		return net.ErrClosed
	case c.send <- b:
		return nil
	default:
		return errSlowClient
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writePump(stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case <-stop:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				zlog.Debug().Msgf("ws write failed: error=%v", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				zlog.Debug().Msgf("ws ping failed: error=%v", err)
				return
			}
		}
	}
}
