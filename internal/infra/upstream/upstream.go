// Package upstream provides the websocket client for the live comment and gift stream.
package upstream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/giftrank/internal/app/room"
)

// DefaultURL is the public upstream endpoint.
const DefaultURL = "wss://online.showroom-live.com"

// Line protocol prefixes.
const (
	prefixSub  = "SUB\t"
	prefixMsg  = "MSG\t"
	prefixAck  = "ACK"
	prefixErr  = "ERR"
	pingLine   = "PING\tshowroom"
	writeLimit = 5 * time.Second
)

// Dialer opens subscriptions on the upstream websocket.
type Dialer struct {
	url    string
	dialer *websocket.Dialer
}

// NewDialer creates a dialer for the given websocket URL.
func NewDialer(url string, handshakeTimeout time.Duration) *Dialer {
	if url == "" {
		url = DefaultURL
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &Dialer{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial connects and subscribes to the broadcast identified by key.
func (d *Dialer) Dial(ctx context.Context, key string) (room.Stream, error) {
	if key == "" {
		return nil, errors.New("broadcast key is empty")
	}

	ws, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial upstream: url=%s", d.url)
	}

	c := &Conn{ws: ws, key: key}
	if err := c.write(prefixSub + key); err != nil {
		_ = ws.Close()
		return nil, errors.Wrap(err, "failed to subscribe")
	}
	zlog.Debug().Msgf("upstream subscribed: key=%s", shortKey(key))
	return c, nil
}

// Conn is one subscribed upstream connection.
// Next must be called from a single goroutine; Ping and Close may be called concurrently.
type Conn struct {
	ws  *websocket.Conn
	key string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Next blocks until the next MSG payload arrives.
// Control lines (ACK, ERR) and anything else that is not a MSG line are skipped.
func (c *Conn) Next() ([]byte, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, errors.Wrap(err, "upstream read failed")
		}
		if payload, ok := c.parse(string(data)); ok {
			return []byte(payload), nil
		}
	}
}

// parse extracts the JSON payload from a "MSG\t<key>\t<json>" line.
func (c *Conn) parse(line string) (string, bool) {
	switch {
	case strings.HasPrefix(line, prefixMsg):
	case strings.HasPrefix(line, prefixAck), strings.HasPrefix(line, prefixErr):
		zlog.Debug().Msgf("upstream control line: key=%s line=%q", shortKey(c.key), line)
		return "", false
	default:
		return "", false
	}

	rest := strings.TrimPrefix(line, prefixMsg)
	if key, payload, ok := strings.Cut(rest, "\t"); ok {
		if key != c.key {
			return "", false
		}
		return payload, payload != ""
	}
	return "", false
}

// Ping sends the keep-alive line.
func (c *Conn) Ping() error {
	return c.write(pingLine)
}

// Close closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) write(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeLimit)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line))
}

func shortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
