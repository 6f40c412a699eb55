package monitor

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/giftrank/internal/app/notification"
	"github.com/osa030/giftrank/internal/app/room"
	"github.com/osa030/giftrank/internal/domain/gift"
)

type fakeDirectory struct {
	mu          sync.Mutex
	eventPoints map[string]int64
	catalog     []gift.Info
}

func (d *fakeDirectory) ResolveRoomID(ctx context.Context, identifier string) (string, error) {
	if i := strings.LastIndex(identifier, "room_id="); i >= 0 {
		return identifier[i+len("room_id="):], nil
	}
	return "", errors.New("room_id not found")
}

func (d *fakeDirectory) RoomProfile(ctx context.Context, roomID string) (room.Profile, error) {
	return room.Profile{RoomID: roomID, Name: "room-" + roomID, BroadcastKey: "key-" + roomID}, nil
}

func (d *fakeDirectory) GiftList(ctx context.Context, roomID string) ([]gift.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.catalog, nil
}

func (d *fakeDirectory) EventPoints(ctx context.Context, roomID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.eventPoints[roomID]
	if !ok {
		return 0, errors.New("not in an event")
	}
	return p, nil
}

type fakeStream struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *fakeStream) Next() ([]byte, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeStream) Ping() error { return nil }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
}

func (d *fakeDialer) Dial(ctx context.Context, key string) (room.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streams == nil {
		d.streams = make(map[string]*fakeStream)
	}
	s := &fakeStream{frames: make(chan []byte, 16), closed: make(chan struct{})}
	d.streams[key] = s
	return s, nil
}

func (d *fakeDialer) stream(key string) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[key]
}

type fakeExporter struct {
	mu      sync.Mutex
	exports int
}

func (e *fakeExporter) Export(ctx context.Context, update *notification.Update) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exports++
	return nil
}

func (e *fakeExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exports
}

type fakeRecorder struct {
	mu   sync.Mutex
	last *notification.Update
}

func (r *fakeRecorder) Observe(update *notification.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = update
}

func (r *fakeRecorder) latest() *notification.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type captureStream struct {
	mu      sync.Mutex
	updates []*notification.Update
}

func (c *captureStream) Send(u *notification.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
	return nil
}

func (c *captureStream) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}
