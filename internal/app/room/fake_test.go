package room

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/osa030/giftrank/internal/domain/gift"
)

type fakeDirectory struct {
	mu sync.Mutex

	profileCalls    int
	profileInflight int
	profilePeak     int
	giftListCalls   int
	profileGate     chan struct{} // When non-nil, RoomProfile blocks until closed or cancelled
	profileErr      error
	offline         bool
	catalog         []gift.Info
	catalogErr      error
	eventCalls      int
	eventGate       chan struct{} // When non-nil, EventPoints blocks until closed
	eventPoints     int64
	eventErr        error
	resolved        map[string]string
}

func (d *fakeDirectory) ResolveRoomID(ctx context.Context, identifier string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.resolved[identifier]; ok {
		return id, nil
	}
	return "", errors.New("room_id not found")
}

func (d *fakeDirectory) RoomProfile(ctx context.Context, roomID string) (Profile, error) {
	d.mu.Lock()
	d.profileCalls++
	d.profileInflight++
	if d.profileInflight > d.profilePeak {
		d.profilePeak = d.profileInflight
	}
	gate := d.profileGate
	err := d.profileErr
	offline := d.offline
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.profileInflight--
		d.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Profile{}, ctx.Err()
		}
	}
	if err != nil {
		return Profile{}, err
	}
	p := Profile{RoomID: roomID, Name: "room-" + roomID}
	if !offline {
		p.BroadcastKey = "key-" + roomID
	}
	return p, nil
}

func (d *fakeDirectory) GiftList(ctx context.Context, roomID string) ([]gift.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.giftListCalls++
	return d.catalog, d.catalogErr
}

func (d *fakeDirectory) EventPoints(ctx context.Context, roomID string) (int64, error) {
	d.mu.Lock()
	d.eventCalls++
	gate := d.eventGate
	d.mu.Unlock()

	// The gate ignores ctx so a late result still reaches the session.
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eventPoints, d.eventErr
}

func (d *fakeDirectory) inflight() (now, peak int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profileInflight, d.profilePeak
}

func (d *fakeDirectory) baselineCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eventCalls
}

func (d *fakeDirectory) calls() (profile, giftList int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profileCalls, d.giftListCalls
}

func (d *fakeDirectory) set(fn func(d *fakeDirectory)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

type fakeStream struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	pings     atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Next() ([]byte, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeStream) Ping() error {
	s.pings.Add(1)
	return nil
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	streams []*fakeStream
	keys    []string
}

func (d *fakeDialer) Dial(ctx context.Context, key string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := newFakeStream()
	d.streams = append(d.streams, s)
	d.keys = append(d.keys, key)
	return s, nil
}

func (d *fakeDialer) latest() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}
