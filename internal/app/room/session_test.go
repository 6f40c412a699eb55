package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/giftrank/internal/app/filter"
	"github.com/osa030/giftrank/internal/domain/gift"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recorder struct {
	mu        sync.Mutex
	session   *Session
	snapshots []*Snapshot
}

func (r *recorder) onChange(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, r.session.Snapshot())
}

// folds counts how many times committed session points increased.
func (r *recorder) folds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	var last int64
	for _, s := range r.snapshots {
		if s.Ledger.Session > last {
			n++
		}
		last = s.Ledger.Session
	}
	return n
}

func (r *recorder) all() []*Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Snapshot, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

type fixture struct {
	session *Session
	dir     *fakeDirectory
	dialer  *fakeDialer
	rec     *recorder
}

func newFixture(t *testing.T, cfg Config, chain *filter.Chain) *fixture {
	t.Helper()

	dir := &fakeDirectory{
		catalog: []gift.Info{
			{ID: 1, Name: "star", BasePoint: 1, IsFree: true},
			{ID: 21, Name: "bear", BasePoint: 100, IsFree: false},
		},
		eventErr: errors.New("no event"),
		resolved: map[string]string{},
	}
	dialer := &fakeDialer{}
	rec := &recorder{}

	s := New(cfg, Deps{
		Directory: dir,
		Dialer:    dialer,
		Valuator:  gift.NewValuator(gift.DefaultTable()),
		Filters:   chain,
		OnChange:  rec.onChange,
	})
	rec.session = s
	s.Start()
	t.Cleanup(s.Stop)

	return &fixture{session: s, dir: dir, dialer: dialer, rec: rec}
}

func fastConfig() Config {
	return Config{
		Index:          0,
		Window:         80 * time.Millisecond,
		Settle:         60 * time.Millisecond,
		ReconnectDelay: 40 * time.Millisecond,
		KeepAlive:      time.Hour,
	}
}

func (f *fixture) connectOnline(t *testing.T, roomID string) *fakeStream {
	t.Helper()
	require.NoError(t, f.session.Connect(context.Background(), roomID))
	require.Eventually(t, func() bool {
		return f.session.Snapshot().State == StateOnline
	}, waitFor, tick)
	return f.dialer.latest()
}

func TestSession_GiftValuedFromCatalog(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	stream := f.connectOnline(t, "100")

	stream.frames <- []byte(`{"t":2,"g":21,"n":3,"u":"u1","ac":"alice","av":"5","gt":1}`)

	require.Eventually(t, func() bool {
		return f.session.Snapshot().Ledger.Pending == 795
	}, waitFor, tick)

	snap := f.session.Snapshot()
	assert.Equal(t, 1, snap.Ledger.Combo)
	assert.Equal(t, int64(795), snap.Total())
	require.Len(t, snap.Ledger.Senders, 1)
	assert.Equal(t, "alice", snap.Ledger.Senders[0].Name)
	assert.Equal(t, "room-100", snap.RoomName)
	assert.Equal(t, "key-100", f.dialer.keys[0])
}

func TestSession_AggregationSingleFold(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	stream := f.connectOnline(t, "100")

	for i := 0; i < 3; i++ {
		stream.frames <- []byte(`{"t":2,"g":21,"n":1,"u":"u1","gt":1}`)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		snap := f.session.Snapshot()
		return snap.Ledger.Session == 750 && snap.Ledger.Pending == 0
	}, waitFor, tick)

	// Give any stray timer a chance to fire a second commit.
	time.Sleep(200 * time.Millisecond)

	snap := f.session.Snapshot()
	assert.Equal(t, 1, f.rec.folds())
	assert.Equal(t, int64(750), snap.Ledger.Session)
	assert.Equal(t, 0, snap.Ledger.Combo)
	assert.False(t, snap.Settling)
}

func TestSession_EventDuringSettleRestartsWindow(t *testing.T) {
	cfg := fastConfig()
	cfg.Settle = 300 * time.Millisecond
	f := newFixture(t, cfg, nil)
	stream := f.connectOnline(t, "100")

	stream.frames <- []byte(`{"t":2,"g":21,"n":1,"u":"u1","gt":1}`)
	require.Eventually(t, func() bool {
		return f.session.Snapshot().Settling
	}, waitFor, tick)

	stream.frames <- []byte(`{"t":2,"g":21,"n":1,"u":"u2","gt":1}`)
	require.Eventually(t, func() bool {
		snap := f.session.Snapshot()
		return !snap.Settling && snap.Ledger.Combo == 2
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		return f.session.Snapshot().Ledger.Session == 500
	}, waitFor, tick)
	assert.Equal(t, 1, f.rec.folds())
}

func TestSession_ZeroSettleCommitsAtWindowLapse(t *testing.T) {
	cfg := fastConfig()
	cfg.Settle = 0
	f := newFixture(t, cfg, nil)
	stream := f.connectOnline(t, "100")

	stream.frames <- []byte(`{"t":2,"g":1,"n":10,"u":"u1","gt":2}`)

	require.Eventually(t, func() bool {
		return f.session.Snapshot().Ledger.Session == 12
	}, waitFor, tick)
	for _, s := range f.rec.all() {
		assert.False(t, s.Settling)
	}
}

func TestSession_ConnectSingleFlight(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	gate := make(chan struct{})
	f.dir.set(func(d *fakeDirectory) { d.profileGate = gate })

	ctx := context.Background()
	require.NoError(t, f.session.Connect(ctx, "100"))
	require.NoError(t, f.session.Connect(ctx, "100"))
	require.NoError(t, f.session.Connect(ctx, "100"))

	assert.Equal(t, StateConnecting, f.session.Snapshot().State)

	close(gate)
	require.Eventually(t, func() bool {
		return f.session.Snapshot().State == StateOnline
	}, waitFor, tick)

	require.NoError(t, f.session.Connect(ctx, "100"))
	time.Sleep(50 * time.Millisecond)

	profile, giftList := f.dir.calls()
	assert.Equal(t, 1, profile)
	assert.Equal(t, 1, giftList)
	assert.Equal(t, 1, f.dialer.count())
	assert.Equal(t, StateOnline, f.session.Snapshot().State)
}

func TestSession_DisconnectCancelsHandshake(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	gate := make(chan struct{})
	f.dir.set(func(d *fakeDirectory) { d.profileGate = gate })
	ctx := context.Background()

	require.NoError(t, f.session.Connect(ctx, "100"))
	require.Eventually(t, func() bool {
		now, _ := f.dir.inflight()
		return now == 1
	}, waitFor, tick)

	require.NoError(t, f.session.Disconnect(ctx))
	assert.Equal(t, StateDisconnected, f.session.Snapshot().State)
	require.Eventually(t, func() bool {
		now, _ := f.dir.inflight()
		return now == 0
	}, waitFor, tick, "disconnect must abandon the outstanding handshake")

	require.NoError(t, f.session.Connect(ctx, "100"))
	close(gate)
	require.Eventually(t, func() bool {
		return f.session.Snapshot().State == StateOnline
	}, waitFor, tick)

	_, peak := f.dir.inflight()
	assert.Equal(t, 1, peak)
	assert.Equal(t, 1, f.dialer.count())
}

func TestSession_RapidReconnectKeepsOneHandshake(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	gate := make(chan struct{})
	f.dir.set(func(d *fakeDirectory) { d.profileGate = gate })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.session.Connect(ctx, "100"))
		require.NoError(t, f.session.Disconnect(ctx))
	}
	require.NoError(t, f.session.Connect(ctx, "100"))

	close(gate)
	require.Eventually(t, func() bool {
		return f.session.Snapshot().State == StateOnline
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)

	_, peak := f.dir.inflight()
	assert.LessOrEqual(t, peak, 1)
	assert.Equal(t, 1, f.dialer.count())
	assert.Equal(t, StateOnline, f.session.Snapshot().State)
}

func TestSession_DisconnectCancelsTimersAndFolds(t *testing.T) {
	cfg := fastConfig()
	cfg.Window = 300 * time.Millisecond
	f := newFixture(t, cfg, nil)
	stream := f.connectOnline(t, "100")

	stream.frames <- []byte(`{"t":2,"g":21,"n":1,"u":"u1","gt":1}`)
	require.Eventually(t, func() bool {
		return f.session.Snapshot().Ledger.Pending == 250
	}, waitFor, tick)

	require.NoError(t, f.session.Disconnect(context.Background()))

	snap := f.session.Snapshot()
	assert.Equal(t, StateDisconnected, snap.State)
	assert.Equal(t, int64(0), snap.Ledger.Pending)
	assert.Equal(t, int64(250), snap.Ledger.Session)
	assert.False(t, snap.Settling)
	assert.True(t, stream.isClosed())

	published := f.rec.count()
	time.Sleep(cfg.Window + cfg.Settle + 100*time.Millisecond)

	assert.Equal(t, published, f.rec.count(), "no timer may fire after disconnect")
	assert.Equal(t, 1, f.rec.folds())
}

func TestSession_RetryVisibleAndCancelledByDisconnect(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	f.dir.set(func(d *fakeDirectory) { d.offline = true })

	require.NoError(t, f.session.Connect(context.Background(), "100"))

	require.Eventually(t, func() bool {
		snap := f.session.Snapshot()
		return snap.State == StateRetrying && snap.Attempts >= 2 && !snap.NextRetryAt.IsZero()
	}, waitFor, tick)

	require.NoError(t, f.session.Disconnect(context.Background()))
	attempts := f.session.Snapshot().Attempts

	// Let a handshake started just before the disconnect reach the directory.
	time.Sleep(20 * time.Millisecond)
	profileCalls, _ := f.dir.calls()

	time.Sleep(200 * time.Millisecond)

	snap := f.session.Snapshot()
	assert.Equal(t, StateDisconnected, snap.State)
	assert.True(t, snap.NextRetryAt.IsZero())
	assert.Equal(t, attempts, snap.Attempts)
	after, _ := f.dir.calls()
	assert.Equal(t, profileCalls, after)
}

func TestSession_ConnectFromRetryingReconnects(t *testing.T) {
	cfg := fastConfig()
	cfg.ReconnectDelay = time.Hour
	f := newFixture(t, cfg, nil)
	f.dir.set(func(d *fakeDirectory) { d.offline = true })

	require.NoError(t, f.session.Connect(context.Background(), "100"))
	require.Eventually(t, func() bool {
		return f.session.Snapshot().State == StateRetrying
	}, waitFor, tick)

	f.dir.set(func(d *fakeDirectory) { d.offline = false })
	f.connectOnline(t, "100")

	snap := f.session.Snapshot()
	assert.Equal(t, 0, snap.Attempts)
	assert.True(t, snap.NextRetryAt.IsZero())
}

func TestSession_UpstreamCloseRetries(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	first := f.connectOnline(t, "100")

	first.Close()

	require.Eventually(t, func() bool {
		return f.dialer.count() == 2 && f.session.Snapshot().State == StateOnline
	}, waitFor, tick)

	// Catalog is fetched once per bound room.
	_, giftList := f.dir.calls()
	assert.Equal(t, 1, giftList)
}

func TestSession_Rebinding(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	f.connectOnline(t, "100")

	err := f.session.Connect(context.Background(), "200")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRoomBound))

	require.NoError(t, f.session.Disconnect(context.Background()))
	f.connectOnline(t, "200")

	snap := f.session.Snapshot()
	assert.Equal(t, "200", snap.RoomID)
	_, giftList := f.dir.calls()
	assert.Equal(t, 2, giftList)
}

func TestSession_ConnectIdentifier(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	f.dir.set(func(d *fakeDirectory) {
		d.resolved["https://www.showroom-live.com/r/some_room"] = "321"
	})

	ctx := context.Background()

	err := f.session.Connect(ctx, "  ")
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))

	err = f.session.Connect(ctx, "https://example.com/unknown")
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))
	assert.Equal(t, StateIdle, f.session.Snapshot().State)

	require.NoError(t, f.session.Connect(ctx, "https://www.showroom-live.com/r/some_room"))
	require.Eventually(t, func() bool {
		return f.session.Snapshot().State == StateOnline
	}, waitFor, tick)
	assert.Equal(t, "321", f.session.Snapshot().RoomID)
}

func TestSession_AutoBaseline(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	f.dir.set(func(d *fakeDirectory) {
		d.eventPoints = 5000
		d.eventErr = nil
	})

	f.connectOnline(t, "100")

	require.Eventually(t, func() bool {
		return f.session.Snapshot().Ledger.Initial == 5000
	}, waitFor, tick)
	assert.False(t, f.session.Snapshot().Ledger.InitialSet)
}

func TestSession_OperatorPointsSkipBaseline(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	f.dir.set(func(d *fakeDirectory) {
		d.eventPoints = 5000
		d.eventErr = nil
	})

	ctx := context.Background()
	err := f.session.SetInitialPoints(ctx, -1)
	assert.Error(t, err)

	require.NoError(t, f.session.SetInitialPoints(ctx, 1000))
	f.connectOnline(t, "100")
	time.Sleep(50 * time.Millisecond)

	snap := f.session.Snapshot()
	assert.Equal(t, int64(1000), snap.Ledger.Initial)
	assert.True(t, snap.Ledger.InitialSet)
}

func TestSession_SyncInitialPoints(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	ctx := context.Background()

	_, err := f.session.SyncInitialPoints(ctx)
	assert.True(t, errors.Is(err, ErrNoRoom))

	f.connectOnline(t, "100")
	f.dir.set(func(d *fakeDirectory) {
		d.eventPoints = 4321
		d.eventErr = nil
	})

	points, err := f.session.SyncInitialPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4321), points)
	assert.Equal(t, int64(4321), f.session.Snapshot().Ledger.Initial)
	assert.True(t, f.session.Snapshot().Ledger.InitialSet)
}

func TestSession_Reset(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	stream := f.connectOnline(t, "100")
	ctx := context.Background()

	require.NoError(t, f.session.SetInitialPoints(ctx, 100))
	stream.frames <- []byte(`{"t":2,"g":21,"n":1,"u":"u1","gt":1}`)
	require.Eventually(t, func() bool {
		return f.session.Snapshot().Ledger.Pending == 250
	}, waitFor, tick)

	require.NoError(t, f.session.Reset(ctx))

	snap := f.session.Snapshot()
	assert.Equal(t, StateOnline, snap.State)
	assert.Equal(t, int64(0), snap.Total())
	assert.Empty(t, snap.Ledger.Senders)
	assert.Empty(t, snap.History())
}

func TestSession_ResetDropsLateBaseline(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	gate := make(chan struct{})
	f.dir.set(func(d *fakeDirectory) {
		d.eventGate = gate
		d.eventPoints = 5000
		d.eventErr = nil
	})

	f.connectOnline(t, "100")
	require.Eventually(t, func() bool {
		return f.dir.baselineCalls() == 1
	}, waitFor, tick)

	require.NoError(t, f.session.Reset(context.Background()))
	close(gate)
	time.Sleep(50 * time.Millisecond)

	snap := f.session.Snapshot()
	assert.Equal(t, int64(0), snap.Ledger.Initial)
	assert.False(t, snap.Ledger.InitialSet)
	assert.Equal(t, int64(0), snap.Total())
}

func TestSession_FilterChain(t *testing.T) {
	chain, err := filter.Build(map[string]filter.Setting{
		"upcoming_mode_filter": {Enabled: true},
	})
	require.NoError(t, err)

	f := newFixture(t, fastConfig(), chain)
	stream := f.connectOnline(t, "100")

	stream.frames <- []byte(`{"t":2,"g":1,"n":1,"u":"u1","gt":2}`)
	stream.frames <- []byte(`{"t":2,"g":21,"n":1,"u":"u1","gt":1}`)

	require.Eventually(t, func() bool {
		return f.session.Snapshot().Ledger.Combo == 1
	}, waitFor, tick)
	time.Sleep(30 * time.Millisecond)

	snap := f.session.Snapshot()
	assert.Equal(t, 1, snap.Ledger.Combo)
	assert.Equal(t, int64(250), snap.Ledger.Pending)
}

func TestSession_NonGiftFramesIgnored(t *testing.T) {
	f := newFixture(t, fastConfig(), nil)
	stream := f.connectOnline(t, "100")

	stream.frames <- []byte(`{"t":1,"cm":"hello"}`)
	stream.frames <- []byte(`not json`)
	stream.frames <- []byte(`{"t":2,"g":21,"n":1,"u":"u1","gt":1}`)

	require.Eventually(t, func() bool {
		return f.session.Snapshot().Ledger.Combo == 1
	}, waitFor, tick)
	assert.Equal(t, int64(250), f.session.Snapshot().Ledger.Pending)
}

func TestSession_StopWithoutStart(t *testing.T) {
	s := New(Config{}, Deps{})
	s.Stop()

	err := s.Reset(context.Background())
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "online", StateOnline.String())
	assert.Equal(t, "retrying", StateRetrying.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown", State(99).String())
}
