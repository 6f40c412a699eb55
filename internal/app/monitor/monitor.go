// Package monitor owns the tracked room sessions and the ranking recompute loop.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/giftrank/internal/app/filter"
	"github.com/osa030/giftrank/internal/app/notification"
	"github.com/osa030/giftrank/internal/app/ranking"
	"github.com/osa030/giftrank/internal/app/room"
	"github.com/osa030/giftrank/internal/domain/gift"
	"github.com/osa030/giftrank/internal/infra/config"
)

// Reconnect delay bounds accepted by SetReconnectDelay.
const (
	MinReconnectDelaySec = 1
	MaxReconnectDelaySec = 300
)

var (
	ErrInvalidIndex = errors.New("invalid room index")
	ErrInvalidDelay = errors.New("reconnect delay out of range")
)

// Exporter publishes a recompute result to an external store.
type Exporter interface {
	Export(ctx context.Context, update *notification.Update) error
}

// Recorder observes a recompute result, typically for metrics.
type Recorder interface {
	Observe(update *notification.Update)
}

// Deps holds the collaborators of the monitor.
type Deps struct {
	Directory room.Directory
	Dialer    room.Dialer
	Exporter  Exporter         // Optional
	Recorder  Recorder         // Optional
	Now       func() time.Time // Optional clock
}

// Monitor tracks up to six room sessions against a reference room.
type Monitor struct {
	config *config.Config
	deps   Deps
	id     string

	sessions     []*room.Session
	notification *notification.Manager

	interval      time.Duration
	lookback      time.Duration
	trendShort    time.Duration
	trendLong     time.Duration
	endTime       *time.Time
	exportTimeout time.Duration

	reference atomic.Int32
	frozen    atomic.Bool
	latest    atomic.Pointer[notification.Update]
	changed   chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a monitor from configuration. Start must be called before use.
func New(cfg *config.Config, deps Deps) (*Monitor, error) {
	if deps.Directory == nil || deps.Dialer == nil {
		return nil, errors.New("monitor requires a directory and a dialer")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	windows := cfg.Session.Windows
	if windows < 1 || windows > config.MaxWindows {
		return nil, errors.Newf("session.windows must be between 1 and %d: got %d", config.MaxWindows, windows)
	}

	chain, err := filter.Build(cfg.FilterSettings())
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter chain")
	}
	for _, f := range chain.Filters() {
		zlog.Info().Msgf("filter enabled: name=%s", f.Name())
	}

	endTime, err := cfg.ParseEndTime()
	if err != nil {
		return nil, err
	}

	short, long := cfg.TrendWindows()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		config:        cfg,
		deps:          deps,
		id:            uuid.New().String(),
		notification:  notification.NewManager(),
		interval:      cfg.RankingInterval(),
		lookback:      cfg.VelocityLookback(),
		trendShort:    short,
		trendLong:     long,
		endTime:       endTime,
		exportTimeout: 2 * time.Second,
		changed:       make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	if m.interval <= 0 {
		m.interval = 5 * time.Second
	}
	if m.lookback <= 0 {
		m.lookback = time.Minute
	}

	valuator := gift.NewValuator(cfg.ValuationTable())
	for i := 0; i < windows; i++ {
		m.sessions = append(m.sessions, room.New(room.Config{
			Index:          i,
			Window:         cfg.AggregationWindow(),
			Settle:         cfg.AggregationSettle(),
			ReconnectDelay: cfg.ReconnectDelay(),
			KeepAlive:      cfg.KeepAlive(),
			HistoryWindow:  cfg.HistoryWindow(),
		}, room.Deps{
			Directory: deps.Directory,
			Dialer:    deps.Dialer,
			Valuator:  valuator,
			Filters:   chain,
			OnChange:  m.onChange,
			Now:       deps.Now,
		}))
	}

	reference := cfg.Ranking.Reference
	if reference < 0 || reference >= windows {
		reference = 0
	}
	m.reference.Store(int32(reference))

	return m, nil
}

// Start starts the sessions, connects configured rooms and runs the recompute loop.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		for _, s := range m.sessions {
			s.Start()
		}
		zlog.Info().Msgf("monitor started: monitor_id=%s windows=%d reference=%d", m.id, len(m.sessions), m.Reference())

		for i, identifier := range m.config.Session.Rooms {
			if identifier == "" || i >= len(m.sessions) {
				continue
			}
			if err := m.sessions[i].Connect(ctx, identifier); err != nil {
				zlog.Error().Msgf("failed to connect configured room: index=%d identifier=%s error=%v", i, identifier, err)
			}
		}

		go m.loop()
	})
}

// Close stops the recompute loop and all sessions.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		started := true
		m.startOnce.Do(func() {
			started = false
			close(m.done)
		})
		if started {
			<-m.done
		}
		for _, s := range m.sessions {
			s.Stop()
		}
		m.notification.Close()
		zlog.Info().Msgf("monitor stopped: monitor_id=%s", m.id)
	})
}

// Done returns a channel that is closed when the recompute loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Notifications returns the notification manager that receives every recompute.
func (m *Monitor) Notifications() *notification.Manager {
	return m.notification
}

// Windows returns the number of tracked sessions.
func (m *Monitor) Windows() int {
	return len(m.sessions)
}

// Reference returns the reference index.
func (m *Monitor) Reference() int {
	return int(m.reference.Load())
}

// Frozen reports whether the event has ended and ranking is no longer recomputed.
func (m *Monitor) Frozen() bool {
	return m.frozen.Load()
}

// Overview returns the latest recompute result, computing one if none exists yet.
func (m *Monitor) Overview() *notification.Update {
	if u := m.latest.Load(); u != nil {
		return u
	}
	return m.build(m.deps.Now())
}

// Room returns the latest snapshot of one session and its ranking row, if ranked.
func (m *Monitor) Room(index int) (*room.Snapshot, *ranking.Row, error) {
	s, err := m.session(index)
	if err != nil {
		return nil, nil, err
	}
	snap := s.Snapshot()
	if row, ok := m.Overview().Ranking.Row(index); ok {
		return snap, &row, nil
	}
	return snap, nil, nil
}

// Connect binds a session to a room identifier (numeric id or URL) and connects it.
func (m *Monitor) Connect(ctx context.Context, index int, identifier string) error {
	s, err := m.session(index)
	if err != nil {
		return err
	}
	zlog.Info().Msgf("connect requested: index=%d identifier=%s", index, identifier)
	return s.Connect(ctx, identifier)
}

// Disconnect disconnects a session, keeping its ledger.
func (m *Monitor) Disconnect(ctx context.Context, index int) error {
	s, err := m.session(index)
	if err != nil {
		return err
	}
	zlog.Info().Msgf("disconnect requested: index=%d", index)
	return s.Disconnect(ctx)
}

// SetInitialPoints sets operator-supplied initial points for a session.
func (m *Monitor) SetInitialPoints(ctx context.Context, index int, points int64) error {
	s, err := m.session(index)
	if err != nil {
		return err
	}
	zlog.Info().Msgf("initial points requested: index=%d points=%d", index, points)
	return s.SetInitialPoints(ctx, points)
}

// SyncInitialPoints re-fetches the room's event points and sets them as initial points.
func (m *Monitor) SyncInitialPoints(ctx context.Context, index int) (int64, error) {
	s, err := m.session(index)
	if err != nil {
		return 0, err
	}
	return s.SyncInitialPoints(ctx)
}

// Reset clears a session's points, sender totals and history.
func (m *Monitor) Reset(ctx context.Context, index int) error {
	s, err := m.session(index)
	if err != nil {
		return err
	}
	zlog.Info().Msgf("reset requested: index=%d", index)
	return s.Reset(ctx)
}

// SetReference selects the room every other room is compared against.
func (m *Monitor) SetReference(index int) error {
	if _, err := m.session(index); err != nil {
		return err
	}
	old := m.reference.Swap(int32(index))
	if int(old) != index {
		zlog.Info().Msgf("reference changed: from=%d to=%d", old, index)
		m.onChange(index)
	}
	return nil
}

// SetReconnectDelay changes the reconnection delay of every session.
func (m *Monitor) SetReconnectDelay(ctx context.Context, seconds int) error {
	if seconds < MinReconnectDelaySec || seconds > MaxReconnectDelaySec {
		return errors.Wrapf(ErrInvalidDelay, "got %d seconds, want %d-%d", seconds, MinReconnectDelaySec, MaxReconnectDelaySec)
	}
	delay := time.Duration(seconds) * time.Second
	for _, s := range m.sessions {
		if err := s.SetReconnectDelay(ctx, delay); err != nil {
			return err
		}
	}
	zlog.Info().Msgf("reconnect delay changed: seconds=%d", seconds)
	return nil
}

func (m *Monitor) session(index int) (*room.Session, error) {
	if index < 0 || index >= len(m.sessions) {
		return nil, errors.Wrapf(ErrInvalidIndex, "index %d not in 0-%d", index, len(m.sessions)-1)
	}
	return m.sessions[index], nil
}

// onChange coalesces session change notifications into one pending recompute.
func (m *Monitor) onChange(int) {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

func (m *Monitor) loop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("recompute loop panicked: %v", r)
			// Restart loop so the ranking keeps updating
			go m.loop()
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.recompute()
	for {
		select {
		case <-m.ctx.Done():
			close(m.done)
			return
		case <-ticker.C:
			m.recompute()
		case <-m.changed:
			m.recompute()
		}
	}
}

// recompute builds a new ranking, publishes it and fans it out.
// After the event end time the last result is kept and nothing is recomputed.
func (m *Monitor) recompute() {
	if m.frozen.Load() {
		return
	}

	now := m.deps.Now()
	update := m.build(now)
	update.Frozen = m.endTime != nil && !now.Before(*m.endTime)

	m.notification.Broadcast(update)
	m.latest.Store(update)
	if update.Frozen {
		m.frozen.Store(true)
		zlog.Info().Msgf("event ended, ranking frozen: end_time=%s", m.endTime.Format(time.RFC3339))
	}

	if m.deps.Exporter != nil {
		ctx, cancel := context.WithTimeout(m.ctx, m.exportTimeout)
		if err := m.deps.Exporter.Export(ctx, update); err != nil {
			zlog.Warn().Msgf("ranking export failed: sequence_no=%d error=%v", update.SequenceNo, err)
		}
		cancel()
	}
	if m.deps.Recorder != nil {
		m.deps.Recorder.Observe(update)
	}
}

// build reads every session snapshot and ranks rooms that are bound or hold points.
// The reference room is always ranked.
func (m *Monitor) build(now time.Time) *notification.Update {
	reference := m.Reference()
	snaps := make([]*room.Snapshot, len(m.sessions))
	entries := make([]ranking.Entry, 0, len(m.sessions))
	for i, s := range m.sessions {
		snap := s.Snapshot()
		snaps[i] = snap
		if i != reference && !snap.Bound() && snap.Total() == 0 {
			continue
		}
		entries = append(entries, ranking.Entry{
			Index:    i,
			RoomID:   snap.RoomID,
			RoomName: snap.RoomName,
			Total:    snap.Total(),
			Velocity: snap.Velocity(now, m.lookback),
			Trend:    snap.Trend(now, m.trendShort, m.trendLong),
		})
	}

	return &notification.Update{
		At:      now,
		Ranking: ranking.Compute(entries, reference),
		Rooms:   snaps,
	}
}
