package room

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/giftrank/internal/app/filter"
	"github.com/osa030/giftrank/internal/domain/gift"
	"github.com/osa030/giftrank/internal/domain/history"
	"github.com/osa030/giftrank/internal/domain/ledger"
)

// Default timings.
const (
	DefaultWindow           = 5 * time.Second
	DefaultSettle           = 600 * time.Millisecond
	DefaultReconnectDelay   = 5 * time.Second
	DefaultKeepAlive        = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

var errOffline = errors.New("room is not broadcasting")

// Config holds session configuration.
type Config struct {
	Index            int           // Position in the monitor
	Window           time.Duration // Aggregation window, restarted by each gift
	Settle           time.Duration // Settle stage before commit, 0 commits at window lapse
	ReconnectDelay   time.Duration // Delay before a reconnection attempt
	KeepAlive        time.Duration // Upstream ping interval
	HistoryWindow    time.Duration // Trailing history kept for velocity
	HandshakeTimeout time.Duration // Bound on profile, catalog and dial
}

func (c *Config) setDefaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Settle < 0 {
		c.Settle = 0
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = history.DefaultWindow
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// Deps holds the collaborators of a session.
type Deps struct {
	Directory Directory
	Dialer    Dialer
	Valuator  *gift.Valuator
	Filters   *filter.Chain    // Optional
	OnChange  func(index int)  // Called after every published snapshot; must not block
	Now       func() time.Time // Optional clock
}

type op int

const (
	opConnect op = iota
	opDisconnect
	opSetInitial
	opReset
	opSetDelay
)

type command struct {
	op     op
	roomID string
	points int64
	delay  time.Duration
	reply  chan error
}

type handshakeResult struct {
	gen            uint64
	roomID         string
	profile        Profile
	catalog        []gift.Info
	catalogFetched bool
	stream         Stream
	err            error
}

type frameMsg struct {
	gen     uint64
	payload []byte
}

type connLost struct {
	gen uint64
	err error
}

type baselineResult struct {
	epoch  uint64
	roomID string
	points int64
	err    error
}

// Session tracks one room. All mutable state is owned by a single worker goroutine;
// readers use Snapshot.
type Session struct {
	cfg  Config
	deps Deps

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started sync.Once

	cmds  chan command
	inbox chan any
	snap  atomic.Pointer[Snapshot]

	// Worker-owned state
	state             State
	roomID            string
	roomName          string
	master            *gift.Master
	ledger            *ledger.Ledger
	hist              *history.Buffer
	attempts          int
	nextRetryAt       time.Time
	settling          bool
	gen               uint64
	stream            Stream
	baselineRequested bool
	baselineEpoch     uint64
	baselineCancel    context.CancelFunc

	// At most one handshake goroutine runs at a time; each waits for its predecessor.
	handshakeCancel context.CancelFunc
	handshakeDone   chan struct{}

	window    timer
	settle    timer
	retry     timer
	keepAlive *time.Ticker
}

// New creates a session. Start must be called before use.
func New(cfg Config, deps Deps) *Session {
	cfg.setDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Valuator == nil {
		deps.Valuator = gift.NewValuator(gift.DefaultTable())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		cmds:   make(chan command),
		inbox:  make(chan any, 64),
		state:  StateIdle,
		ledger: ledger.New(),
		hist:   history.NewBuffer(cfg.HistoryWindow),
	}
	s.snap.Store(s.buildSnapshot())
	return s
}

// Start starts the worker goroutine.
func (s *Session) Start() {
	s.started.Do(func() {
		go s.run()
	})
}

// Stop stops the worker and closes the upstream connection.
func (s *Session) Stop() {
	s.cancel()
	started := true
	s.started.Do(func() {
		started = false
		close(s.done)
	})
	if started {
		<-s.done
	}
}

// Index returns the session's position in the monitor.
func (s *Session) Index() int {
	return s.cfg.Index
}

// Snapshot returns the latest published snapshot.
func (s *Session) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Connect binds the session to a room and starts connecting.
// The identifier is a numeric room ID or a room URL.
func (s *Session) Connect(ctx context.Context, identifier string) error {
	roomID, err := s.resolve(ctx, identifier)
	if err != nil {
		return err
	}
	return s.do(ctx, command{op: opConnect, roomID: roomID})
}

// Disconnect cancels all timers, closes the upstream and commits pending points.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.do(ctx, command{op: opDisconnect})
}

// SetInitialPoints sets operator-supplied initial points.
func (s *Session) SetInitialPoints(ctx context.Context, points int64) error {
	return s.do(ctx, command{op: opSetInitial, points: points})
}

// Reset clears points, sender totals and history without touching the connection.
func (s *Session) Reset(ctx context.Context) error {
	return s.do(ctx, command{op: opReset})
}

// SetReconnectDelay changes the delay used for the next reconnection attempts.
func (s *Session) SetReconnectDelay(ctx context.Context, delay time.Duration) error {
	return s.do(ctx, command{op: opSetDelay, delay: delay})
}

// SyncInitialPoints fetches the room's current event points and sets them as initial points.
func (s *Session) SyncInitialPoints(ctx context.Context) (int64, error) {
	snap := s.Snapshot()
	if !snap.Bound() {
		return 0, ErrNoRoom
	}

	points, err := s.deps.Directory.EventPoints(ctx, snap.RoomID)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to fetch event points: room_id=%s", snap.RoomID)
	}

	if err := s.do(ctx, command{op: opSetInitial, roomID: snap.RoomID, points: points}); err != nil {
		return 0, err
	}
	return points, nil
}

func (s *Session) resolve(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", errors.Wrap(ErrInvalidIdentifier, "empty identifier")
	}
	if IsNumericID(identifier) {
		return identifier, nil
	}

	roomID, err := s.deps.Directory.ResolveRoomID(ctx, identifier)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidIdentifier, "identifier=%s: %v", identifier, err)
	}
	if !IsNumericID(roomID) {
		return "", errors.Wrapf(ErrInvalidIdentifier, "identifier=%s resolved to %q", identifier, roomID)
	}
	return roomID, nil
}

func (s *Session) do(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)

	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

// post delivers a message to the worker. It returns false once the session is stopped.
func (s *Session) post(msg any) bool {
	select {
	case s.inbox <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) run() {
	defer close(s.done)
	defer s.shutdown()

	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd.reply <- s.handleCommand(cmd)
		case msg := <-s.inbox:
			s.handleMessage(msg)
		case <-s.window.C():
			s.window.fired()
			s.onWindowLapse()
		case <-s.settle.C():
			s.settle.fired()
			s.onSettleLapse()
		case <-s.retry.C():
			s.retry.fired()
			s.onRetry()
		case <-s.keepAliveC():
			s.onKeepAlive()
		}
	}
}

func (s *Session) shutdown() {
	s.cancelHandshake()
	s.cancelBaseline()
	s.window.stop()
	s.settle.stop()
	s.retry.stop()
	s.stopKeepAlive()
	s.closeStream()
}

func (s *Session) handleCommand(cmd command) error {
	switch cmd.op {
	case opConnect:
		return s.connect(cmd.roomID)
	case opDisconnect:
		s.disconnect()
		return nil
	case opSetInitial:
		return s.setInitial(cmd.roomID, cmd.points)
	case opReset:
		s.reset()
		return nil
	case opSetDelay:
		s.cfg.ReconnectDelay = cmd.delay
		zlog.Info().Msgf("reconnect delay changed: index=%d delay=%s", s.cfg.Index, cmd.delay)
		return nil
	default:
		return errors.AssertionFailedf("unknown command: %d", cmd.op)
	}
}

func (s *Session) handleMessage(msg any) {
	switch m := msg.(type) {
	case handshakeResult:
		s.onHandshake(m)
	case frameMsg:
		s.onFrame(m)
	case connLost:
		s.onConnLost(m)
	case baselineResult:
		s.onBaseline(m)
	}
}

func (s *Session) connect(roomID string) error {
	if roomID != s.roomID {
		if s.roomID != "" && !s.state.Rebindable() {
			return errors.Wrapf(ErrRoomBound, "bound=%s requested=%s state=%s", s.roomID, roomID, s.state)
		}
		s.roomID = roomID
		s.roomName = ""
		s.master = nil
		s.baselineRequested = false
	}

	switch s.state {
	case StateConnecting, StateOnline:
		return nil
	case StateRetrying:
		s.retry.stop()
	case StateIdle, StateDisconnected:
		s.attempts = 0
	}

	s.startHandshake()
	s.publish()
	return nil
}

func (s *Session) startHandshake() {
	s.cancelHandshake()
	s.gen++
	gen := s.gen
	roomID := s.roomID
	needCatalog := s.master == nil

	s.state = StateConnecting
	s.nextRetryAt = time.Time{}
	zlog.Info().Msgf("room connecting: index=%d room_id=%s attempt=%d", s.cfg.Index, roomID, s.attempts+1)

	ctx, cancel := context.WithCancel(s.ctx)
	prev := s.handshakeDone
	done := make(chan struct{})
	s.handshakeCancel = cancel
	s.handshakeDone = done

	go func() {
		defer close(done)
		defer cancel()

		res := handshakeResult{gen: gen, roomID: roomID}
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
			}
		}
		if err := ctx.Err(); err != nil {
			res.err = err
			s.post(res)
			return
		}

		hctx, cancelTimeout := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancelTimeout()

		res.profile, res.err = s.deps.Directory.RoomProfile(hctx, roomID)
		if res.err == nil && res.profile.BroadcastKey == "" {
			res.err = errOffline
		}
		if res.err == nil && needCatalog {
			items, err := s.deps.Directory.GiftList(hctx, roomID)
			if err != nil {
				zlog.Warn().Msgf("gift list unavailable, using fallback points: room_id=%s error=%v", roomID, err)
			}
			res.catalog = items
			res.catalogFetched = true
		}
		if res.err == nil {
			res.stream, res.err = s.deps.Dialer.Dial(hctx, res.profile.BroadcastKey)
		}

		if !s.post(res) && res.stream != nil {
			res.stream.Close()
		}
	}()
}

func (s *Session) onHandshake(res handshakeResult) {
	if res.gen != s.gen || s.state != StateConnecting {
		if res.stream != nil {
			res.stream.Close()
		}
		return
	}
	s.handshakeCancel = nil

	if res.profile.Name != "" {
		s.roomName = res.profile.Name
	}
	if res.catalogFetched && s.master == nil {
		s.master = gift.NewMaster(res.roomID, res.catalog)
	}

	if res.err != nil {
		s.enterRetrying(res.err)
		s.publish()
		return
	}

	s.stream = res.stream
	s.state = StateOnline
	s.attempts = 0
	s.nextRetryAt = time.Time{}
	s.retry.stop()
	s.keepAlive = time.NewTicker(s.cfg.KeepAlive)

	go s.readLoop(res.gen, res.stream)

	zlog.Info().Msgf("room online: index=%d room_id=%s name=%s gifts=%d", s.cfg.Index, s.roomID, s.roomName, s.master.Len())

	s.maybeFetchBaseline()
	s.publish()
}

func (s *Session) readLoop(gen uint64, stream Stream) {
	for {
		payload, err := stream.Next()
		if err != nil {
			s.post(connLost{gen: gen, err: err})
			return
		}
		if !s.post(frameMsg{gen: gen, payload: payload}) {
			return
		}
	}
}

func (s *Session) maybeFetchBaseline() {
	if s.baselineRequested || s.ledger.InitialSet() || s.ledger.Initial() != 0 {
		return
	}
	s.baselineRequested = true

	epoch := s.baselineEpoch
	roomID := s.roomID
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	s.baselineCancel = cancel
	go func() {
		defer cancel()

		points, err := s.deps.Directory.EventPoints(ctx, roomID)
		s.post(baselineResult{epoch: epoch, roomID: roomID, points: points, err: err})
	}()
}

// cancelBaseline abandons an outstanding baseline fetch. Its result is dropped when it lands.
func (s *Session) cancelBaseline() {
	s.baselineEpoch++
	if s.baselineCancel != nil {
		s.baselineCancel()
		s.baselineCancel = nil
	}
}

func (s *Session) onBaseline(res baselineResult) {
	if res.epoch != s.baselineEpoch || res.roomID != s.roomID {
		return
	}
	s.baselineCancel = nil
	if res.err != nil {
		zlog.Warn().Msgf("baseline fetch failed: index=%d room_id=%s error=%v", s.cfg.Index, res.roomID, res.err)
		return
	}
	if !s.ledger.ApplyBaseline(res.points) {
		return
	}
	s.hist.Restart(s.deps.Now(), s.ledger.Total())
	zlog.Info().Msgf("baseline applied: index=%d room_id=%s points=%d", s.cfg.Index, res.roomID, res.points)
	s.publish()
}

func (s *Session) onFrame(f frameMsg) {
	if f.gen != s.gen || s.state != StateOnline {
		return
	}
	ev, ok := gift.Decode(f.payload)
	if !ok {
		return
	}
	s.ingest(ev)
}

func (s *Session) ingest(ev gift.Event) {
	if s.deps.Filters != nil {
		if r := s.deps.Filters.Execute(s.ctx, ev); !r.Accepted {
			zlog.Debug().Msgf("gift filtered: index=%d gift_id=%d code=%s", s.cfg.Index, ev.GiftID, r.Code)
			return
		}
	}

	if s.master == nil {
		s.master = gift.NewMaster(s.roomID, nil)
	}
	table := s.deps.Valuator.Table()
	res := s.master.Resolve(ev, table)
	points := s.deps.Valuator.Value(ev.GiftID, ev.Count, res.IsFree, res.BasePoint)

	now := s.deps.Now()
	highValue := table.IsHighValue(points)
	s.ledger.Record(ev, points, highValue, now)
	s.hist.Append(now, s.ledger.Total())

	if highValue {
		zlog.Info().Msgf("high value gift: index=%d room_id=%s gift_id=%d count=%d points=%d sender=%s",
			s.cfg.Index, s.roomID, ev.GiftID, ev.Count, points, ev.SenderName)
	}

	if s.settling {
		s.settle.stop()
		s.settling = false
	}
	s.window.arm(s.cfg.Window)
	s.publish()
}

func (s *Session) onWindowLapse() {
	if s.cfg.Settle > 0 {
		s.settling = true
		s.settle.arm(s.cfg.Settle)
	} else {
		s.commit()
	}
	s.publish()
}

func (s *Session) onSettleLapse() {
	s.settling = false
	s.commit()
	s.publish()
}

func (s *Session) commit() {
	combo := s.ledger.Combo()
	folded := s.ledger.Fold()
	s.hist.Append(s.deps.Now(), s.ledger.Total())
	zlog.Debug().Msgf("burst committed: index=%d points=%d combo=%d session=%d", s.cfg.Index, folded, combo, s.ledger.Session())
}

func (s *Session) onConnLost(m connLost) {
	if m.gen != s.gen || s.state != StateOnline {
		return
	}
	s.dropConnection(m.err)
}

func (s *Session) onKeepAlive() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Ping(); err != nil {
		s.dropConnection(errors.Wrap(err, "keep-alive failed"))
	}
}

func (s *Session) dropConnection(err error) {
	s.cancelHandshake()
	s.gen++
	s.stopKeepAlive()
	s.closeStream()
	s.enterRetrying(err)
	s.publish()
}

func (s *Session) enterRetrying(err error) {
	s.attempts++
	s.nextRetryAt = s.deps.Now().Add(s.cfg.ReconnectDelay)
	s.state = StateRetrying
	s.retry.arm(s.cfg.ReconnectDelay)
	zlog.Warn().Msgf("room connection failed, retrying: index=%d room_id=%s attempts=%d delay=%s error=%v",
		s.cfg.Index, s.roomID, s.attempts, s.cfg.ReconnectDelay, err)
}

func (s *Session) onRetry() {
	if s.state != StateRetrying {
		return
	}
	s.startHandshake()
	s.publish()
}

func (s *Session) disconnect() {
	if s.state == StateIdle || s.state == StateDisconnected {
		return
	}

	s.window.stop()
	s.settle.stop()
	s.retry.stop()
	s.stopKeepAlive()
	s.cancelHandshake()
	s.gen++
	s.closeStream()

	if s.ledger.Pending() > 0 || s.ledger.Combo() > 0 {
		s.commit()
	}
	s.settling = false
	s.nextRetryAt = time.Time{}
	s.state = StateDisconnected

	zlog.Info().Msgf("room disconnected: index=%d room_id=%s total=%d", s.cfg.Index, s.roomID, s.ledger.Total())
	s.publish()
}

func (s *Session) setInitial(expectRoom string, points int64) error {
	if expectRoom != "" && expectRoom != s.roomID {
		return errors.Wrapf(ErrRoomBound, "room changed during sync: expected=%s bound=%s", expectRoom, s.roomID)
	}
	if err := s.ledger.SetInitial(points); err != nil {
		return err
	}
	s.hist.Restart(s.deps.Now(), s.ledger.Total())
	zlog.Info().Msgf("initial points set: index=%d room_id=%s points=%d", s.cfg.Index, s.roomID, points)
	s.publish()
	return nil
}

func (s *Session) reset() {
	s.cancelBaseline()
	s.window.stop()
	s.settle.stop()
	s.settling = false
	s.ledger.Reset()
	s.hist.Clear()
	zlog.Info().Msgf("room reset: index=%d room_id=%s", s.cfg.Index, s.roomID)
	s.publish()
}

func (s *Session) cancelHandshake() {
	if s.handshakeCancel != nil {
		s.handshakeCancel()
		s.handshakeCancel = nil
	}
}

func (s *Session) keepAliveC() <-chan time.Time {
	if s.keepAlive == nil {
		return nil
	}
	return s.keepAlive.C
}

func (s *Session) stopKeepAlive() {
	if s.keepAlive != nil {
		s.keepAlive.Stop()
		s.keepAlive = nil
	}
}

func (s *Session) closeStream() {
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			zlog.Debug().Msgf("upstream close: index=%d error=%v", s.cfg.Index, err)
		}
		s.stream = nil
	}
}

func (s *Session) buildSnapshot() *Snapshot {
	return &Snapshot{
		Index:       s.cfg.Index,
		RoomID:      s.roomID,
		RoomName:    s.roomName,
		State:       s.state,
		Attempts:    s.attempts,
		NextRetryAt: s.nextRetryAt,
		Settling:    s.settling,
		Ledger:      s.ledger.View(),
		UpdatedAt:   s.deps.Now(),
		history:     s.hist.Clone(),
	}
}

func (s *Session) publish() {
	s.snap.Store(s.buildSnapshot())
	if s.deps.OnChange != nil {
		s.deps.OnChange(s.cfg.Index)
	}
}
