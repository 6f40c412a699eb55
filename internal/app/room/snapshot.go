package room

import (
	"time"

	"github.com/osa030/giftrank/internal/domain/history"
	"github.com/osa030/giftrank/internal/domain/ledger"
)

// Snapshot is an immutable view of a room session, published after every mutation.
type Snapshot struct {
	Index       int
	RoomID      string
	RoomName    string
	State       State
	Attempts    int       // Consecutive failed connection attempts
	NextRetryAt time.Time // Zero unless retrying
	Settling    bool      // Burst is about to be committed
	Ledger      ledger.View
	UpdatedAt   time.Time

	history *history.Buffer
}

// Total returns the room's total points.
func (s *Snapshot) Total() int64 {
	return s.Ledger.Total
}

// Bound reports whether a room is bound to the session.
func (s *Snapshot) Bound() bool {
	return s.RoomID != ""
}

// Velocity returns points per minute over the lookback ending at now.
func (s *Snapshot) Velocity(now time.Time, lookback time.Duration) int64 {
	if s.history == nil {
		return 0
	}
	return s.history.Velocity(now, s.Ledger.Total, lookback)
}

// Trend returns the short/long velocity comparison.
func (s *Snapshot) Trend(now time.Time, short, long time.Duration) history.Trend {
	if s.history == nil {
		return history.Trend{}
	}
	return s.history.Trend(now, s.Ledger.Total, short, long)
}

// History returns the samples backing the velocity estimate.
func (s *Snapshot) History() []history.Sample {
	if s.history == nil {
		return nil
	}
	return s.history.Samples()
}
