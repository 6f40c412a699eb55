// Package ledger provides the per-room point ledger and sender totals.
package ledger

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/giftrank/internal/domain/gift"
)

// MaxHighValueGifts is the number of high-value gifts kept, newest first.
const MaxHighValueGifts = 50

// ErrInvalidPoints is returned when an operator supplies negative points.
var ErrInvalidPoints = errors.New("points must be a non-negative integer")

// Sender holds cumulative totals for one sender.
type Sender struct {
	ID         string        // Sender user ID
	Name       string        // Last seen display name
	AvatarID   string        // Last seen avatar ID
	Points     int64         // Cumulative points, only increases
	GiftCounts map[int64]int // Gift ID -> count
}

// HighValueGift is one entry of the high-value gift log.
type HighValueGift struct {
	GiftID     int64
	Count      int
	Points     int64
	SenderID   string
	SenderName string
	At         time.Time
}

// GiftLogEntry aggregates one gift ID across senders.
type GiftLogEntry struct {
	GiftID  int64
	Count   int
	Senders map[string]int // Sender ID -> count
}

// View is a detached copy of the ledger state.
type View struct {
	Initial        int64
	InitialSet     bool
	Session        int64
	Pending        int64
	Combo          int
	Total          int64
	Senders        []Sender
	HighValueGifts []HighValueGift
	GiftLog        []GiftLogEntry
}

// Ledger tracks initial, committed and pending points for one room.
// Not safe for concurrent use.
type Ledger struct {
	initial    int64
	initialSet bool
	session    int64
	pending    int64
	combo      int

	senders   map[string]*Sender
	highValue []HighValueGift
	giftLog   map[int64]*GiftLogEntry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		senders: make(map[string]*Sender),
		giftLog: make(map[int64]*GiftLogEntry),
	}
}

// Record adds a valued gift to the pending burst and to the sender totals.
func (l *Ledger) Record(ev gift.Event, points int64, highValue bool, at time.Time) {
	if points < 0 {
		panic(errors.AssertionFailedf("negative points recorded: gift_id=%d points=%d", ev.GiftID, points))
	}

	l.pending += points
	l.combo++

	s, ok := l.senders[ev.SenderID]
	if !ok {
		s = &Sender{ID: ev.SenderID, GiftCounts: make(map[int64]int)}
		l.senders[ev.SenderID] = s
	}
	if ev.SenderName != "" {
		s.Name = ev.SenderName
	}
	if ev.AvatarID != "" {
		s.AvatarID = ev.AvatarID
	}
	s.Points += points
	s.GiftCounts[ev.GiftID] += ev.Count

	entry, ok := l.giftLog[ev.GiftID]
	if !ok {
		entry = &GiftLogEntry{GiftID: ev.GiftID, Senders: make(map[string]int)}
		l.giftLog[ev.GiftID] = entry
	}
	entry.Count += ev.Count
	entry.Senders[ev.SenderID] += ev.Count

	if highValue {
		hv := HighValueGift{
			GiftID:     ev.GiftID,
			Count:      ev.Count,
			Points:     points,
			SenderID:   ev.SenderID,
			SenderName: s.Name,
			At:         at,
		}
		l.highValue = append([]HighValueGift{hv}, l.highValue...)
		if len(l.highValue) > MaxHighValueGifts {
			l.highValue = l.highValue[:MaxHighValueGifts]
		}
	}
}

// Fold moves pending points into session points and ends the burst.
// It returns the number of points folded.
func (l *Ledger) Fold() int64 {
	folded := l.pending
	l.session += l.pending
	l.pending = 0
	l.combo = 0
	return folded
}

// SetInitial sets operator-supplied initial points.
func (l *Ledger) SetInitial(points int64) error {
	if points < 0 {
		return errors.Wrapf(ErrInvalidPoints, "points=%d", points)
	}
	l.initial = points
	l.initialSet = true
	return nil
}

// ApplyBaseline sets initial points from an automatic baseline fetch.
// It is ignored once the operator has set points, when initial is already non-zero,
// or when there is nothing to apply.
func (l *Ledger) ApplyBaseline(points int64) bool {
	if l.initialSet || l.initial != 0 || points <= 0 {
		return false
	}
	l.initial = points
	return true
}

// Reset clears all points, sender totals and gift logs.
func (l *Ledger) Reset() {
	l.initial = 0
	l.initialSet = false
	l.session = 0
	l.pending = 0
	l.combo = 0
	l.senders = make(map[string]*Sender)
	l.highValue = nil
	l.giftLog = make(map[int64]*GiftLogEntry)
}

// Total returns initial + session + pending.
func (l *Ledger) Total() int64 {
	return l.initial + l.session + l.pending
}

// Initial returns the initial points.
func (l *Ledger) Initial() int64 { return l.initial }

// InitialSet reports whether the operator set the initial points.
func (l *Ledger) InitialSet() bool { return l.initialSet }

// Session returns the committed session points.
func (l *Ledger) Session() int64 { return l.session }

// Pending returns the uncommitted points of the current burst.
func (l *Ledger) Pending() int64 { return l.pending }

// Combo returns the number of events in the current burst.
func (l *Ledger) Combo() int { return l.combo }

// Senders returns sender totals sorted by points desc, then ID asc.
func (l *Ledger) Senders() []Sender {
	out := make([]Sender, 0, len(l.senders))
	for _, s := range l.senders {
		c := *s
		c.GiftCounts = make(map[int64]int, len(s.GiftCounts))
		for id, n := range s.GiftCounts {
			c.GiftCounts[id] = n
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// HighValueGifts returns the high-value log, newest first.
func (l *Ledger) HighValueGifts() []HighValueGift {
	out := make([]HighValueGift, len(l.highValue))
	copy(out, l.highValue)
	return out
}

// GiftLog returns the per-gift log sorted by gift ID.
func (l *Ledger) GiftLog() []GiftLogEntry {
	out := make([]GiftLogEntry, 0, len(l.giftLog))
	for _, e := range l.giftLog {
		c := GiftLogEntry{GiftID: e.GiftID, Count: e.Count, Senders: make(map[string]int, len(e.Senders))}
		for id, n := range e.Senders {
			c.Senders[id] = n
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GiftID < out[j].GiftID })
	return out
}

// View returns a detached copy of the whole ledger.
func (l *Ledger) View() View {
	return View{
		Initial:        l.initial,
		InitialSet:     l.initialSet,
		Session:        l.session,
		Pending:        l.pending,
		Combo:          l.combo,
		Total:          l.Total(),
		Senders:        l.Senders(),
		HighValueGifts: l.HighValueGifts(),
		GiftLog:        l.GiftLog(),
	}
}
