package gift

import (
	zlog "github.com/rs/zerolog/log"
)

// Info is one catalog entry.
type Info struct {
	ID        int64  // Gift ID
	Name      string // Gift name
	BasePoint int64  // Base point, >= 0
	IsFree    bool   // Free gift flag
}

// Resolution is the outcome of a master lookup.
type Resolution struct {
	BasePoint int64
	IsFree    bool
	Known     bool // false when the static fallback was used
}

// Master is the per-room gift catalog cache.
// It is owned by a single room worker and is not safe for concurrent use.
type Master struct {
	roomID  string
	entries map[int64]Info
	warned  map[int64]struct{}
}

// NewMaster creates a master from catalog entries. A nil or empty list
// yields an empty master where every lookup falls back to the static table.
func NewMaster(roomID string, items []Info) *Master {
	m := &Master{
		roomID:  roomID,
		entries: make(map[int64]Info, len(items)),
		warned:  make(map[int64]struct{}),
	}
	for _, it := range items {
		if it.BasePoint < 0 {
			it.BasePoint = 0
		}
		m.entries[it.ID] = it
	}
	return m
}

// RoomID returns the room the catalog belongs to.
func (m *Master) RoomID() string {
	return m.roomID
}

// Len returns the number of catalog entries.
func (m *Master) Len() int {
	return len(m.entries)
}

// Lookup returns the catalog entry for a gift.
func (m *Master) Lookup(giftID int64) (Info, bool) {
	info, ok := m.entries[giftID]
	return info, ok
}

// Resolve returns base point and free flag for an event.
// Unknown gifts use the table's fallback base point and the event's own type code;
// a warning is logged the first time each unknown gift is seen.
func (m *Master) Resolve(ev Event, table Table) Resolution {
	if info, ok := m.entries[ev.GiftID]; ok {
		return Resolution{BasePoint: info.BasePoint, IsFree: info.IsFree, Known: true}
	}

	if _, seen := m.warned[ev.GiftID]; !seen {
		m.warned[ev.GiftID] = struct{}{}
		zlog.Warn().Msgf("gift not in master data: room_id=%s gift_id=%d fallback_point=%d", m.roomID, ev.GiftID, table.FallbackBasePoint(ev.GiftID))
	}

	return Resolution{
		BasePoint: table.FallbackBasePoint(ev.GiftID),
		IsFree:    ev.IsFree,
		Known:     false,
	}
}
