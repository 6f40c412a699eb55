// Package wire defines the JSON shapes shared by the RPC service and the push stream.
package wire

import (
	"time"

	"github.com/osa030/giftrank/internal/app/notification"
	"github.com/osa030/giftrank/internal/app/ranking"
	"github.com/osa030/giftrank/internal/app/room"
	"github.com/osa030/giftrank/internal/domain/history"
	"github.com/osa030/giftrank/internal/domain/ledger"
)

// Update is one recompute result.
type Update struct {
	SequenceNo uint64    `json:"sequence_no"`
	At         time.Time `json:"at"`
	Frozen     bool      `json:"frozen"`
	Ranking    Ranking   `json:"ranking"`
	Rooms      []Room    `json:"rooms"`
}

// Ranking is the comparator output.
type Ranking struct {
	ReferenceIndex int   `json:"reference_index"`
	Alert          Alert `json:"alert"`
	Rows           []Row `json:"rows"`
}

// Alert is the top-level alert.
type Alert struct {
	Kind    string  `json:"kind"`
	Level   string  `json:"level"`
	Index   int     `json:"index"`
	Rank    int     `json:"rank,omitempty"`
	Minutes int     `json:"minutes,omitempty"`
	Ratio   float64 `json:"ratio,omitempty"`
	Message string  `json:"message"`
}

// Row is one ranked room.
type Row struct {
	Index            int      `json:"index"`
	RoomID           string   `json:"room_id"`
	RoomName         string   `json:"room_name"`
	Rank             int      `json:"rank"`
	Total            int64    `json:"total"`
	Velocity         int64    `json:"velocity"`
	Gap              int64    `json:"gap"`
	IsReference      bool     `json:"is_reference"`
	Prediction       string   `json:"prediction"`
	PredictedMinutes *float64 `json:"predicted_minutes,omitempty"`
	Danger           string   `json:"danger"`
	Trend            Trend    `json:"trend"`
}

// Trend compares short and long velocities.
type Trend struct {
	Current  int64   `json:"current"`
	Baseline int64   `json:"baseline"`
	Ratio    float64 `json:"ratio"`
	Abnormal bool    `json:"abnormal"`
}

// Room is the state of one session.
type Room struct {
	Index          int             `json:"index"`
	RoomID         string          `json:"room_id"`
	RoomName       string          `json:"room_name"`
	State          string          `json:"state"`
	Attempts       int             `json:"attempts"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	Settling       bool            `json:"settling"`
	InitialPoints  int64           `json:"initial_points"`
	InitialSet     bool            `json:"initial_set"`
	SessionPoints  int64           `json:"session_points"`
	PendingPoints  int64           `json:"pending_points"`
	Combo          int             `json:"combo"`
	Total          int64           `json:"total"`
	Senders        []Sender        `json:"senders"`
	HighValueGifts []HighValueGift `json:"high_value_gifts"`
	GiftLog        []GiftLogEntry  `json:"gift_log"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Sender is a sender's cumulative contribution.
type Sender struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	AvatarID   string        `json:"avatar_id,omitempty"`
	Points     int64         `json:"points"`
	GiftCounts map[int64]int `json:"gift_counts,omitempty"`
}

// HighValueGift is one gift at or above the high-value threshold.
type HighValueGift struct {
	GiftID     int64     `json:"gift_id"`
	Count      int       `json:"count"`
	Points     int64     `json:"points"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	At         time.Time `json:"at"`
}

// GiftLogEntry aggregates counts of one gift id.
type GiftLogEntry struct {
	GiftID  int64          `json:"gift_id"`
	Count   int            `json:"count"`
	Senders map[string]int `json:"senders"`
}

// FromUpdate converts a recompute result.
func FromUpdate(u *notification.Update) *Update {
	out := &Update{
		SequenceNo: u.SequenceNo,
		At:         u.At,
		Frozen:     u.Frozen,
		Ranking:    FromRanking(u.Ranking),
		Rooms:      make([]Room, 0, len(u.Rooms)),
	}
	for _, snap := range u.Rooms {
		out.Rooms = append(out.Rooms, FromSnapshot(snap))
	}
	return out
}

// FromRanking converts a comparator result.
func FromRanking(r ranking.Result) Ranking {
	out := Ranking{
		ReferenceIndex: r.ReferenceIndex,
		Alert: Alert{
			Kind:    r.Alert.Kind.String(),
			Level:   r.Alert.Level.String(),
			Index:   r.Alert.Index,
			Rank:    r.Alert.Rank,
			Minutes: r.Alert.Minutes,
			Ratio:   r.Alert.Ratio,
			Message: r.Alert.Message,
		},
		Rows: make([]Row, 0, len(r.Rows)),
	}
	for _, row := range r.Rows {
		out.Rows = append(out.Rows, FromRow(row))
	}
	return out
}

// FromRow converts one ranking row.
func FromRow(r ranking.Row) Row {
	return Row{
		Index:            r.Index,
		RoomID:           r.RoomID,
		RoomName:         r.RoomName,
		Rank:             r.Rank,
		Total:            r.Total,
		Velocity:         r.Velocity,
		Gap:              r.Gap,
		IsReference:      r.IsReference,
		Prediction:       r.Prediction.String(),
		PredictedMinutes: r.PredictedMinutes,
		Danger:           r.Danger.String(),
		Trend:            fromTrend(r.Trend),
	}
}

// FromSnapshot converts a session snapshot.
func FromSnapshot(s *room.Snapshot) Room {
	out := Room{
		Index:          s.Index,
		RoomID:         s.RoomID,
		RoomName:       s.RoomName,
		State:          s.State.String(),
		Attempts:       s.Attempts,
		Settling:       s.Settling,
		InitialPoints:  s.Ledger.Initial,
		InitialSet:     s.Ledger.InitialSet,
		SessionPoints:  s.Ledger.Session,
		PendingPoints:  s.Ledger.Pending,
		Combo:          s.Ledger.Combo,
		Total:          s.Ledger.Total,
		Senders:        fromSenders(s.Ledger.Senders),
		HighValueGifts: fromHighValueGifts(s.Ledger.HighValueGifts),
		GiftLog:        fromGiftLog(s.Ledger.GiftLog),
		UpdatedAt:      s.UpdatedAt,
	}
	if !s.NextRetryAt.IsZero() {
		t := s.NextRetryAt
		out.NextRetryAt = &t
	}
	return out
}

func fromTrend(t history.Trend) Trend {
	return Trend{Current: t.Current, Baseline: t.Baseline, Ratio: t.Ratio, Abnormal: t.Abnormal}
}

func fromSenders(in []ledger.Sender) []Sender {
	out := make([]Sender, 0, len(in))
	for _, s := range in {
		out = append(out, Sender{
			ID:         s.ID,
			Name:       s.Name,
			AvatarID:   s.AvatarID,
			Points:     s.Points,
			GiftCounts: s.GiftCounts,
		})
	}
	return out
}

func fromHighValueGifts(in []ledger.HighValueGift) []HighValueGift {
	out := make([]HighValueGift, 0, len(in))
	for _, g := range in {
		out = append(out, HighValueGift(g))
	}
	return out
}

func fromGiftLog(in []ledger.GiftLogEntry) []GiftLogEntry {
	out := make([]GiftLogEntry, 0, len(in))
	for _, e := range in {
		out = append(out, GiftLogEntry(e))
	}
	return out
}
