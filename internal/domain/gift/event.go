// Package gift provides gift events, the gift master cache and point valuation.
package gift

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Upstream type codes.
const (
	FrameTypeComment = 1 // t=1
	FrameTypeGift    = 2 // t=2

	GiftTypePaid = 1 // gt=1
	GiftTypeFree = 2 // gt=2
)

// Event is the canonical gift event produced at the ingestion boundary.
type Event struct {
	GiftID     int64     // Gift ID
	Count      int       // Number of gifts, always >= 1
	SenderID   string    // Sender user ID
	SenderName string    // Sender display name
	AvatarID   string    // Sender avatar ID
	IsFree     bool      // Derived from the type code (gt == 2)
	Timestamp  time.Time // created_at, zero if absent
}

// rawFrame mirrors the loosely typed upstream gift payload.
// Values arrive as numbers or strings depending on the sender, so decoding is weak.
type rawFrame struct {
	Type      *int   `mapstructure:"t"`
	GiftID    int64  `mapstructure:"g"`
	Count     int    `mapstructure:"n"`
	UserID    string `mapstructure:"u"`
	Name      string `mapstructure:"ac"`
	Avatar    string `mapstructure:"av"`
	GiftType  int    `mapstructure:"gt"`
	CreatedAt int64  `mapstructure:"created_at"`
}

// Decode parses a JSON payload and normalizes it into an Event.
// It returns false for anything that is not a well-formed gift frame.
func Decode(payload []byte) (Event, bool) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return Event{}, false
	}
	return Normalize(m)
}

// Normalize converts a decoded upstream object into an Event.
// A frame is a gift when t == 2, or when t is absent and a gift ID is present.
func Normalize(m map[string]any) (Event, bool) {
	if m == nil {
		return Event{}, false
	}

	var raw rawFrame
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Event{}, false
	}
	if err := decoder.Decode(m); err != nil {
		return Event{}, false
	}

	if raw.Type != nil && *raw.Type != FrameTypeGift {
		return Event{}, false
	}
	if raw.GiftID <= 0 {
		return Event{}, false
	}

	count := raw.Count
	if count < 1 {
		count = 1
	}

	var ts time.Time
	if raw.CreatedAt > 0 {
		ts = time.Unix(raw.CreatedAt, 0)
	}

	return Event{
		GiftID:     raw.GiftID,
		Count:      count,
		SenderID:   raw.UserID,
		SenderName: raw.Name,
		AvatarID:   raw.Avatar,
		IsFree:     raw.GiftType == GiftTypeFree,
		Timestamp:  ts,
	}, true
}
