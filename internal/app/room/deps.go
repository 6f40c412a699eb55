package room

import (
	"context"
	"regexp"

	"github.com/osa030/giftrank/internal/domain/gift"
)

// Profile is the connection information of a room.
type Profile struct {
	RoomID       string
	Name         string
	BroadcastKey string // Empty when the room is not live
}

// Directory looks up rooms, catalogs and baselines.
type Directory interface {
	ResolveRoomID(ctx context.Context, identifier string) (string, error)
	RoomProfile(ctx context.Context, roomID string) (Profile, error)
	GiftList(ctx context.Context, roomID string) ([]gift.Info, error)
	EventPoints(ctx context.Context, roomID string) (int64, error)
}

// Stream is an open upstream subscription.
type Stream interface {
	// Next blocks until the next gift payload arrives.
	Next() ([]byte, error)
	// Ping sends a keep-alive.
	Ping() error
	Close() error
}

// Dialer opens upstream subscriptions.
type Dialer interface {
	Dial(ctx context.Context, broadcastKey string) (Stream, error)
}

var numericID = regexp.MustCompile(`^\d+$`)

// IsNumericID reports whether the identifier can be used as a room ID directly.
func IsNumericID(identifier string) bool {
	return numericID.MatchString(identifier)
}
