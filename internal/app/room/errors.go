package room

import "github.com/cockroachdb/errors"

// Errors
var (
	ErrInvalidIdentifier = errors.New("room identifier could not be resolved")
	ErrRoomBound         = errors.New("session is bound to another room; disconnect first")
	ErrNoRoom            = errors.New("no room bound to session")
	ErrStopped           = errors.New("session stopped")
)
