package connect

import "github.com/osa030/giftrank/internal/api/wire"

// GetOverviewRequest requests the latest ranking and all rooms.
type GetOverviewRequest struct{}

// GetOverviewResponse carries the latest recompute result.
type GetOverviewResponse struct {
	Windows   int          `json:"windows"`
	Reference int          `json:"reference"`
	Update    *wire.Update `json:"update"`
}

// GetRoomRequest requests one session.
type GetRoomRequest struct {
	Index int `json:"index"`
}

// GetRoomResponse carries one session and its ranking row, if ranked.
type GetRoomResponse struct {
	Room wire.Room `json:"room"`
	Row  *wire.Row `json:"row,omitempty"`
}

// ConnectRequest binds a session to a room id or URL.
type ConnectRequest struct {
	Index      int    `json:"index"`
	Identifier string `json:"identifier"`
}

// IndexRequest addresses one session.
type IndexRequest struct {
	Index int `json:"index"`
}

// SetInitialPointsRequest sets operator-supplied initial points.
type SetInitialPointsRequest struct {
	Index  int   `json:"index"`
	Points int64 `json:"points"`
}

// SetReconnectDelayRequest sets the reconnect delay of every session.
type SetReconnectDelayRequest struct {
	Seconds int `json:"seconds"`
}

// ControlResponse is returned by every control procedure.
type ControlResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Points  *int64     `json:"points,omitempty"`
	Room    *wire.Room `json:"room,omitempty"`
}
