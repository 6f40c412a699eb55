package connect

import (
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/osa030/giftrank/internal/api/wire"
)

// Connect binds a session to a room and starts the connection.
func (s *MonitorService) Connect(
	ctx context.Context,
	req *connect.Request[ConnectRequest],
) (*connect.Response[ControlResponse], error) {
	if err := s.monitor.Connect(ctx, req.Msg.Index, req.Msg.Identifier); err != nil {
		return nil, toConnectError(err)
	}
	return s.controlResponse(req.Msg.Index, "Connecting"), nil
}

// Disconnect disconnects a session.
func (s *MonitorService) Disconnect(
	ctx context.Context,
	req *connect.Request[IndexRequest],
) (*connect.Response[ControlResponse], error) {
	if err := s.monitor.Disconnect(ctx, req.Msg.Index); err != nil {
		return nil, toConnectError(err)
	}
	return s.controlResponse(req.Msg.Index, "Disconnected"), nil
}

// SetInitialPoints sets operator-supplied initial points.
func (s *MonitorService) SetInitialPoints(
	ctx context.Context,
	req *connect.Request[SetInitialPointsRequest],
) (*connect.Response[ControlResponse], error) {
	if err := s.monitor.SetInitialPoints(ctx, req.Msg.Index, req.Msg.Points); err != nil {
		return nil, toConnectError(err)
	}
	return s.controlResponse(req.Msg.Index, fmt.Sprintf("Initial points set to %d", req.Msg.Points)), nil
}

// SyncInitialPoints re-fetches event points and sets them as initial points.
func (s *MonitorService) SyncInitialPoints(
	ctx context.Context,
	req *connect.Request[IndexRequest],
) (*connect.Response[ControlResponse], error) {
	points, err := s.monitor.SyncInitialPoints(ctx, req.Msg.Index)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := s.controlResponse(req.Msg.Index, fmt.Sprintf("Initial points synced to %d", points))
	resp.Msg.Points = &points
	return resp, nil
}

// Reset clears a session's points and history.
func (s *MonitorService) Reset(
	ctx context.Context,
	req *connect.Request[IndexRequest],
) (*connect.Response[ControlResponse], error) {
	if err := s.monitor.Reset(ctx, req.Msg.Index); err != nil {
		return nil, toConnectError(err)
	}
	return s.controlResponse(req.Msg.Index, "Reset"), nil
}

// SetReference selects the reference room.
func (s *MonitorService) SetReference(
	ctx context.Context,
	req *connect.Request[IndexRequest],
) (*connect.Response[ControlResponse], error) {
	if err := s.monitor.SetReference(req.Msg.Index); err != nil {
		return nil, toConnectError(err)
	}
	return s.controlResponse(req.Msg.Index, fmt.Sprintf("Reference set to %d", req.Msg.Index)), nil
}

// SetReconnectDelay sets the reconnect delay of every session.
func (s *MonitorService) SetReconnectDelay(
	ctx context.Context,
	req *connect.Request[SetReconnectDelayRequest],
) (*connect.Response[ControlResponse], error) {
	if err := s.monitor.SetReconnectDelay(ctx, req.Msg.Seconds); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ControlResponse{
		Success: true,
		Message: fmt.Sprintf("Reconnect delay set to %ds", req.Msg.Seconds),
	}), nil
}

func (s *MonitorService) controlResponse(index int, message string) *connect.Response[ControlResponse] {
	resp := &ControlResponse{Success: true, Message: message}
	if snap, _, err := s.monitor.Room(index); err == nil {
		r := wire.FromSnapshot(snap)
		resp.Room = &r
	}
	return connect.NewResponse(resp)
}
