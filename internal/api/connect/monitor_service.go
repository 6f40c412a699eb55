package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/giftrank/internal/api/wire"
	"github.com/osa030/giftrank/internal/app/monitor"
	"github.com/osa030/giftrank/internal/app/notification"
	"github.com/osa030/giftrank/internal/app/ranking"
	"github.com/osa030/giftrank/internal/app/room"
	"github.com/osa030/giftrank/internal/domain/ledger"
)

// ServiceName is the fully-qualified name of the monitor service.
const ServiceName = "giftrank.v1.MonitorService"

// Procedure paths.
const (
	GetOverviewProcedure       = "/" + ServiceName + "/GetOverview"
	GetRoomProcedure           = "/" + ServiceName + "/GetRoom"
	ConnectProcedure           = "/" + ServiceName + "/Connect"
	DisconnectProcedure        = "/" + ServiceName + "/Disconnect"
	SetInitialPointsProcedure  = "/" + ServiceName + "/SetInitialPoints"
	SyncInitialPointsProcedure = "/" + ServiceName + "/SyncInitialPoints"
	ResetProcedure             = "/" + ServiceName + "/Reset"
	SetReferenceProcedure      = "/" + ServiceName + "/SetReference"
	SetReconnectDelayProcedure = "/" + ServiceName + "/SetReconnectDelay"
)

// Monitor is the part of the monitor the service drives.
type Monitor interface {
	Windows() int
	Reference() int
	Overview() *notification.Update
	Room(index int) (*room.Snapshot, *ranking.Row, error)
	Connect(ctx context.Context, index int, identifier string) error
	Disconnect(ctx context.Context, index int) error
	SetInitialPoints(ctx context.Context, index int, points int64) error
	SyncInitialPoints(ctx context.Context, index int) (int64, error)
	Reset(ctx context.Context, index int) error
	SetReference(index int) error
	SetReconnectDelay(ctx context.Context, seconds int) error
}

var _ Monitor = (*monitor.Monitor)(nil)

// MonitorService implements the MonitorService RPC.
type MonitorService struct {
	monitor Monitor
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(m Monitor) *MonitorService {
	return &MonitorService{monitor: m}
}

// NewMonitorServiceHandler builds the HTTP handler for every procedure. adminOpts apply
// to control procedures only.
func NewMonitorServiceHandler(svc *MonitorService, adminOpts ...connect.HandlerOption) (string, http.Handler) {
	readOpts := []connect.HandlerOption{WithJSONCodec()}
	controlOpts := append([]connect.HandlerOption{WithJSONCodec()}, adminOpts...)

	mux := http.NewServeMux()
	mux.Handle(GetOverviewProcedure, connect.NewUnaryHandler(GetOverviewProcedure, svc.GetOverview, readOpts...))
	mux.Handle(GetRoomProcedure, connect.NewUnaryHandler(GetRoomProcedure, svc.GetRoom, readOpts...))
	mux.Handle(ConnectProcedure, connect.NewUnaryHandler(ConnectProcedure, svc.Connect, controlOpts...))
	mux.Handle(DisconnectProcedure, connect.NewUnaryHandler(DisconnectProcedure, svc.Disconnect, controlOpts...))
	mux.Handle(SetInitialPointsProcedure, connect.NewUnaryHandler(SetInitialPointsProcedure, svc.SetInitialPoints, controlOpts...))
	mux.Handle(SyncInitialPointsProcedure, connect.NewUnaryHandler(SyncInitialPointsProcedure, svc.SyncInitialPoints, controlOpts...))
	mux.Handle(ResetProcedure, connect.NewUnaryHandler(ResetProcedure, svc.Reset, controlOpts...))
	mux.Handle(SetReferenceProcedure, connect.NewUnaryHandler(SetReferenceProcedure, svc.SetReference, controlOpts...))
	mux.Handle(SetReconnectDelayProcedure, connect.NewUnaryHandler(SetReconnectDelayProcedure, svc.SetReconnectDelay, controlOpts...))
	return "/" + ServiceName + "/", mux
}

// GetOverview returns the latest ranking and every room.
func (s *MonitorService) GetOverview(
	ctx context.Context,
	req *connect.Request[GetOverviewRequest],
) (*connect.Response[GetOverviewResponse], error) {
	return connect.NewResponse(&GetOverviewResponse{
		Windows:   s.monitor.Windows(),
		Reference: s.monitor.Reference(),
		Update:    wire.FromUpdate(s.monitor.Overview()),
	}), nil
}

// GetRoom returns one room and its ranking row.
func (s *MonitorService) GetRoom(
	ctx context.Context,
	req *connect.Request[GetRoomRequest],
) (*connect.Response[GetRoomResponse], error) {
	snap, row, err := s.monitor.Room(req.Msg.Index)
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &GetRoomResponse{Room: wire.FromSnapshot(snap)}
	if row != nil {
		r := wire.FromRow(*row)
		resp.Row = &r
	}
	return connect.NewResponse(resp), nil
}

// toConnectError maps domain errors to RPC codes.
func toConnectError(err error) *connect.Error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, monitor.ErrInvalidIndex),
		errors.Is(err, monitor.ErrInvalidDelay),
		errors.Is(err, ledger.ErrInvalidPoints),
		errors.Is(err, room.ErrInvalidIdentifier):
		code = connect.CodeInvalidArgument
	case errors.Is(err, room.ErrRoomBound),
		errors.Is(err, room.ErrNoRoom):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, room.ErrStopped):
		code = connect.CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	}
	return connect.NewError(code, err)
}
