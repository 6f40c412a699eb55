package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// MonitorServiceClient calls the monitor service. Control calls carry the admin token
// when one is set.
type MonitorServiceClient struct {
	token string

	getOverview       *connect.Client[GetOverviewRequest, GetOverviewResponse]
	getRoom           *connect.Client[GetRoomRequest, GetRoomResponse]
	connect           *connect.Client[ConnectRequest, ControlResponse]
	disconnect        *connect.Client[IndexRequest, ControlResponse]
	setInitialPoints  *connect.Client[SetInitialPointsRequest, ControlResponse]
	syncInitialPoints *connect.Client[IndexRequest, ControlResponse]
	reset             *connect.Client[IndexRequest, ControlResponse]
	setReference      *connect.Client[IndexRequest, ControlResponse]
	setReconnectDelay *connect.Client[SetReconnectDelayRequest, ControlResponse]
}

// NewMonitorServiceClient creates a client for the server at baseURL.
func NewMonitorServiceClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *MonitorServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithJSONCodec()}, opts...)
	return &MonitorServiceClient{
		token:             token,
		getOverview:       connect.NewClient[GetOverviewRequest, GetOverviewResponse](httpClient, baseURL+GetOverviewProcedure, opts...),
		getRoom:           connect.NewClient[GetRoomRequest, GetRoomResponse](httpClient, baseURL+GetRoomProcedure, opts...),
		connect:           connect.NewClient[ConnectRequest, ControlResponse](httpClient, baseURL+ConnectProcedure, opts...),
		disconnect:        connect.NewClient[IndexRequest, ControlResponse](httpClient, baseURL+DisconnectProcedure, opts...),
		setInitialPoints:  connect.NewClient[SetInitialPointsRequest, ControlResponse](httpClient, baseURL+SetInitialPointsProcedure, opts...),
		syncInitialPoints: connect.NewClient[IndexRequest, ControlResponse](httpClient, baseURL+SyncInitialPointsProcedure, opts...),
		reset:             connect.NewClient[IndexRequest, ControlResponse](httpClient, baseURL+ResetProcedure, opts...),
		setReference:      connect.NewClient[IndexRequest, ControlResponse](httpClient, baseURL+SetReferenceProcedure, opts...),
		setReconnectDelay: connect.NewClient[SetReconnectDelayRequest, ControlResponse](httpClient, baseURL+SetReconnectDelayProcedure, opts...),
	}
}

// GetOverview calls MonitorService.GetOverview.
func (c *MonitorServiceClient) GetOverview(ctx context.Context) (*GetOverviewResponse, error) {
	resp, err := c.getOverview.CallUnary(ctx, connect.NewRequest(&GetOverviewRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// GetRoom calls MonitorService.GetRoom.
func (c *MonitorServiceClient) GetRoom(ctx context.Context, index int) (*GetRoomResponse, error) {
	resp, err := c.getRoom.CallUnary(ctx, connect.NewRequest(&GetRoomRequest{Index: index}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Connect calls MonitorService.Connect.
func (c *MonitorServiceClient) Connect(ctx context.Context, index int, identifier string) (*ControlResponse, error) {
	return call(ctx, c, c.connect, &ConnectRequest{Index: index, Identifier: identifier})
}

// Disconnect calls MonitorService.Disconnect.
func (c *MonitorServiceClient) Disconnect(ctx context.Context, index int) (*ControlResponse, error) {
	return call(ctx, c, c.disconnect, &IndexRequest{Index: index})
}

// SetInitialPoints calls MonitorService.SetInitialPoints.
func (c *MonitorServiceClient) SetInitialPoints(ctx context.Context, index int, points int64) (*ControlResponse, error) {
	return call(ctx, c, c.setInitialPoints, &SetInitialPointsRequest{Index: index, Points: points})
}

// SyncInitialPoints calls MonitorService.SyncInitialPoints.
func (c *MonitorServiceClient) SyncInitialPoints(ctx context.Context, index int) (*ControlResponse, error) {
	return call(ctx, c, c.syncInitialPoints, &IndexRequest{Index: index})
}

// Reset calls MonitorService.Reset.
func (c *MonitorServiceClient) Reset(ctx context.Context, index int) (*ControlResponse, error) {
	return call(ctx, c, c.reset, &IndexRequest{Index: index})
}

// SetReference calls MonitorService.SetReference.
func (c *MonitorServiceClient) SetReference(ctx context.Context, index int) (*ControlResponse, error) {
	return call(ctx, c, c.setReference, &IndexRequest{Index: index})
}

// SetReconnectDelay calls MonitorService.SetReconnectDelay.
func (c *MonitorServiceClient) SetReconnectDelay(ctx context.Context, seconds int) (*ControlResponse, error) {
	return call(ctx, c, c.setReconnectDelay, &SetReconnectDelayRequest{Seconds: seconds})
}

func call[Req any](ctx context.Context, c *MonitorServiceClient, client *connect.Client[Req, ControlResponse], msg *Req) (*ControlResponse, error) {
	req := connect.NewRequest(msg)
	if c.token != "" {
		req.Header().Set(AdminTokenHeader, c.token)
	}
	resp, err := client.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
