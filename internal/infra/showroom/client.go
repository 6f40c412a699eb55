// Package showroom provides a client for the room, gift and event HTTP APIs.
package showroom

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/giftrank/internal/app/room"
	"github.com/osa030/giftrank/internal/domain/gift"
)

// DefaultBaseURL is the public API origin.
const DefaultBaseURL = "https://www.showroom-live.com"

// maxPageSize bounds the page body read while scraping for a room ID.
const maxPageSize = 4 << 20

// Room ID patterns, in priority order. The JSON form is last since it can match unrelated keys.
var roomIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`room_id=(\d+)`),
	regexp.MustCompile(`room_id\s*=\s*(\d+)`),
	regexp.MustCompile(`"room_id":(\d+)`),
}

// ErrNotFound is returned when the API has no data for the request.
var ErrNotFound = errors.New("not found")

// Client is a showroom API client. It implements room.Directory.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config represents showroom client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// giftItem is one entry of the gift_list response.
type giftItem struct {
	GiftID   int64  `json:"gift_id"`
	GiftName string `json:"gift_name"`
	Point    int64  `json:"point"`
	Free     bool   `json:"free"`
}

// GiftListResponse represents the response from the gift_list API.
type GiftListResponse struct {
	Normal  []giftItem `json:"normal"`
	Enquete []giftItem `json:"enquete"`
}

// ProfileResponse represents the response from the room profile API.
type ProfileResponse struct {
	RoomName             string `json:"room_name"`
	CurrentLiveStartedAt int64  `json:"current_live_started_at"`
}

// LiveInfoResponse represents the response from the live_info API.
type LiveInfoResponse struct {
	BroadcastKey string `json:"bcsvr_key"`
}

// EventAndSupportResponse represents the response from the event_and_support API.
type EventAndSupportResponse struct {
	Event *struct {
		Ranking *struct {
			Point *int64 `json:"point"`
		} `json:"ranking"`
	} `json:"event"`
	Point *int64 `json:"point"`
}

// New creates a new showroom client.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GiftList retrieves the gift catalog of a room, merging the normal and enquete lists.
func (c *Client) GiftList(ctx context.Context, roomID string) ([]gift.Info, error) {
	var response GiftListResponse
	if err := c.getJSON(ctx, "/api/live/gift_list", roomID, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch gift list: room_id=%s", roomID)
	}

	items := make([]gift.Info, 0, len(response.Normal)+len(response.Enquete))
	for _, list := range [][]giftItem{response.Normal, response.Enquete} {
		for _, g := range list {
			items = append(items, gift.Info{
				ID:        g.GiftID,
				Name:      g.GiftName,
				BasePoint: g.Point,
				IsFree:    g.Free,
			})
		}
	}
	zlog.Debug().Msgf("gift list loaded: room_id=%s count=%d", roomID, len(items))
	return items, nil
}

// RoomProfile retrieves the room name and the current broadcast key.
// An offline room has an empty broadcast key and no error.
func (c *Client) RoomProfile(ctx context.Context, roomID string) (room.Profile, error) {
	var profile ProfileResponse
	if err := c.getJSON(ctx, "/api/room/profile", roomID, &profile); err != nil {
		return room.Profile{}, errors.Wrapf(err, "failed to fetch room profile: room_id=%s", roomID)
	}

	p := room.Profile{RoomID: roomID, Name: profile.RoomName}

	var live LiveInfoResponse
	if err := c.getJSON(ctx, "/api/live/live_info", roomID, &live); err != nil {
		// live_info fails for offline rooms
		zlog.Debug().Msgf("live info unavailable: room_id=%s error=%v", roomID, err)
		return p, nil
	}
	p.BroadcastKey = live.BroadcastKey
	return p, nil
}

// EventPoints retrieves the room's current event points.
// The event ranking point is preferred, falling back to the top-level point.
func (c *Client) EventPoints(ctx context.Context, roomID string) (int64, error) {
	var response EventAndSupportResponse
	if err := c.getJSON(ctx, "/api/room/event_and_support", roomID, &response); err != nil {
		return 0, errors.Wrapf(err, "failed to fetch event points: room_id=%s", roomID)
	}

	if response.Event != nil && response.Event.Ranking != nil && response.Event.Ranking.Point != nil {
		return *response.Event.Ranking.Point, nil
	}
	if response.Point != nil {
		return *response.Point, nil
	}
	return 0, errors.Wrapf(ErrNotFound, "no event points: room_id=%s", roomID)
}

// ResolveRoomID extracts a room ID from a room URL.
// A room_id query parameter is used directly; otherwise the page is fetched and scanned.
func (c *Client) ResolveRoomID(ctx context.Context, identifier string) (string, error) {
	if m := roomIDPatterns[0].FindStringSubmatch(identifier); m != nil {
		return m[1], nil
	}

	u, err := url.Parse(identifier)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.Newf("not a room URL: %q", identifier)
	}

	body, err := c.get(ctx, u.String())
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch room page")
	}

	page := string(body)
	for _, re := range roomIDPatterns {
		if m := re.FindStringSubmatch(page); m != nil {
			zlog.Debug().Msgf("room id resolved: url=%s room_id=%s", identifier, m[1])
			return m[1], nil
		}
	}
	return "", errors.Wrapf(ErrNotFound, "room_id not found in page: %s", identifier)
}

func (c *Client) getJSON(ctx context.Context, path, roomID string, out any) error {
	params := url.Values{}
	params.Set("room_id", roomID)
	body, err := c.get(ctx, c.baseURL+path+"?"+params.Encode())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(ErrNotFound, "status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, errors.Newf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
