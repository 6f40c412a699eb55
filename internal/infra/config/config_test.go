package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Parse([]byte("admin:\n  token: secret\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 6, cfg.Session.Windows)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay())
	assert.Equal(t, 10*time.Second, cfg.KeepAlive())
	assert.Equal(t, 5*time.Second, cfg.AggregationWindow())
	assert.Equal(t, 600*time.Millisecond, cfg.AggregationSettle())
	assert.Equal(t, 10*time.Minute, cfg.HistoryWindow())
	assert.Equal(t, 60*time.Second, cfg.VelocityLookback())
	short, long := cfg.TrendWindows()
	assert.Equal(t, 60*time.Second, short)
	assert.Equal(t, 300*time.Second, long)
	assert.Equal(t, 5*time.Second, cfg.RankingInterval())
	assert.Equal(t, 10*time.Second, cfg.ShowroomTimeout())
	assert.Equal(t, "wss://online.showroom-live.com", cfg.Upstream.URL)
	assert.Equal(t, []int64{1601}, cfg.Valuation.RainbowGiftIDs)
	assert.Equal(t, int64(3000), cfg.Valuation.HighValueThreshold)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "giftrank", cfg.Redis.KeyPrefix)
}

func TestParse_ZeroSettleIsKept(t *testing.T) {
	cfg, err := Parse([]byte("admin:\n  token: secret\naggregation:\n  settle_ms: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.AggregationSettle())
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "missing admin token",
			yaml:   "server:\n  addr: \":9000\"\n",
			errMsg: "Token",
		},
		{
			name:   "too many windows",
			yaml:   "admin:\n  token: x\nsession:\n  windows: 7\n",
			errMsg: "Windows",
		},
		{
			name:   "reconnect delay out of range",
			yaml:   "admin:\n  token: x\nsession:\n  reconnect_delay_sec: 301\n",
			errMsg: "ReconnectDelaySec",
		},
		{
			name:   "reference beyond windows",
			yaml:   "admin:\n  token: x\nsession:\n  windows: 2\nranking:\n  reference: 3\n",
			errMsg: "ranking.reference",
		},
		{
			name:   "trend long below short",
			yaml:   "admin:\n  token: x\nanalysis:\n  trend_short_sec: 120\n  trend_long_sec: 60\n",
			errMsg: "TrendLongSec",
		},
		{
			name:   "invalid end time",
			yaml:   "admin:\n  token: x\nevent:\n  end_time: tomorrow\n",
			errMsg: "end_time",
		},
		{
			name:   "unknown filter",
			yaml:   "admin:\n  token: x\nfilters:\n  no_such_filter:\n    enabled: true\n",
			errMsg: "no_such_filter",
		},
		{
			name:   "too many rooms",
			yaml:   "admin:\n  token: x\nsession:\n  windows: 1\n  rooms: [\"1\", \"2\"]\n",
			errMsg: "session.rooms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ADMIN_TOKEN", "")

			_, err := Parse([]byte(tt.yaml))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "from-env")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASSWORD", "pw")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Parse([]byte("admin:\n  token: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.Token)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "pw", cfg.Redis.Password)
	assert.Equal(t, 2, cfg.Redis.DB)
}

func TestLoad(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("REDIS_ADDR", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
admin:
  token: secret
session:
  windows: 3
  rooms: ["100", "https://www.showroom-live.com/r/abc"]
valuation:
  rainbow_gift_ids: [1601, 1602]
  fallback_points:
    21: 50
filters:
  upcoming_mode_filter:
    enabled: true
    settings:
      target_gift_ids: [1601]
event:
  end_time: "2030-01-01T21:00:00+09:00"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Session.Windows)
	assert.Len(t, cfg.Session.Rooms, 2)
	assert.True(t, cfg.IsFilterEnabled("upcoming_mode_filter"))
	assert.False(t, cfg.IsFilterEnabled("min_gift_id_filter"))

	settings := cfg.FilterSettings()
	require.Contains(t, settings, "upcoming_mode_filter")
	assert.True(t, settings["upcoming_mode_filter"].Enabled)

	table := cfg.ValuationTable()
	assert.Equal(t, int64(50), table.FallbackBasePoint(21))
	assert.Equal(t, int64(1), table.FallbackBasePoint(3))

	end, err := cfg.ParseEndTime()
	require.NoError(t, err)
	require.NotNil(t, end)
	assert.Equal(t, 2030, end.Year())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValuationTable_DefaultFallback(t *testing.T) {
	cfg := &Config{Valuation: ValuationConfig{HighValueThreshold: 3000}}

	table := cfg.ValuationTable()

	assert.Equal(t, int64(100), table.FallbackBasePoint(21))
	assert.Equal(t, int64(10), table.FallbackBasePoint(1601))
	assert.True(t, table.IsHighValue(3000))
}

func TestConfig_ParseEndTime(t *testing.T) {
	tests := []struct {
		name    string
		endTime string
		wantNil bool
		wantErr bool
	}{
		{name: "empty end time", endTime: "", wantNil: true},
		{name: "valid RFC3339 time", endTime: "2024-01-01T18:00:00Z"},
		{name: "invalid time format", endTime: "invalid", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Event: EventConfig{EndTime: tt.endTime}}

			result, err := cfg.ParseEndTime()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, result)
			} else {
				assert.NotNil(t, result)
			}
		})
	}
}
