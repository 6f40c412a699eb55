// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/giftrank/internal/app/filter"
	"github.com/osa030/giftrank/internal/domain/gift"
)

// MaxWindows is the maximum number of tracked rooms.
const MaxWindows = 6

// Config represents the application configuration.
type Config struct {
	Server      ServerConfig            `yaml:"server"`
	Admin       AdminConfig             `yaml:"admin"`
	Session     SessionConfig           `yaml:"session"`
	Aggregation AggregationConfig       `yaml:"aggregation"`
	Analysis    AnalysisConfig          `yaml:"analysis"`
	Valuation   ValuationConfig         `yaml:"valuation"`
	Upstream    UpstreamConfig          `yaml:"upstream"`
	Showroom    ShowroomConfig          `yaml:"showroom"`
	Ranking     RankingConfig           `yaml:"ranking"`
	Event       EventConfig             `yaml:"event"`
	Filters     map[string]FilterConfig `yaml:"filters"`
	Metrics     MetricsConfig           `yaml:"metrics"`
	Redis       RedisConfig             `yaml:"redis"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// SessionConfig represents room session configuration.
type SessionConfig struct {
	Windows           int      `yaml:"windows" default:"6" validate:"gte=1,lte=6"`
	ReconnectDelaySec int      `yaml:"reconnect_delay_sec" default:"5" validate:"gte=1,lte=300"`
	KeepAliveSec      int      `yaml:"keepalive_sec" default:"10" validate:"gte=1,lte=120"`
	Rooms             []string `yaml:"rooms" validate:"lte=6"` // Identifiers connected at startup, by index
}

// AggregationConfig represents the debounce window configuration.
type AggregationConfig struct {
	WindowMs int  `yaml:"window_ms" default:"5000" validate:"gte=100,lte=60000"`
	SettleMs *int `yaml:"settle_ms" default:"600" validate:"omitempty,gte=0,lte=10000"` // 0 commits at window lapse
}

// AnalysisConfig represents history and velocity configuration.
type AnalysisConfig struct {
	HistoryWindowSec    int `yaml:"history_window_sec" default:"600" validate:"gte=60,lte=3600"`
	VelocityLookbackSec int `yaml:"velocity_lookback_sec" default:"60" validate:"gte=1"`
	TrendShortSec       int `yaml:"trend_short_sec" default:"60" validate:"gte=1"`
	TrendLongSec        int `yaml:"trend_long_sec" default:"300" validate:"gtefield=TrendShortSec"`
}

// ValuationConfig represents the gift valuation table.
type ValuationConfig struct {
	RainbowGiftIDs     []int64         `yaml:"rainbow_gift_ids" default:"[1601]"`
	FallbackPoints     map[int64]int64 `yaml:"fallback_points"`
	HighValueThreshold int64           `yaml:"high_value_threshold" default:"3000" validate:"gt=0"`
}

// UpstreamConfig represents the upstream websocket configuration.
type UpstreamConfig struct {
	URL string `yaml:"url" default:"wss://online.showroom-live.com" validate:"url"`
}

// ShowroomConfig represents the HTTP API configuration.
type ShowroomConfig struct {
	BaseURL    string `yaml:"base_url" default:"https://www.showroom-live.com" validate:"url"`
	TimeoutSec int    `yaml:"timeout_sec" default:"10" validate:"gte=1,lte=60"`
}

// RankingConfig represents recompute configuration.
type RankingConfig struct {
	IntervalSec int `yaml:"interval_sec" default:"5" validate:"gte=1,lte=60"`
	Reference   int `yaml:"reference" validate:"gte=0,lte=5"`
}

// EventConfig represents the tracked event.
type EventConfig struct {
	EndTime string `yaml:"end_time"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MetricsConfig represents the metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `yaml:"addr" default:":9090"`
}

// RedisConfig represents the ranking export configuration.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix" default:"giftrank"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Ranking.Reference >= c.Session.Windows {
		return errors.Newf("ranking.reference (%d) must be below session.windows (%d)", c.Ranking.Reference, c.Session.Windows)
	}
	if len(c.Session.Rooms) > c.Session.Windows {
		return errors.Newf("session.rooms has %d entries but session.windows is %d", len(c.Session.Rooms), c.Session.Windows)
	}

	if _, err := c.ParseEndTime(); err != nil {
		return err
	}

	registered := filter.GetRegistered()
	for name := range c.Filters {
		if _, ok := registered[name]; !ok {
			return errors.Newf("unknown filter: %s", name)
		}
	}

	return nil
}

// ParseEndTime parses the event end time string.
// Returns nil if the end time is empty.
func (c *Config) ParseEndTime() (*time.Time, error) {
	if c.Event.EndTime == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, c.Event.EndTime)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse end_time")
	}
	return &t, nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterSettings converts the filter section for filter.Build.
func (c *Config) FilterSettings() map[string]filter.Setting {
	out := make(map[string]filter.Setting, len(c.Filters))
	for name, f := range c.Filters {
		out[name] = filter.Setting{Enabled: f.Enabled, Settings: f.Settings}
	}
	return out
}

// ValuationTable builds the immutable valuation table.
func (c *Config) ValuationTable() gift.Table {
	fallback := c.Valuation.FallbackPoints
	if fallback == nil {
		fallback = gift.DefaultFallbackPoints
	}
	return gift.NewTable(c.Valuation.RainbowGiftIDs, fallback, c.Valuation.HighValueThreshold)
}

// AggregationWindow returns the debounce window.
func (c *Config) AggregationWindow() time.Duration {
	return time.Duration(c.Aggregation.WindowMs) * time.Millisecond
}

// AggregationSettle returns the settle stage duration.
func (c *Config) AggregationSettle() time.Duration {
	if c.Aggregation.SettleMs == nil {
		return 600 * time.Millisecond
	}
	return time.Duration(*c.Aggregation.SettleMs) * time.Millisecond
}

// ReconnectDelay returns the initial reconnection delay.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Session.ReconnectDelaySec) * time.Second
}

// KeepAlive returns the upstream ping interval.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.Session.KeepAliveSec) * time.Second
}

// HistoryWindow returns the trailing history window.
func (c *Config) HistoryWindow() time.Duration {
	return time.Duration(c.Analysis.HistoryWindowSec) * time.Second
}

// VelocityLookback returns the lookback used for ranking velocity.
func (c *Config) VelocityLookback() time.Duration {
	return time.Duration(c.Analysis.VelocityLookbackSec) * time.Second
}

// TrendWindows returns the short and long trend lookbacks.
func (c *Config) TrendWindows() (short, long time.Duration) {
	return time.Duration(c.Analysis.TrendShortSec) * time.Second, time.Duration(c.Analysis.TrendLongSec) * time.Second
}

// RankingInterval returns the periodic recompute interval.
func (c *Config) RankingInterval() time.Duration {
	return time.Duration(c.Ranking.IntervalSec) * time.Second
}

// ShowroomTimeout returns the HTTP timeout for the showroom API.
func (c *Config) ShowroomTimeout() time.Duration {
	return time.Duration(c.Showroom.TimeoutSec) * time.Second
}
