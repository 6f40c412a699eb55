package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestInit_FileOutputWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "giftrank.log")
	require.NoError(t, Init(Config{Output: path, File: path, Level: "warn"}))
	t.Cleanup(func() {
		_ = Close()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	zlog.Info().Msg("dropped below level")
	zlog.Warn().Msgf("room retrying: index=%d", 2)
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "room retrying: index=2", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestInit_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "giftrank.log")
	assert.Error(t, Init(Config{Output: path, File: path}))
}
