package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want zerolog.Level
	}{
		{"default", Config{}, zerolog.InfoLevel},
		{"explicit warn", Config{Level: "warn"}, zerolog.WarnLevel},
		{"upper case", Config{Level: "ERROR"}, zerolog.ErrorLevel},
		{"debug overrides level", Config{Level: "error", Debug: true}, zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := NewWithWriter(tt.cfg, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := NewWithWriter(Config{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer

	log, err := NewWithWriter(Config{}, &buf)
	require.NoError(t, err)

	scanLog := WithComponent(log, "scanner")
	scanLog.Info().Str("ip", "10.0.0.1").Msg("probe ok")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scanner", entry["component"])
	assert.Equal(t, "10.0.0.1", entry["ip"])
	assert.Equal(t, "probe ok", entry["message"])
}
