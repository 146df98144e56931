package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseLevel(tt.input), tt.input)
		if tt.input != "unknown" && tt.input != "" {
			assert.Equal(t, tt.input, tt.expected.String())
		}
	}
}

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf)

	logger.WithRequestID("conn-1").WithFields("backend", "ldap1").Info("upstream connected", "addr", "10.0.0.5:389")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "upstream connected", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "conn-1", entry["request_id"])
	assert.Equal(t, "ldap1", entry["backend"])
	assert.Equal(t, "10.0.0.5:389", entry["addr"])
	assert.Contains(t, entry, "ts")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: "warn", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	logger.Error("also shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "also shown")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	logger.Info("nothing")
	assert.NotNil(t, logger.WithRequestID("x").WithFields("a", 1))
}

func TestGenerateRequestID(t *testing.T) {
	a := GenerateRequestID()
	b := GenerateRequestID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}
