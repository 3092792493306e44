package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "debug", "production")
	log.Debug().Str("task_id", "t1").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "t1", entry["task_id"])
	assert.Equal(t, "vaultsign", entry["service"])
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "chatty", "production")
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
	log.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())
}
