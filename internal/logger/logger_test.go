package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "warn")
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	l := Component("ledger")
	l.Info().Msg("hidden")
	l.Warn().Str("hash", "ABC").Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	// field names may be colorized, match them apart from the values
	for _, part := range []string{"component", "ledger", "hash", "ABC"} {
		assert.Contains(t, out, part)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "verbose")

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	GetLogger().Debug().Msg("dropped")
	assert.Empty(t, buf.String())
}
