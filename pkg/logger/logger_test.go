package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerCarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "group-buy", Level: zerolog.DebugLevel, Output: &buf})

	ctx := logg.WithCampaignID(context.Background(), "gb-1")
	ctx = logg.WithUserID(ctx, "u-1")
	logg.Error(ctx, "partition aborted", errors.New("insufficient"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "group-buy", line["service"])
	assert.Equal(t, "gb-1", line["group_buy_id"])
	assert.Equal(t, "u-1", line["user_id"])
	assert.Equal(t, "insufficient", line["error"])
	assert.Equal(t, "error", line["level"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestChildContextDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "group-buy", Output: &buf})

	parent := logg.WithRequestID(context.Background(), "req-1")
	child := logg.WithFields(parent, map[string]any{"order_id": "o-1"})
	logg.Info(child, "order committed")
	logg.Debug(child, "filtered")
	logg.Warn(parent, "slow mirror")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "o-1", first["order_id"])
	assert.Equal(t, "req-1", first["request_id"])
	assert.Equal(t, "req-1", second["request_id"])
	assert.NotContains(t, second, "order_id")
	assert.Equal(t, "warn", second["level"])
}

func TestNopDiscards(t *testing.T) {
	logg := Nop()
	ctx := logg.WithUserID(context.Background(), "u-1")
	assert.NotPanics(t, func() { logg.Error(ctx, "ignored", nil) })
}
