package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, MirrorTransportHTTP, cfg.MirrorTransport)
	assert.False(t, cfg.MirrorEnabled())
	assert.Equal(t, 8, cfg.CheckoutMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.MirrorTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MIRROR_URL", "https://script.example.com/exec")
	t.Setenv("MIRROR_TIMEOUT_MS", "1500")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("CHECKOUT_MAX_ATTEMPTS", "3")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_DSN", "postgres://localhost/group_buy")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.MirrorEnabled())
	assert.Equal(t, 1500*time.Millisecond, cfg.MirrorTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.CheckoutMaxAttempts)
	assert.Equal(t, "postgres", cfg.DBDriver)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"non numeric":       {"REDIS_DB", "abc"},
		"zero attempts":     {"CHECKOUT_MAX_ATTEMPTS", "0"},
		"unknown driver":    {"DB_DRIVER", "mysql"},
		"unknown transport": {"MIRROR_TRANSPORT", "smtp"},
		"negative buffer":   {"FEED_BUFFER", "-1"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
