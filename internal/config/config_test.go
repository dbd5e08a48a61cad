package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()

	req.NoError(err)
	req.Equal("8080", cfg.ServerPort)
	req.Equal(64, cfg.ConnectionBufferSize)
	req.Equal(50, cfg.HistoryDefaultPage)
	req.Equal(200, cfg.HistoryMaxPage)
	req.Equal(time.Minute, cfg.RateLimitWindow)
	req.False(cfg.ErrorAcks)
	req.False(cfg.DeliverPendingOnJoin)
	req.False(cfg.JournalEnabled())
	req.Equal([]string{"https://*", "http://*"}, cfg.CORSAllowedOrigins)
}

func TestLoad_FromEnvironment(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("ERROR_ACKS", "true")
	t.Setenv("WS_PING_INTERVAL", "5s")
	t.Setenv("HISTORY_DEFAULT_PAGE", "10")

	cfg, err := Load()

	req.NoError(err)
	req.Equal("9090", cfg.ServerPort)
	req.True(cfg.JournalEnabled())
	req.True(cfg.ErrorAcks)
	req.Equal(5*time.Second, cfg.WSPingInterval)
	req.Equal(10, cfg.HistoryDefaultPage)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("history page larger than max", func(t *testing.T) {
		t.Setenv("HISTORY_DEFAULT_PAGE", "500")
		_, err := Load()
		require.ErrorContains(t, err, "HISTORY_DEFAULT_PAGE")
	})

	t.Run("zero buffer", func(t *testing.T) {
		t.Setenv("CONNECTION_BUFFER_SIZE", "0")
		_, err := Load()
		require.ErrorContains(t, err, "CONNECTION_BUFFER_SIZE")
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("WS_WRITE_TIMEOUT", "soon")
		_, err := Load()
		require.Error(t, err)
	})
}
