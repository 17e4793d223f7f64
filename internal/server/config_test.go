package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// TestNewConfigDefaults verifies the defaults every other component assumes.
func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.EqualValues(t, 512, cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "chatrelay.db", cfg.StoreDSN)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
}

// TestSanitizeClampsInvalidValues verifies zero and negative settings fall
// back to defaults instead of breaking the server.
func TestSanitizeClampsInvalidValues(t *testing.T) {
	cfg := &Config{
		Port:           "",
		MaxMessageSize: -1,
		RateLimit:      RateLimitConfig{Burst: 0, RefillInterval: -time.Second},
	}
	cfg.sanitize()

	assert.Equal(t, ":8080", cfg.Port)
	assert.EqualValues(t, 512, cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Positive(t, cfg.ShutdownTimeout)
}

// TestLoadConfigFromEnvironment verifies environment variables override the
// defaults.
func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9999")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com,http://localhost:3000")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("STORE_DSN", "host=db user=chat dbname=chat")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Port)
	assert.Equal(t, []string{"https://chat.example.com", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.EqualValues(t, 1024, cfg.MaxMessageSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, store.Config{Driver: store.Postgres, DSN: "host=db user=chat dbname=chat"}, cfg.StoreConfig())
}

// TestLevelFallsBackToInfo verifies a bad level never breaks startup.
func TestLevelFallsBackToInfo(t *testing.T) {
	cfg := NewConfig()
	cfg.LogLevel = "chatty"
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
}

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws/lobby", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

// TestOriginAllowList verifies normalization and matching of configured
// origins.
func TestOriginAllowList(t *testing.T) {
	cfg := NewConfig()
	cfg.AllowedOrigins = []string{"HTTPS://Chat.Example.COM", "not a url", ""}
	cfg.sanitize()

	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins,
		"origins must be normalized and invalid entries dropped")

	assert.True(t, cfg.isOriginAllowed(requestWithOrigin("https://chat.example.com")))
	assert.True(t, cfg.isOriginAllowed(requestWithOrigin("https://CHAT.example.com")),
		"matching must be case-insensitive")
	assert.False(t, cfg.isOriginAllowed(requestWithOrigin("https://other.example.com")))
	assert.False(t, cfg.isOriginAllowed(requestWithOrigin("")),
		"requests without an Origin header are rejected")
}

// TestOriginWildcard verifies the explicit allow-all escape hatch.
func TestOriginWildcard(t *testing.T) {
	cfg := NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	cfg.sanitize()

	assert.True(t, cfg.isOriginAllowed(requestWithOrigin("https://anything.example.com")))
	assert.False(t, cfg.isOriginAllowed(requestWithOrigin("")),
		"even allow-all requires an Origin header")
}

// TestRateLimiter verifies the token bucket blocks a burst overrun and
// recovers after refill.
func TestRateLimiter(t *testing.T) {
	limiter := newRateLimiter(2, 100*time.Millisecond)

	assert.True(t, limiter.allow())
	assert.True(t, limiter.allow())
	assert.False(t, limiter.allow(), "burst capacity must be enforced")

	time.Sleep(120 * time.Millisecond)
	assert.True(t, limiter.allow(), "tokens must refill over time")
}
