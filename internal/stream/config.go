// internal/stream/config.go
package stream

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the progress stream server configuration
type Config struct {
	// Host is the interface the WebSocket server binds to
	Host string

	// Port is the port the WebSocket server listens on
	Port int

	// HeartbeatInterval is how often the server pulses each connection
	HeartbeatInterval time.Duration

	// LivenessTimeout is the inactivity window after which a connection
	// is reaped. Any inbound message or a successfully written heartbeat
	// counts as activity.
	LivenessTimeout time.Duration

	// MaxConnections is the maximum number of concurrent observers
	MaxConnections int

	// QueueSize is the per-connection outbound queue depth. When the
	// queue is full the oldest frame is dropped in favor of the newest.
	QueueSize int

	// RateLimitRPS is the rate limit in connection attempts per second per IP
	RateLimitRPS float64

	// RateLimitBurst is the burst limit for rate limiting
	RateLimitBurst int

	// AllowedOrigins is the extra Origin header allowlist. Requests with
	// no origin and localhost origins are always accepted.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:              getEnvOrDefault("TRAINTRACK_STREAM_HOST", "0.0.0.0"),
		Port:              getEnvInt("TRAINTRACK_STREAM_PORT", 8765),
		HeartbeatInterval: time.Duration(getEnvInt("TRAINTRACK_HEARTBEAT_INTERVAL", 30)) * time.Second,
		LivenessTimeout:   time.Duration(getEnvInt("TRAINTRACK_LIVENESS_TIMEOUT", 60)) * time.Second,
		MaxConnections:    getEnvInt("TRAINTRACK_STREAM_MAX_CONNECTIONS", 256),
		QueueSize:         getEnvInt("TRAINTRACK_STREAM_QUEUE_SIZE", 32),
		RateLimitRPS:      5.0, // 5 connection attempts per second per IP
		RateLimitBurst:    10,  // Allow bursts of 10
		AllowedOrigins:    getEnvList("TRAINTRACK_ALLOWED_ORIGINS"),
	}
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList returns the environment variable as a comma-separated list
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.MaxConnections < 1 {
		return ErrInvalidMaxConnections
	}
	if c.QueueSize < 1 {
		return ErrInvalidQueueSize
	}
	if c.HeartbeatInterval < time.Second {
		return ErrInvalidHeartbeatInterval
	}
	if c.LivenessTimeout <= c.HeartbeatInterval {
		return ErrInvalidLivenessTimeout
	}
	return nil
}
