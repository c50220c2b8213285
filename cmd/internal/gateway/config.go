package gateway

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment keys read by ConfigFromEnv.
const (
	EnvSendQueue         = "MEDGATE_SEND_QUEUE"
	EnvWriteTimeout      = "MEDGATE_WRITE_TIMEOUT"
	EnvReadIdleTimeout   = "MEDGATE_READ_IDLE_TIMEOUT"
	EnvWorkerLimit       = "MEDGATE_WORKER_LIMIT"
	EnvHeartbeatInterval = "MEDGATE_WS_HEARTBEAT_INTERVAL"
	EnvHeartbeatTimeout  = "MEDGATE_WS_HEARTBEAT_TIMEOUT"
	EnvOriginRequired    = "MEDGATE_WS_ORIGIN_REQUIRED"
	EnvAllowedOrigins    = "MEDGATE_WS_ALLOWED_ORIGINS"
	EnvWSDevInsecure     = "MEDGATE_WS_DEV_INSECURE"
)

// Config holds transport and dispatch tuning shared by both transports.
type Config struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	// ReadIdleTimeout closes a connection that sends nothing for this long.
	// Zero disables it.
	ReadIdleTimeout time.Duration
	WorkerLimit     int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	OriginRequired bool
	AllowedOrigins []string
	// DevInsecure skips the WebSocket origin check entirely. Dev only.
	DevInsecure bool
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		SendQueueSize:     defaultSendQueueSize,
		WriteTimeout:      defaultWriteTimeout,
		ReadIdleTimeout:   defaultReadIdle,
		WorkerLimit:       defaultWorkerLimit,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		OriginRequired:    defaultOriginRequired,
		AllowedOrigins:    splitCSV(defaultAllowedOrigins),
	}
}

// ConfigFromEnv overlays MEDGATE_* variables on DefaultConfig. Invalid
// values fall back to the default.
func ConfigFromEnv() Config {
	c := DefaultConfig()
	c.SendQueueSize = envInt(EnvSendQueue, c.SendQueueSize)
	c.WriteTimeout = envDuration(EnvWriteTimeout, c.WriteTimeout)
	c.ReadIdleTimeout = envDurationOrZero(EnvReadIdleTimeout, c.ReadIdleTimeout)
	c.WorkerLimit = envInt(EnvWorkerLimit, c.WorkerLimit)
	c.HeartbeatInterval = envDuration(EnvHeartbeatInterval, c.HeartbeatInterval)
	c.HeartbeatTimeout = envDuration(EnvHeartbeatTimeout, c.HeartbeatTimeout)
	c.OriginRequired = envBool(EnvOriginRequired, c.OriginRequired)
	if raw := strings.TrimSpace(os.Getenv(EnvAllowedOrigins)); raw != "" {
		c.AllowedOrigins = splitCSV(raw)
	}
	c.DevInsecure = envBool(EnvWSDevInsecure, false)
	return c.normalized()
}

func (c Config) normalized() Config {
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadIdleTimeout < 0 {
		c.ReadIdleTimeout = 0
	}
	if c.WorkerLimit <= 0 {
		c.WorkerLimit = defaultWorkerLimit
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	return c
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// envDurationOrZero is envDuration that also accepts "0" to disable.
func envDurationOrZero(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "0" {
		return 0
	}
	return envDuration(key, def)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
