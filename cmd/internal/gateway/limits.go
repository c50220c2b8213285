package gateway

import "time"

// Frame and connection limits.
const (
	// Max bytes buffered for one inbound frame, on either transport.
	maxFrameBytes = 64 << 10 // 64 KiB

	// Read chunk for the TCP stream decoder.
	tcpReadChunk = 4 << 10
)

const (
	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 0 // disabled; an idle logged-in client is normal
	closeGrace          = 1 * time.Second
	halfCloseGrace      = 10 * time.Second

	defaultWorkerLimit = 64

	// WebSocket heartbeats.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3
)

const (
	defaultOriginRequired = true
	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)
