// internal/stream/errors.go
package stream

import "errors"

// Configuration errors
var (
	// ErrInvalidPort indicates the port number is out of valid range
	ErrInvalidPort = errors.New("port must be between 1 and 65535")

	// ErrInvalidMaxConnections indicates max connections is too low
	ErrInvalidMaxConnections = errors.New("max connections must be at least 1")

	// ErrInvalidQueueSize indicates the per-connection queue size is too low
	ErrInvalidQueueSize = errors.New("queue size must be at least 1")

	// ErrInvalidHeartbeatInterval indicates the heartbeat interval is too short
	ErrInvalidHeartbeatInterval = errors.New("heartbeat interval must be at least 1 second")

	// ErrInvalidLivenessTimeout indicates the liveness timeout does not leave
	// room for at least one heartbeat
	ErrInvalidLivenessTimeout = errors.New("liveness timeout must be longer than the heartbeat interval")
)

// Rate limiting errors
var (
	// ErrRateLimited indicates the client has exceeded the rate limit
	ErrRateLimited = errors.New("rate limit exceeded, please try again later")
)

// Connection errors
var (
	// ErrMaxConnectionsReached indicates the server has reached its connection limit
	ErrMaxConnectionsReached = errors.New("maximum connections reached")

	// ErrConnectionClosed indicates the connection was closed
	ErrConnectionClosed = errors.New("connection closed")

	// ErrLivenessTimeout indicates the connection was closed for inactivity
	ErrLivenessTimeout = errors.New("connection closed due to liveness timeout")
)

// Protocol errors
var (
	// ErrInvalidMessageType indicates the client message type is not recognized
	ErrInvalidMessageType = errors.New("invalid message type")

	// ErrInvalidMessage indicates the client message is malformed
	ErrInvalidMessage = errors.New("invalid message format")
)

// Server errors
var (
	// ErrServerNotRunning indicates the server is not currently running
	ErrServerNotRunning = errors.New("server is not running")

	// ErrServerAlreadyRunning indicates the server is already running
	ErrServerAlreadyRunning = errors.New("server is already running")
)
