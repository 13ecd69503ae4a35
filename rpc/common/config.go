package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Shared transport configuration structs
// --------------------------------------------------------------------------

// SocketConf holds kernel socket buffer settings shared by the stream
// transports (tcp, unix). A zero value leaves the kernel default in place.
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP-specific tuning knobs. Ignored by non-TCP transports.
type TCPConf struct {
	TCPKeepAliveSec int
	TCPLingerSec    int
	TCPNoDelay      bool
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerShard binds a shard ID to the lock provider serving it. The
// provider is given as a spec string:
//
//	memory              in-process facility (locks die with the server)
//	fs(/some/dir)       flock(2) facility rooted at the directory
//	redis(host:port)    redis facility at the given address
type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Provider is the provider spec for the shard
	Provider string
}

// ServerTransportConfig holds the listener settings of the server.
type ServerTransportConfig struct {
	// Endpoint is the address to listen on (host:port or a socket path)
	Endpoint string

	SocketConf
	TCPConf
}

// ServerConfig holds all configuration parameters for the lock server.
type ServerConfig struct {
	// Shards served by this instance
	Shards []ServerShard

	// RPC parameters
	TimeoutSecond int64
	Transport     ServerTransportConfig

	// LeaseMaxHoldSec force-releases leases held longer than this many
	// seconds; 0 disables the limit
	LeaseMaxHoldSec uint64

	// MetricsEndpoint serves Prometheus metrics when non-empty
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.LeaseMaxHoldSec > 0 {
		addField("Max Lease Hold", fmt.Sprintf("%d sec", c.LeaseMaxHoldSec))
	}
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), shard.Provider)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the connection settings of the client.
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int

	SocketConf
	TCPConf
}

// ClientConfig holds all configuration parameters for a lock client.
type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
