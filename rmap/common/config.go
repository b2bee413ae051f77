package common

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for the initiator engine
const (
	DefaultMaxTransactions    = 8
	DefaultMaxTransferSize    = 4096
	DefaultReceiveTimeout     = 10 * time.Millisecond
	DefaultTransactionTimeout = 100 * time.Millisecond
	DefaultInitiatorAddress   = 0xFE

	// MaxTransactionIDs is the number of distinct 16 bit transaction identifiers
	MaxTransactionIDs = 1 << 16
)

// --------------------------------------------------------------------------
// Initiator configuration struct
// --------------------------------------------------------------------------

// InitiatorConfig holds all configuration parameters of an initiator engine.
type InitiatorConfig struct {
	// Name identifies the engine in logs and metric labels
	Name string

	// InitiatorLogicalAddress is put into every command unless the target
	// node overrides it
	InitiatorLogicalAddress byte

	// MaxTransactions is the number of transactions that may be in flight
	// at the same time
	MaxTransactions int

	// MaxTransferSize bounds the payload of a single read or write
	MaxTransferSize int

	// ReceiveTimeout bounds a single receive call of the receiver loop.
	// The liveness margin is twice this value.
	ReceiveTimeout time.Duration

	// LogLevel is applied by InitLoggers when the engine is built from the CLI
	LogLevel string
}

// DefaultInitiatorConfig returns a configuration with sensible defaults
func DefaultInitiatorConfig() InitiatorConfig {
	return InitiatorConfig{
		InitiatorLogicalAddress: DefaultInitiatorAddress,
		MaxTransactions:         DefaultMaxTransactions,
		MaxTransferSize:         DefaultMaxTransferSize,
		ReceiveTimeout:          DefaultReceiveTimeout,
		LogLevel:                "info",
	}
}

// Validate checks the configuration for values the engine cannot work with
func (c *InitiatorConfig) Validate() error {
	if c.MaxTransactions < 1 || c.MaxTransactions > MaxTransactionIDs {
		return fmt.Errorf("max transactions must be in [1, %d], got %d", MaxTransactionIDs, c.MaxTransactions)
	}
	if c.MaxTransferSize < 1 || c.MaxTransferSize > MaxDataLength {
		return fmt.Errorf("max transfer size must be in [1, %d], got %d", MaxDataLength, c.MaxTransferSize)
	}
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("receive timeout must be positive, got %s", c.ReceiveTimeout)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *InitiatorConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RMAP Initiator")
	addField("Name", c.Name)
	addField("Logical Address", fmt.Sprintf("0x%02X", c.InitiatorLogicalAddress))
	addField("Max Transactions", fmt.Sprintf("%d", c.MaxTransactions))
	addField("Max Transfer Size", fmt.Sprintf("%d bytes", c.MaxTransferSize))
	addField("Receive Timeout", c.ReceiveTimeout.String())

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Simulated target configuration struct
// --------------------------------------------------------------------------

// TargetConfig holds the configuration of a simulated RMAP target node.
type TargetConfig struct {
	// LogicalAddress the target answers to
	LogicalAddress byte

	// Key that every command must carry
	Key byte

	// MemorySize bounds the addressable memory (address + length must not exceed it).
	// Zero means the full 40 bit address space.
	MemorySize uint64

	// MaxDataLength bounds the data length of a single command
	MaxDataLength int

	// ReceiveTimeout bounds a single receive call of the serving loop
	ReceiveTimeout time.Duration
}

// DefaultTargetConfig returns a configuration with sensible defaults
func DefaultTargetConfig() TargetConfig {
	return TargetConfig{
		LogicalAddress: 0xFE,
		Key:            0x00,
		MemorySize:     1 << 20,
		MaxDataLength:  DefaultMaxTransferSize,
		ReceiveTimeout: DefaultReceiveTimeout,
	}
}

// Validate checks the configuration for values the target cannot work with
func (c *TargetConfig) Validate() error {
	if c.MaxDataLength < 1 || c.MaxDataLength > MaxDataLength {
		return fmt.Errorf("max data length must be in [1, %d], got %d", MaxDataLength, c.MaxDataLength)
	}
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("receive timeout must be positive, got %s", c.ReceiveTimeout)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *TargetConfig) String() string {
	var sb strings.Builder
	sb.WriteString("\nRMAP TARGET\n")
	sb.WriteString(fmt.Sprintf("  %-22s: 0x%02X\n", "Logical Address", c.LogicalAddress))
	sb.WriteString(fmt.Sprintf("  %-22s: 0x%02X\n", "Key", c.Key))
	sb.WriteString(fmt.Sprintf("  %-22s: %d bytes\n", "Memory Size", c.MemorySize))
	sb.WriteString(fmt.Sprintf("  %-22s: %d bytes\n", "Max Data Length", c.MaxDataLength))
	return sb.String()
}

// --------------------------------------------------------------------------
// Transport configuration struct
// --------------------------------------------------------------------------

// Defaults for the stream transports
const (
	DefaultMaxFrameSize = DefaultMaxTransferSize + 64
	DefaultBuffers      = 64
	DefaultQueueDepth   = 32
)

// TransportConfig holds the configuration of a transport endpoint.
type TransportConfig struct {
	// Endpoint is the address to dial or listen on (host:port or socket path)
	Endpoint string

	// MaxFrameSize bounds a single frame including all headers and checksums
	MaxFrameSize int

	// Buffers is the number of frame buffers of the endpoint
	Buffers int

	// QueueDepth is the number of received frames that may wait for Receive
	QueueDepth int

	// TCP specific settings
	TCPNoDelay      bool
	TCPKeepAliveSec int
}

// DefaultTransportConfig returns a configuration with sensible defaults
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxFrameSize: DefaultMaxFrameSize,
		Buffers:      DefaultBuffers,
		QueueDepth:   DefaultQueueDepth,
		TCPNoDelay:   true,
	}
}

// Validate checks the configuration for values the transport cannot work with
func (c *TransportConfig) Validate() error {
	if c.MaxFrameSize < CommandHeaderFixedLength+1 {
		return fmt.Errorf("max frame size must be at least %d, got %d", CommandHeaderFixedLength+1, c.MaxFrameSize)
	}
	if c.Buffers < 1 {
		return fmt.Errorf("buffers must be positive, got %d", c.Buffers)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("queue depth must be positive, got %d", c.QueueDepth)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *TransportConfig) String() string {
	var sb strings.Builder
	sb.WriteString("\nTRANSPORT\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Endpoint", c.Endpoint))
	sb.WriteString(fmt.Sprintf("  %-22s: %d bytes\n", "Max Frame Size", c.MaxFrameSize))
	sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "Buffers", c.Buffers))
	sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "Queue Depth", c.QueueDepth))
	sb.WriteString(fmt.Sprintf("  %-22s: %t\n", "TCP No Delay", c.TCPNoDelay))
	sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "TCP Keep Alive (s)", c.TCPKeepAliveSec))
	return sb.String()
}
