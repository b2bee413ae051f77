package util

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/15201047795/outpost-core/lib/targets"
	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	"github.com/15201047795/outpost-core/rmap/transport/base"
	"github.com/15201047795/outpost-core/rmap/transport/tcp"
	"github.com/15201047795/outpost-core/rmap/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// SetupTransportFlags adds the transport flags to a command
func SetupTransportFlags(cmd *cobra.Command, defaultEndpoint string) {
	key := "endpoint"
	cmd.PersistentFlags().String(key, defaultEndpoint, WrapString("Address of the link: host:port for tcp, a socket path for unix"))

	key = "transport-max-frame"
	cmd.PersistentFlags().Int(key, common.DefaultMaxFrameSize, WrapString("Largest frame in bytes the transport accepts, including headers and checksums"))

	key = "transport-buffers"
	cmd.PersistentFlags().Int(key, common.DefaultBuffers, WrapString("Number of frame buffers of the transport"))

	key = "transport-queue"
	cmd.PersistentFlags().Int(key, common.DefaultQueueDepth, WrapString("Number of received frames that may wait to be processed"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval in seconds (only for tcp)"))
}

// SetupInitiatorFlags adds the engine and target node flags to a command
func SetupInitiatorFlags(cmd *cobra.Command) {
	key := "name"
	cmd.PersistentFlags().String(key, "", WrapString("Name of the initiator in logs and metrics (random if empty)"))

	key = "initiator-la"
	cmd.PersistentFlags().Uint8(key, common.DefaultInitiatorAddress, WrapString("Logical address of the initiator"))

	key = "max-transactions"
	cmd.PersistentFlags().Int(key, common.DefaultMaxTransactions, WrapString("Number of transactions that may be in flight at the same time"))

	key = "max-transfer"
	cmd.PersistentFlags().Int(key, common.DefaultMaxTransferSize, WrapString("Largest payload in bytes of a single read or write"))

	key = "receive-timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultReceiveTimeout, WrapString("Timeout of a single receive call of the receiver loop"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultTransactionTimeout, WrapString("How long to wait for a reply"))

	key = "target"
	cmd.PersistentFlags().String(key, "default", WrapString("Name of the target node. Nodes are read from the 'targets' list of the config file, the node described by the target-* flags is always called 'default'"))

	key = "target-la"
	cmd.PersistentFlags().Uint8(key, common.DefaultInitiatorAddress, WrapString("Logical address of the default target node"))

	key = "target-key"
	cmd.PersistentFlags().Uint8(key, 0, WrapString("Key of the default target node"))

	key = "target-path"
	cmd.PersistentFlags().String(key, "", WrapString("Path address bytes (hex) prepended to commands for the default target node"))

	key = "reply-path"
	cmd.PersistentFlags().String(key, "", WrapString("Reply address bytes (hex, up to 12) of the default target node"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files, an optional config file and the environment.
// The format of the environment variables is RMAP_<flag>, e.g. RMAP_TARGET_LA=66.
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("rmap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read config file %s: %w", file, err))
		}
	}
}

// GetTransportConfig reads the transport configuration from viper
func GetTransportConfig() common.TransportConfig {
	return common.TransportConfig{
		Endpoint:        viper.GetString("endpoint"),
		MaxFrameSize:    viper.GetInt("transport-max-frame"),
		Buffers:         viper.GetInt("transport-buffers"),
		QueueDepth:      viper.GetInt("transport-queue"),
		TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
	}
}

// GetInitiatorConfig reads the engine configuration from viper
func GetInitiatorConfig() common.InitiatorConfig {
	return common.InitiatorConfig{
		Name:                    viper.GetString("name"),
		InitiatorLogicalAddress: byte(viper.GetUint("initiator-la")),
		MaxTransactions:         viper.GetInt("max-transactions"),
		MaxTransferSize:         viper.GetInt("max-transfer"),
		ReceiveTimeout:          viper.GetDuration("receive-timeout"),
		LogLevel:                viper.GetString("log-level"),
	}
}

// GetTimeout returns the reply timeout
func GetTimeout() time.Duration {
	return viper.GetDuration("timeout")
}

// targetEntry is one element of the 'targets' list of the config file
type targetEntry struct {
	Name           string `mapstructure:"name"`
	LogicalAddress uint8  `mapstructure:"logical-address"`
	Key            uint8  `mapstructure:"key"`
	TargetPath     string `mapstructure:"target-path"`
	ReplyPath      string `mapstructure:"reply-path"`
	InitiatorLA    *uint8 `mapstructure:"initiator-la"`
}

// GetRegistry builds the target node table from the config file and the
// target-* flags
func GetRegistry() (*targets.Registry, error) {
	var entries []targetEntry
	if err := viper.UnmarshalKey("targets", &entries); err != nil {
		return nil, fmt.Errorf("invalid targets in config: %w", err)
	}

	nodes := make([]targets.TargetNode, 0, len(entries)+1)
	hasDefault := false
	for _, entry := range entries {
		node, err := entry.node()
		if err != nil {
			return nil, err
		}
		hasDefault = hasDefault || node.Name == "default"
		nodes = append(nodes, node)
	}

	if !hasDefault {
		node, err := targetEntry{
			Name:           "default",
			LogicalAddress: uint8(viper.GetUint("target-la")),
			Key:            uint8(viper.GetUint("target-key")),
			TargetPath:     viper.GetString("target-path"),
			ReplyPath:      viper.GetString("reply-path"),
		}.node()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	return targets.NewRegistry(nodes...)
}

func (e targetEntry) node() (targets.TargetNode, error) {
	targetPath, err := ParseBytes(e.TargetPath)
	if err != nil {
		return targets.TargetNode{}, fmt.Errorf("target %s: invalid target path: %w", e.Name, err)
	}
	replyPath, err := ParseBytes(e.ReplyPath)
	if err != nil {
		return targets.TargetNode{}, fmt.Errorf("target %s: invalid reply path: %w", e.Name, err)
	}

	node := targets.TargetNode{
		Name:           e.Name,
		LogicalAddress: e.LogicalAddress,
		Key:            e.Key,
		TargetPath:     targetPath,
		ReplyPath:      replyPath,
	}
	if e.InitiatorLA != nil {
		node.InitiatorLogicalAddress = *e.InitiatorLA
		node.OverrideInitiator = true
	}
	return node, nil
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// Dial connects the transport selected by the 'transport' flag
func Dial(config common.TransportConfig) (transport.Transport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.Dial(config)
	case "unix":
		return unix.Dial(config)
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// Listen creates a listener for the transport selected by the 'transport' flag
func Listen(config common.TransportConfig) (*base.Listener, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.Listen(config)
	case "unix":
		return unix.Listen(config)
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// ParseBytes decodes hex bytes. Separators (space, ':', '-', ',') and a
// leading 0x are ignored.
func ParseBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "", ",", "").Replace(s)
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// ParseAddress parses a 40 bit memory address given in decimal or with a
// 0x prefix and splits it into the extended address and the 32 bit address
func ParseAddress(s string) (byte, uint32, error) {
	v, err := strconv.ParseUint(s, 0, 40)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return byte(v >> 32), uint32(v), nil
}
