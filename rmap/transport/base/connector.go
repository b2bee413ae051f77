package base

import (
	"errors"
	"fmt"
	"net"

	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.TransportConfig) error
}

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(endpoint string) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.TransportConfig) error
}

// -----------------------------------------------------------
// Client Side
// -----------------------------------------------------------

// Dial connects to config.Endpoint and returns a stream transport for the connection
func Dial(connector IClientConnector, config common.TransportConfig) (transport.Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	conn, err := connector.Connect(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", config.Endpoint, err)
	}

	if err := connector.UpgradeConnection(conn, config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %v", config.Endpoint, err)
	}

	Logger.Infof("Connected to %s using %s transport", config.Endpoint, connector.GetName())
	return NewStreamTransport(conn, config), nil
}

// -----------------------------------------------------------
// Server Side
// -----------------------------------------------------------

// Listener accepts connections and wraps each one in a stream transport
type Listener struct {
	connector IServerConnector
	config    common.TransportConfig
	listener  net.Listener
}

// Listen creates a listener on config.Endpoint
func Listen(connector IServerConnector, config common.TransportConfig) (*Listener, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	listener, err := connector.Listen(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %v", err)
	}

	Logger.Infof("Listening for %s connections on %s", connector.GetName(), listener.Addr())
	return &Listener{connector: connector, config: config, listener: listener}, nil
}

// Addr returns the address the listener is bound to
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept waits for the next connection
func (l *Listener) Accept() (transport.Transport, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}

	if err := l.connector.UpgradeConnection(conn, l.config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
	}

	Logger.Infof("Accepted %s connection from %s", l.connector.GetName(), conn.RemoteAddr())
	return NewStreamTransport(conn, l.config), nil
}

// Serve accepts connections until the listener is closed and runs handler
// for each one in its own goroutine
func (l *Listener) Serve(handler func(transport.Transport)) error {
	for {
		tr, err := l.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		go handler(tr)
	}
}

// Close stops accepting connections. Established transports stay open.
func (l *Listener) Close() error {
	return l.listener.Close()
}
