// Package base tunnels transport frames over a stream connection (TCP, Unix
// sockets, etc.). It implements transport.Transport on top of a net.Conn and
// can be extended with protocol specific connectors.
//
// The package focuses on:
//   - Protocol-agnostic stream transport implementation
//   - Frame based wire format that preserves the end marker of each frame
//   - Background reading so that Receive never touches the socket
//   - Connector interfaces for dialing and listening
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - streamTransport: transport.Transport over a single connection. A reader
//     goroutine fills buffers from the connection and queues them for Receive.
//
//   - Listener: accepts connections and wraps each one in a stream transport.
//
// Wire Format:
//
// Every frame is written as a 5 byte header followed by the payload:
//
//	4 bytes  payload length (uint32, big endian)
//	1 byte   end marker (0 = EOP, 1 = EEP)
//	N bytes  payload
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes are serialized with a mutex and
//	use net.Buffers so that header and payload leave in a single write.
package base
