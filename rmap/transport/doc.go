// Package transport defines the contract between the RMAP engine and the
// packet link underneath it. A transport moves whole frames, each terminated
// by an end marker, and manages the buffers the frames live in.
//
// The package focuses on:
//   - A buffer oriented interface (request, send, receive, release)
//   - End markers that distinguish complete frames from aborted ones
//   - Common error values so callers can tell timeouts from broken links
//
// Key Components:
//
//   - Transport: the interface every link implementation satisfies.
//
//   - Buffer: one frame plus its end marker. A buffer obtained from
//     RequestBuffer or Receive is owned by the caller until it is passed to
//     Send or ReleaseBuffer.
//
// Implementations live in sub packages: loopback (in memory), and base with
// its tcp and unix connectors (frames tunneled over a stream socket).
package transport
