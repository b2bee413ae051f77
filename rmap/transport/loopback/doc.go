// Package loopback implements an in-memory point-to-point link. The two
// endpoints of a pair share one buffer arena; a sent frame is handed to the
// peer by reference, no bytes are copied.
//
// The link is meant for tests and for running an initiator against a
// simulated target inside one process. InjectFrame allows tests to place raw
// frames (foreign traffic, corrupted replies) in front of an endpoint.
package loopback
