// Package tcp implements the TCP socket based stream transport. It provides
// concrete implementations of the base package's connector interfaces.
//
// This package builds on the base package's stream transport. See the base
// package documentation for the frame format and threading model.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Nagle's algorithm is disabled by default since RMAP frames are small and
// latency bound.
package tcp
