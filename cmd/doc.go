// Package cmd implements the rmapctl command-line interface. It provides a
// hierarchical command structure for talking to RMAP target nodes as an
// initiator and for running a simulated target.
//
// The package is organized into several subpackages:
//
//   - mem: Commands for memory access through an initiator engine (read, write, perf)
//   - target: Command for running a simulated target node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See rmapctl -help for a list of all commands.
package cmd
