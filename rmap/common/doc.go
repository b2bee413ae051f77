// Package common provides the data structures shared by every part of the
// RMAP stack: the packet model, reply status codes, the error taxonomy of the
// initiator engine, configuration structures and the logger integration.
//
// The package focuses on:
//   - The RMAP packet model (command and reply forms) and instruction bits
//   - Reply status codes as defined by the RMAP standard
//   - Error values and the result enumeration returned by the engine
//   - Configuration structures for the initiator and the simulated target
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Packet: one RMAP command or reply. The same struct is used for both
//     directions; the instruction byte decides which fields are meaningful.
//
//   - Status: the one byte reply status. StatusSuccess is the only value that
//     makes a read or write succeed.
//
//   - InitiatorConfig / TargetConfig: validated configuration with a
//     human-readable String() dump.
//
//   - Logger: custom logging implementation that plugs into the Dragonboat
//     logger factory so that every package logger shares one format.
package common
