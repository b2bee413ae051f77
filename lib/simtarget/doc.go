// Package simtarget implements a simulated RMAP target node. It serves
// commands received over any transport.Transport against a sparse memory and
// answers with standard status codes.
//
// Besides regular operation the target supports fault injection, which the
// initiator tests use to provoke timeouts, remote errors, length mismatches,
// stale transaction identifiers and corrupted replies.
//
// The target acts as the last router hop: leading path address bytes
// (values below 0x20) are stripped from received commands, and replies are
// sent back on the link they arrived on without a reply path prefix.
package simtarget
