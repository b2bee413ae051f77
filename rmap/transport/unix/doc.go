// Package unix implements the Unix domain socket based stream transport,
// mainly used to connect an initiator to a simulated target on the same
// host. See the base package for the frame format.
package unix
