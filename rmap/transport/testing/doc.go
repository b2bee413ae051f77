// Package testing provides a conformance suite for implementations of the
// transport.Transport interface.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(t *testing.T) (transport.Transport, transport.Transport) {
//		a, b := newConnectedPair(t)
//		return a, b
//	}
//
//	// Running the standard test suite
//	transporttesting.RunTransportTests(t, "MyTransport", factory)
package testing
