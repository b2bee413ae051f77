// Package initiator implements the RMAP initiator engine: callers issue
// blocking memory reads and writes to remote target nodes, and a single
// receiver goroutine matches inbound replies to the waiting callers.
//
// The package focuses on:
//   - A fixed table of transactions with generation tagged identifiers
//   - One staging slot per transaction for read payloads
//   - A receive loop that reports liveness, counts and publishes foreign traffic
//   - Counters exposed in Prometheus format and latency timers
//
// Key Components:
//
//   - Engine: the public API (Write, WriteNode, Read, ReadNode, Start, Stop).
//
//   - transactionTable: N pre-allocated slots. A transaction id is
//     generation*N + slot; the slot's generation advances on every recycle so
//     a reply that arrives after its caller gave up cannot match the next
//     transaction using the same slot. Allocation takes slots from a FIFO free
//     list and fails with ErrNoFreeTransactions when it is empty.
//
//   - transaction: one request in flight with its own mutex and a one-shot
//     notification channel. The channel is armed before the command is sent,
//     so a reply that arrives before the caller starts waiting is not lost.
//
// Request Flow:
//
//	caller -> issue (setup lock: allocate, build command, send) -> wait
//	receiver -> Receive -> Decode -> lookup -> deliver (stage, signal)
//	caller -> inspect reply -> copy staged payload -> recycle
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use. Requests are issued one
//	at a time, waiting for replies happens concurrently.
package initiator
