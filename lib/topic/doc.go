// Package topic provides a small generic publish/subscribe primitive.
//
// Features and Guarantees:
//
//   - Non-blocking publish: Publish never waits for a subscriber. Every
//     subscription owns an unbounded queue that absorbs bursts.
//   - Per-subscription order: values published by one goroutine arrive at a
//     subscriber in publish order.
//   - Late subscribers only see values published after Subscribe returned.
//   - Closing a subscription drops the values it did not receive yet and
//     counts them, the subscriber does not have to drain C.
//
// It is used by the initiator to announce frames that are not RMAP packets
// without slowing down its receive loop.
package topic
