package initiator

import (
	"errors"
	"fmt"
	"time"

	"github.com/15201047795/outpost-core/rmap/codec"
	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	"github.com/rs/xid"
)

// receive is the receiver loop. It runs until stop is closed.
func (e *Engine) receive(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	margin := 2 * e.config.ReceiveTimeout
	linkDown := false
	Logger.Infof("Receiver of %s started", e.config.Name)

	for {
		select {
		case <-stop:
			e.heartbeat.Suspend(e.config.Name)
			Logger.Infof("Receiver of %s stopped", e.config.Name)
			return
		default:
		}

		e.heartbeat.Send(e.config.Name, margin)

		buf, err := e.transport.Receive(e.config.ReceiveTimeout)
		switch {
		case err == nil:
			linkDown = false
			e.handleFrame(buf)
			e.transport.ReleaseBuffer(buf)

		case errors.Is(err, transport.ErrTimeout):

		case errors.Is(err, transport.ErrClosed):
			if !linkDown {
				Logger.Errorf("Transport of %s is closed, no more replies will arrive", e.config.Name)
				linkDown = true
			}
			// keep reporting liveness without spinning
			select {
			case <-stop:
			case <-time.After(e.config.ReceiveTimeout):
			}

		default:
			Logger.Errorf("Receive failed: %v", err)
		}
	}
}

// handleFrame processes one received frame. buf is released by the caller,
// nothing may keep a reference to buf.Data.
func (e *Engine) handleFrame(buf *transport.Buffer) {
	if buf.End != transport.EOP {
		e.metrics.wrongEndMarkers.Inc()
		Logger.Warningf("Discarding frame of %d bytes terminated by %s", len(buf.Data), buf.End)
		return
	}

	pkt := &e.rxPacket
	if err := codec.Decode(buf.Data, pkt); err != nil {
		e.publishForeign(buf.Data, err)
		return
	}

	if pkt.IsCommand() {
		e.metrics.erroneousReplies.Inc()
		Logger.Warningf("Discarding unexpected command: %s", pkt)
		return
	}
	if !e.accepted[pkt.InitiatorLogicalAddress] {
		e.publishForeign(buf.Data, fmt.Errorf("%w: 0x%02X", codec.ErrWrongInitiator, pkt.InitiatorLogicalAddress))
		return
	}

	e.metrics.repliesReceived.Inc()
	Logger.Debugf("Received %s", pkt)

	if !e.deliver(pkt) {
		e.metrics.discardedReplies.Inc()
		Logger.Warningf("Discarding reply without matching transaction: %s", pkt)

		e.discardedMu.Lock()
		e.lastDiscarded.CopyFrom(pkt)
		e.hasDiscarded = true
		e.discardedMu.Unlock()
	}
}

// deliver attaches reply to its transaction and wakes up the caller.
// It returns false if no live transaction matches.
func (e *Engine) deliver(reply *common.Packet) bool {
	tx := e.table.lookup(reply.TransactionID)
	if tx == nil {
		return false
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if !tx.used || tx.id != reply.TransactionID || tx.state == stateReplyReceived {
		return false
	}
	if tx.command.IsWrite() != reply.IsWrite() {
		return false
	}

	if reply.IsRead() {
		tx.staged = copy(e.staging.slot(tx.slot), reply.Data)
		if tx.staged < len(reply.Data) {
			e.metrics.storeErrors.Inc()
			Logger.Warningf("Reply %d carries %d bytes, only %d fit the staging slot",
				reply.TransactionID, len(reply.Data), tx.staged)
		}
	}

	tx.reply.CopyHeaderFrom(reply)
	tx.hasReply = true
	tx.state = stateReplyReceived
	if tx.blocking {
		tx.signal()
	}
	return true
}

// publishForeign counts a frame that is not RMAP and hands a copy to the
// foreign traffic topic
func (e *Engine) publishForeign(data []byte, err error) {
	e.metrics.nonRmapPackets.Inc()

	frame := ForeignFrame{
		ID:       xid.New(),
		Engine:   e.config.Name,
		Received: time.Now(),
		Data:     append([]byte(nil), data...),
		Err:      err,
	}

	if errors.Is(err, codec.ErrNotRmap) {
		Logger.Debugf("Received non-RMAP frame %s of %d bytes", frame.ID, len(data))
	} else {
		Logger.Warningf("Received malformed RMAP frame %s of %d bytes: %v", frame.ID, len(data), err)
	}

	e.foreign.Publish(frame)
}
