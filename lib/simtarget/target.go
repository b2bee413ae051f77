package simtarget

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/15201047795/outpost-core/rmap/codec"
	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rmap/target")

// addressSpace is the size of the 40 bit RMAP address space
const addressSpace = uint64(1) << 40

// Faults alters the replies of a target. The zero value means regular operation.
type Faults struct {
	// DropReplies executes commands but never answers
	DropReplies bool
	// Delay postpones every reply. Commands are processed in order, so the
	// commands queued behind a delayed reply wait as well.
	Delay time.Duration
	// ForceStatus replaces the status of every reply when OverrideStatus is set
	ForceStatus    common.Status
	OverrideStatus bool
	// DataLength replaces the data length of read replies when OverrideLength
	// is set. The payload is truncated or zero padded to match.
	DataLength     uint32
	OverrideLength bool
	// TransactionIDDelta is added to the transaction id of every reply
	TransactionIDDelta uint16
	// CorruptHeaderCRC flips the bits of the reply's header checksum
	CorruptHeaderCRC bool
}

// Stats counts what the target processed
type Stats struct {
	Commands  uint64
	Replies   uint64
	Discarded uint64
}

// Target is a simulated RMAP target node
type Target struct {
	config common.TargetConfig
	memory *memory
	faults atomic.Pointer[Faults]

	commands  atomic.Uint64
	replies   atomic.Uint64
	discarded atomic.Uint64

	mu     sync.Mutex // orders wg.Add against closing
	closed chan struct{}
	wg     sync.WaitGroup
}

// New creates a target with empty memory
func New(config common.TargetConfig) (*Target, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target config: %w", err)
	}
	t := &Target{
		config: config,
		memory: newMemory(),
		closed: make(chan struct{}),
	}
	t.faults.Store(&Faults{})
	return t, nil
}

// SetFaults replaces the active fault configuration
func (t *Target) SetFaults(f Faults) {
	t.faults.Store(&f)
}

// Faults returns the active fault configuration
func (t *Target) Faults() Faults {
	return *t.faults.Load()
}

// Poke writes directly into the target memory
func (t *Target) Poke(extAddress byte, address uint32, data []byte) {
	t.memory.write(fullAddress(extAddress, address), data, true)
}

// Peek reads directly from the target memory
func (t *Target) Peek(extAddress byte, address uint32, n int) []byte {
	dst := make([]byte, n)
	t.memory.read(fullAddress(extAddress, address), dst, true)
	return dst
}

// Stats returns the processing counters
func (t *Target) Stats() Stats {
	return Stats{
		Commands:  t.commands.Load(),
		Replies:   t.replies.Load(),
		Discarded: t.discarded.Load(),
	}
}

// Serve answers commands arriving on tr until tr is closed or Close is
// called. It may be called for several transports concurrently. After Close
// it returns nil right away.
func (t *Target) Serve(tr transport.Transport) error {
	if !t.register() {
		return nil
	}
	defer t.wg.Done()
	return t.serve(tr)
}

// Go starts a Serve loop for tr in a new goroutine. The loop is registered
// before Go returns, so a following Close waits for it. The returned channel
// receives the result of the loop.
func (t *Target) Go(tr transport.Transport) <-chan error {
	errc := make(chan error, 1)
	if !t.register() {
		errc <- nil
		return errc
	}
	go func() {
		defer t.wg.Done()
		errc <- t.serve(tr)
	}()
	return errc
}

// Close stops all Serve loops and waits for them to return
func (t *Target) Close() {
	t.mu.Lock()
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	t.mu.Unlock()

	t.wg.Wait()
}

// register adds a serve loop to the wait group unless the target is closed
func (t *Target) register() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.closed:
		return false
	default:
	}
	t.wg.Add(1)
	return true
}

func (t *Target) serve(tr transport.Transport) error {
	for {
		select {
		case <-t.closed:
			return nil
		default:
		}

		buf, err := tr.Receive(t.config.ReceiveTimeout)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrTimeout):
			continue
		case errors.Is(err, transport.ErrClosed):
			return nil
		default:
			return fmt.Errorf("receive: %w", err)
		}

		reply := t.handle(buf.Data, buf.End)
		tr.ReleaseBuffer(buf)

		if reply != nil {
			t.sendReply(tr, reply)
		}
	}
}

// --------------------------------------------------------------------------
// Command processing
// --------------------------------------------------------------------------

// handle executes one command and returns the encoded reply, or nil if no
// reply is due
func (t *Target) handle(frame []byte, end transport.EndMarker) []byte {
	// the target is the last hop, consume the path address bytes
	for len(frame) > 0 && frame[0] < 0x20 {
		frame = frame[1:]
	}

	var cmd common.Packet
	err := codec.Decode(frame, &cmd)

	switch {
	case err != nil && !errors.Is(err, codec.ErrDataField):
		t.discarded.Add(1)
		Logger.Warningf("Discarding frame of %d bytes: %v", len(frame), err)
		return nil
	case cmd.IsReply():
		t.discarded.Add(1)
		Logger.Warningf("Discarding reply received by target: %s", &cmd)
		return nil
	}

	t.commands.Add(1)
	Logger.Debugf("Executing %s", &cmd)

	reply := common.Packet{
		InitiatorLogicalAddress: cmd.InitiatorLogicalAddress,
		TargetLogicalAddress:    t.config.LogicalAddress,
		TransactionID:           cmd.TransactionID,
		Instruction:             cmd.Instruction &^ common.InstrCommand,
	}
	reply.Status = t.execute(&cmd, err, end, &reply)

	if !cmd.IsReplyRequested() {
		return nil
	}
	return t.encodeReply(&reply)
}

// execute validates and runs a command. For successful reads the data is
// stored in reply.
func (t *Target) execute(cmd *common.Packet, decodeErr error, end transport.EndMarker, reply *common.Packet) common.Status {
	switch {
	case end == transport.EEP:
		return common.StatusEEP
	case errors.Is(decodeErr, codec.ErrDataCRC):
		return common.StatusInvalidDataCRC
	case errors.Is(decodeErr, codec.ErrTruncated):
		return common.StatusEarlyEOP
	case errors.Is(decodeErr, codec.ErrTooMuchData):
		return common.StatusTooMuchData
	case cmd.TargetLogicalAddress != t.config.LogicalAddress:
		return common.StatusInvalidLogicalAddress
	case cmd.Key != t.config.Key:
		return common.StatusInvalidKey
	case cmd.IsRead() && cmd.IsVerify():
		// read-modify-write
		return common.StatusNotImplemented
	case cmd.IsWrite() && cmd.IsVerify() && int(cmd.DataLength) > t.config.MaxDataLength:
		return common.StatusVerifyBufferOverrun
	case int(cmd.DataLength) > t.config.MaxDataLength || !t.inRange(cmd):
		return common.StatusNotImplemented
	}

	address := fullAddress(cmd.ExtendedAddress, cmd.Address)
	if cmd.IsWrite() {
		t.memory.write(address, cmd.Data, cmd.IsIncrement())
		return common.StatusSuccess
	}

	reply.DataLength = cmd.DataLength
	reply.Data = make([]byte, cmd.DataLength)
	t.memory.read(address, reply.Data, cmd.IsIncrement())
	return common.StatusSuccess
}

// inRange checks the accessed region against the memory size
func (t *Target) inRange(cmd *common.Packet) bool {
	size := t.config.MemorySize
	if size == 0 || size > addressSpace {
		size = addressSpace
	}
	start := fullAddress(cmd.ExtendedAddress, cmd.Address)
	length := uint64(cmd.DataLength)
	if !cmd.IsIncrement() && length > 0 {
		length = 1
	}
	return start < size && length <= size-start
}

// encodeReply applies the configured faults and encodes the reply
func (t *Target) encodeReply(reply *common.Packet) []byte {
	faults := t.faults.Load()

	if faults.OverrideStatus {
		reply.Status = faults.ForceStatus
	}
	if faults.OverrideLength && reply.IsRead() {
		reply.DataLength = faults.DataLength
	}
	if reply.IsWrite() || (reply.Status != common.StatusSuccess && !faults.OverrideLength) {
		reply.DataLength = 0
		reply.Data = nil
	}
	reply.TransactionID += faults.TransactionIDDelta

	frame, err := codec.EncodeReply(reply)
	if err != nil {
		Logger.Errorf("Failed to encode reply %s: %v", reply, err)
		return nil
	}
	if faults.CorruptHeaderCRC {
		frame[reply.HeaderLength()] ^= 0xFF
	}
	return frame
}

// sendReply hands a reply to the transport honouring the delay and drop faults
func (t *Target) sendReply(tr transport.Transport, frame []byte) {
	faults := t.faults.Load()
	if faults.DropReplies {
		return
	}
	if faults.Delay > 0 {
		select {
		case <-time.After(faults.Delay):
		case <-t.closed:
			return
		}
	}

	buf, err := tr.RequestBuffer(t.config.ReceiveTimeout)
	if err != nil {
		Logger.Errorf("No buffer for reply: %v", err)
		return
	}
	if err := buf.Resize(len(frame)); err != nil {
		tr.ReleaseBuffer(buf)
		Logger.Errorf("Reply of %d bytes does not fit a buffer", len(frame))
		return
	}
	copy(buf.Data, frame)
	buf.End = transport.EOP

	if err := tr.Send(buf, t.config.ReceiveTimeout); err != nil {
		Logger.Errorf("Failed to send reply: %v", err)
		return
	}
	t.replies.Add(1)
}

func fullAddress(extAddress byte, address uint32) uint64 {
	return uint64(extAddress)<<32 | uint64(address)
}
