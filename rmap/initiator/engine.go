package initiator

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/15201047795/outpost-core/lib/heartbeat"
	"github.com/15201047795/outpost-core/lib/targets"
	"github.com/15201047795/outpost-core/lib/topic"
	"github.com/15201047795/outpost-core/rmap/codec"
	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rs/xid"
)

var Logger = logger.GetLogger("rmap/initiator")

// Options control a single read or write
type Options struct {
	// Increment the memory address for every data byte
	Increment bool
	// Verify asks the target to check the data before writing it (writes only)
	Verify bool
	// ReplyRequested makes a write wait for the target's reply. Reads always
	// request a reply.
	ReplyRequested bool
	// ExtendedAddress holds the upper 8 bits of a 40 bit memory address
	ExtendedAddress byte
}

// Option configures an Engine
type Option func(*Engine)

// WithRegistry sets the table used to resolve target names
func WithRegistry(registry *targets.Registry) Option {
	return func(e *Engine) { e.registry = registry }
}

// WithHeartbeat sets the sink the receiver reports its liveness to
func WithHeartbeat(sink heartbeat.Sink) Option {
	return func(e *Engine) { e.heartbeat = sink }
}

// WithForeignTopic publishes foreign frames to t instead of NonRmapPackets
func WithForeignTopic(t *topic.Topic[ForeignFrame]) Option {
	return func(e *Engine) { e.foreign = t }
}

// Engine is an RMAP initiator. Any number of goroutines may call Read and
// Write concurrently; a single receiver goroutine started by Start matches
// inbound replies to the waiting callers.
//
// Issuing a request (allocating a transaction, building the command and
// handing it to the transport) is serialized by one lock, waiting for the
// reply is not.
type Engine struct {
	config    common.InitiatorConfig
	transport transport.Transport
	heartbeat heartbeat.Sink
	foreign   *topic.Topic[ForeignFrame]
	registry  *targets.Registry

	// initiator logical addresses replies may be addressed to
	accepted [256]bool

	setupMu sync.Mutex
	table   *transactionTable
	staging *staging

	metrics *engineMetrics
	stats   *Stats

	discardedMu   sync.Mutex
	lastDiscarded common.Packet
	hasDiscarded  bool

	// used by the receiver goroutine only
	rxPacket common.Packet

	lifecycleMu sync.Mutex
	running     atomic.Bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// New creates an engine on top of tr. The receiver is not started.
func New(config common.InitiatorConfig, tr transport.Transport, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid initiator config: %w", err)
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: no transport", common.ErrInvalidParameters)
	}
	if config.Name == "" {
		config.Name = "initiator-" + xid.New().String()
	}

	e := &Engine{
		config:    config,
		transport: tr,
		heartbeat: heartbeat.Nop{},
		foreign:   NonRmapPackets,
		table:     newTransactionTable(config.MaxTransactions),
		staging:   newStaging(config.MaxTransactions, config.MaxTransferSize),
		stats:     newStats(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.accepted[config.InitiatorLogicalAddress] = true
	for _, node := range e.registry.Nodes() {
		if node.OverrideInitiator {
			e.accepted[node.InitiatorLogicalAddress] = true
		}
	}

	e.metrics = newEngineMetrics(config.Name, func() float64 { return float64(e.table.inUse()) })
	return e, nil
}

// Name returns the engine name used in logs, metrics and liveness reports
func (e *Engine) Name() string {
	return e.config.Name
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() common.InitiatorConfig {
	return e.config
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start launches the receiver goroutine
func (e *Engine) Start() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.running.Load() {
		return fmt.Errorf("initiator %s already running", e.config.Name)
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.running.Store(true)

	go e.receive(e.stopCh, e.doneCh)
	return nil
}

// Stop asks the receiver to exit and waits until it did. Requests still
// waiting for a reply run into their timeout. The transport is not closed.
func (e *Engine) Stop() {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if !e.running.Load() {
		return
	}
	e.running.Store(false)
	close(e.stopCh)
	<-e.doneCh
}

// Running reports whether the receiver goroutine is active
func (e *Engine) Running() bool {
	return e.running.Load()
}

// --------------------------------------------------------------------------
// Write
// --------------------------------------------------------------------------

// Write writes data to the memory of the named target node.
//
// Without opts.ReplyRequested the call returns as soon as the transport
// accepted the command. Otherwise it waits up to timeout for the reply and
// fails with an *common.ExecutionError if the target reports an error.
func (e *Engine) Write(target string, opts Options, address uint32, data []byte, timeout time.Duration) error {
	node, ok := e.registry.Lookup(target)
	if !ok {
		err := fmt.Errorf("%w: unknown target %q", common.ErrInvalidParameters, target)
		e.metrics.result("write", err)
		return err
	}
	return e.WriteNode(node, opts, address, data, timeout)
}

// WriteNode is Write for an already resolved target node
func (e *Engine) WriteNode(node *targets.TargetNode, opts Options, address uint32, data []byte, timeout time.Duration) error {
	start := time.Now()
	err := e.write(node, opts, address, data, timeout)
	e.metrics.result("write", err)

	if err == nil {
		if opts.ReplyRequested {
			e.stats.Write.UpdateSince(start)
			e.metrics.roundTrip.UpdateDuration(start)
		} else {
			e.stats.Post.UpdateSince(start)
		}
	}
	return err
}

func (e *Engine) write(node *targets.TargetNode, opts Options, address uint32, data []byte, timeout time.Duration) error {
	switch {
	case node == nil:
		return fmt.Errorf("%w: no target", common.ErrInvalidParameters)
	case len(data) == 0:
		return fmt.Errorf("%w: empty payload", common.ErrInvalidParameters)
	case len(data) > e.config.MaxTransferSize:
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", common.ErrInvalidParameters, len(data), e.config.MaxTransferSize)
	case timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", common.ErrInvalidParameters)
	case opts.ReplyRequested && !e.running.Load():
		return common.ErrStopped
	}

	tx, err := e.issue(node, opts, true, address, data, uint32(len(data)), opts.ReplyRequested, timeout)
	if err != nil {
		return err
	}
	defer e.table.recycle(tx)

	if !opts.ReplyRequested {
		st, _, _ := tx.snapshot()
		if st != stateInitiated {
			return fmt.Errorf("%w: transaction %d in state %s", common.ErrSendFailed, tx.id, st)
		}
		return nil
	}

	tx.wait(timeout)

	st, status, _ := tx.snapshot()
	if st != stateReplyReceived {
		e.metrics.timeouts.Inc()
		Logger.Warningf("Write to %s at 0x%02X:%08X timed out after %s (transaction %d)",
			node.Name, opts.ExtendedAddress, address, timeout, tx.id)
		return common.ErrTimeout
	}
	if status != common.StatusSuccess {
		return &common.ExecutionError{Status: status}
	}
	return nil
}

// --------------------------------------------------------------------------
// Read
// --------------------------------------------------------------------------

// Read fills dst from the memory of the named target node and returns the
// number of bytes read. The reply must carry exactly len(dst) bytes:
// ErrInvalidReply is returned for longer replies, ErrReplyTooShort for
// shorter ones, and dst is left untouched in both cases.
func (e *Engine) Read(target string, opts Options, address uint32, dst []byte, timeout time.Duration) (int, error) {
	node, ok := e.registry.Lookup(target)
	if !ok {
		err := fmt.Errorf("%w: unknown target %q", common.ErrInvalidParameters, target)
		e.metrics.result("read", err)
		return 0, err
	}
	return e.ReadNode(node, opts, address, dst, timeout)
}

// ReadNode is Read for an already resolved target node
func (e *Engine) ReadNode(node *targets.TargetNode, opts Options, address uint32, dst []byte, timeout time.Duration) (int, error) {
	start := time.Now()
	n, err := e.read(node, opts, address, dst, timeout)
	e.metrics.result("read", err)

	if err == nil {
		e.stats.Read.UpdateSince(start)
		e.metrics.roundTrip.UpdateDuration(start)
	}
	return n, err
}

func (e *Engine) read(node *targets.TargetNode, opts Options, address uint32, dst []byte, timeout time.Duration) (int, error) {
	switch {
	case node == nil:
		return 0, fmt.Errorf("%w: no target", common.ErrInvalidParameters)
	case len(dst) == 0:
		return 0, fmt.Errorf("%w: empty destination", common.ErrInvalidParameters)
	case len(dst) > e.config.MaxTransferSize:
		return 0, fmt.Errorf("%w: read of %d bytes exceeds %d", common.ErrInvalidParameters, len(dst), e.config.MaxTransferSize)
	case timeout <= 0:
		return 0, fmt.Errorf("%w: timeout must be positive", common.ErrInvalidParameters)
	case !e.running.Load():
		return 0, common.ErrStopped
	}

	tx, err := e.issue(node, opts, false, address, nil, uint32(len(dst)), true, timeout)
	if err != nil {
		return 0, err
	}
	defer e.table.recycle(tx)

	tx.wait(timeout)

	tx.mu.Lock()
	defer tx.mu.Unlock()

	switch length := int(tx.reply.DataLength); {
	case tx.state != stateReplyReceived:
		e.metrics.timeouts.Inc()
		Logger.Warningf("Read from %s at 0x%02X:%08X timed out after %s (transaction %d)",
			node.Name, opts.ExtendedAddress, address, timeout, tx.id)
		return 0, common.ErrTimeout
	case tx.reply.Status != common.StatusSuccess:
		return 0, &common.ExecutionError{Status: tx.reply.Status}
	case length > len(dst):
		return 0, fmt.Errorf("%w: got %d bytes, expected %d", common.ErrInvalidReply, length, len(dst))
	case length < len(dst):
		return 0, fmt.Errorf("%w: got %d bytes, expected %d", common.ErrReplyTooShort, length, len(dst))
	default:
		return copy(dst, e.staging.slot(tx.slot)[:tx.staged]), nil
	}
}

// --------------------------------------------------------------------------
// Request issuing
// --------------------------------------------------------------------------

// issue allocates a transaction, builds the command and sends it, all under
// the setup lock. On success the caller owns the returned transaction and
// must recycle it.
func (e *Engine) issue(node *targets.TargetNode, opts Options, write bool, address uint32, data []byte,
	length uint32, blocking bool, timeout time.Duration) (*transaction, error) {

	e.setupMu.Lock()
	defer e.setupMu.Unlock()

	tx := e.table.allocate()
	if tx == nil {
		Logger.Warningf("No free transaction for %s (%d in flight)", node.Name, e.table.capacity())
		return nil, common.ErrNoFreeTransactions
	}

	tx.mu.Lock()
	cmd := &tx.command
	cmd.Reset()
	cmd.SetCommand()
	if write {
		cmd.SetWrite()
		cmd.SetVerify(opts.Verify)
	} else {
		cmd.SetRead()
	}
	cmd.SetIncrement(opts.Increment)
	cmd.SetReplyRequested(blocking)
	cmd.TargetPath = append(cmd.TargetPath, node.TargetPath...)
	if err := cmd.SetReplyPath(node.ReplyPath); err != nil {
		tx.mu.Unlock()
		e.table.recycle(tx)
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidParameters, err)
	}
	cmd.InitiatorLogicalAddress = node.InitiatorAddress(e.config.InitiatorLogicalAddress)
	cmd.TargetLogicalAddress = node.LogicalAddress
	cmd.Key = node.Key
	cmd.ExtendedAddress = opts.ExtendedAddress
	cmd.Address = address
	cmd.TransactionID = tx.id
	cmd.DataLength = length

	tx.blocking = blocking
	tx.timeout = timeout
	// armed before the command leaves so a fast reply cannot be lost
	tx.arm()
	tx.mu.Unlock()

	if err := e.send(cmd, data, timeout); err != nil {
		e.metrics.sendFailures.Inc()
		Logger.Errorf("Sending %s to %s failed: %v", cmd, node.Name, err)
		e.table.recycle(tx)
		return nil, err
	}
	e.metrics.commandsSent.Inc()

	tx.mu.Lock()
	if tx.state == stateIdle {
		tx.state = stateInitiated
		if blocking {
			tx.state = stateCommandSent
		}
	}
	tx.mu.Unlock()

	return tx, nil
}

// send encodes cmd into a transport buffer and hands it to the transport
func (e *Engine) send(cmd *common.Packet, data []byte, timeout time.Duration) error {
	buf, err := e.transport.RequestBuffer(timeout)
	if err != nil {
		return fmt.Errorf("%w: no transport buffer: %v", common.ErrSendFailed, err)
	}

	frame := buf.Data[:cap(buf.Data)]
	n, err := codec.EncodeCommand(cmd, data, frame)
	if err != nil {
		e.transport.ReleaseBuffer(buf)
		return fmt.Errorf("%w: %v", common.ErrSendFailed, err)
	}
	buf.Data = frame[:n]
	buf.End = transport.EOP

	Logger.Debugf("Sending %s: % X", cmd, buf.Data)

	if err := e.transport.Send(buf, timeout); err != nil {
		return fmt.Errorf("%w: %v", common.ErrSendFailed, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Diagnostics
// --------------------------------------------------------------------------

// Counters returns a snapshot of the packet counters
func (e *Engine) Counters() Counters {
	return e.metrics.snapshot()
}

// Stats returns the latency timers
func (e *Engine) Stats() *Stats {
	return e.stats
}

// InFlight returns the number of allocated transactions
func (e *Engine) InFlight() int {
	return e.table.inUse()
}

// LastDiscarded returns a copy of the last reply that matched no transaction
func (e *Engine) LastDiscarded() (common.Packet, bool) {
	e.discardedMu.Lock()
	defer e.discardedMu.Unlock()

	var pkt common.Packet
	if e.hasDiscarded {
		pkt.CopyFrom(&e.lastDiscarded)
	}
	return pkt, e.hasDiscarded
}

// WritePrometheus writes the engine's counters in Prometheus text format
func (e *Engine) WritePrometheus(w io.Writer) {
	e.metrics.writePrometheus(w)
}
