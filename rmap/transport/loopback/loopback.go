package loopback

import (
	"fmt"
	"sync"
	"time"

	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rmap/transport")

// link is the state shared by both endpoints
type link struct {
	buffers *transport.Buffers
	closed  chan struct{}
	once    sync.Once
}

// Endpoint is one side of a loopback link
type Endpoint struct {
	name    string
	link    *link
	inbound chan *transport.Buffer
	peer    *Endpoint
}

// NewPair creates a connected pair of endpoints
func NewPair(config common.TransportConfig) (*Endpoint, *Endpoint, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid transport config: %w", err)
	}

	l := &link{
		buffers: transport.NewBuffers(config.Buffers, config.MaxFrameSize),
		closed:  make(chan struct{}),
	}
	a := &Endpoint{name: "loopback/a", link: l, inbound: make(chan *transport.Buffer, config.QueueDepth)}
	b := &Endpoint{name: "loopback/b", link: l, inbound: make(chan *transport.Buffer, config.QueueDepth)}
	a.peer, b.peer = b, a
	return a, b, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.Transport)
// --------------------------------------------------------------------------

func (e *Endpoint) RequestBuffer(timeout time.Duration) (*transport.Buffer, error) {
	return e.link.buffers.Request(timeout)
}

func (e *Endpoint) Send(buf *transport.Buffer, timeout time.Duration) error {
	buffers := e.link.buffers

	// the queue holds its own reference, the sender's one is dropped on return
	buffers.Retain(buf)
	defer buffers.Release(buf)

	if err := e.peer.enqueue(buf, timeout); err != nil {
		buffers.Release(buf)
		return err
	}
	return nil
}

func (e *Endpoint) Receive(timeout time.Duration) (*transport.Buffer, error) {
	select {
	case buf := <-e.inbound:
		return buf, nil
	case <-e.link.closed:
		return nil, transport.ErrClosed
	default:
	}

	timer, stop := transport.Timer(timeout)
	defer stop()

	select {
	case buf := <-e.inbound:
		return buf, nil
	case <-timer:
		return nil, transport.ErrTimeout
	case <-e.link.closed:
		return nil, transport.ErrClosed
	}
}

func (e *Endpoint) ReleaseBuffer(buf *transport.Buffer) {
	e.link.buffers.Release(buf)
}

func (e *Endpoint) Close() error {
	e.link.once.Do(func() {
		close(e.link.closed)
		e.drain()
		e.peer.drain()
		e.link.buffers.Close()
		Logger.Debugf("Loopback link closed by %s", e.name)
	})
	return nil
}

// --------------------------------------------------------------------------
// Test Helpers
// --------------------------------------------------------------------------

// InjectFrame copies data into a fresh buffer and queues it for Receive on
// this endpoint as if the peer had sent it
func (e *Endpoint) InjectFrame(data []byte, end transport.EndMarker) error {
	buf, err := e.RequestBuffer(0)
	if err != nil {
		return err
	}
	if err := buf.Resize(len(data)); err != nil {
		e.ReleaseBuffer(buf)
		return err
	}
	copy(buf.Data, data)
	buf.End = end

	if err := e.enqueue(buf, 0); err != nil {
		e.ReleaseBuffer(buf)
		return err
	}
	return nil
}

// FreeBuffers returns the number of unused buffers of the link
func (e *Endpoint) FreeBuffers() int {
	return e.link.buffers.Free()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// enqueue puts buf in front of this endpoint's receiver
func (e *Endpoint) enqueue(buf *transport.Buffer, timeout time.Duration) error {
	select {
	case <-e.link.closed:
		return transport.ErrClosed
	default:
	}

	select {
	case e.inbound <- buf:
		return nil
	default:
	}

	timer, stop := transport.Timer(timeout)
	defer stop()

	select {
	case e.inbound <- buf:
		return nil
	case <-timer:
		return transport.ErrTimeout
	case <-e.link.closed:
		return transport.ErrClosed
	}
}

// drain releases every queued buffer
func (e *Endpoint) drain() {
	for {
		select {
		case buf := <-e.inbound:
			e.link.buffers.Release(buf)
		default:
			return
		}
	}
}
