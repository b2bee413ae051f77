package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/15201047795/outpost-core/rmap/common"
	"github.com/15201047795/outpost-core/rmap/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rmap/transport")

// streamTransport implements transport.Transport over a single connection
type streamTransport struct {
	conn    net.Conn
	name    string
	buffers *transport.Buffers
	inbound chan *transport.Buffer

	writeMu sync.Mutex // Protects writes to the connection

	closed chan struct{}
	once   sync.Once
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewStreamTransport wraps an established connection and starts reading
// frames from it
func NewStreamTransport(conn net.Conn, config common.TransportConfig) transport.Transport {
	t := &streamTransport{
		conn:    conn,
		name:    conn.RemoteAddr().String(),
		buffers: transport.NewBuffers(config.Buffers, config.MaxFrameSize),
		inbound: make(chan *transport.Buffer, config.QueueDepth),
		closed:  make(chan struct{}),
	}

	go t.readFrames()
	return t
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.Transport)
// --------------------------------------------------------------------------

func (t *streamTransport) RequestBuffer(timeout time.Duration) (*transport.Buffer, error) {
	return t.buffers.Request(timeout)
}

func (t *streamTransport) Send(buf *transport.Buffer, timeout time.Duration) error {
	defer t.buffers.Release(buf)

	select {
	case <-t.closed:
		return transport.ErrClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: failed to set write deadline: %v", transport.ErrClosed, err)
	}

	if err := writeFrame(t.conn, buf.End, buf.Data); err != nil {
		// a partially written frame breaks the framing of the stream
		go t.Close()

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return transport.ErrTimeout
		}
		return fmt.Errorf("%w: %v", transport.ErrClosed, err)
	}
	return nil
}

func (t *streamTransport) Receive(timeout time.Duration) (*transport.Buffer, error) {
	select {
	case buf := <-t.inbound:
		return buf, nil
	case <-t.closed:
		return nil, transport.ErrClosed
	default:
	}

	timer, stop := transport.Timer(timeout)
	defer stop()

	select {
	case buf := <-t.inbound:
		return buf, nil
	case <-timer:
		return nil, transport.ErrTimeout
	case <-t.closed:
		return nil, transport.ErrClosed
	}
}

func (t *streamTransport) ReleaseBuffer(buf *transport.Buffer) {
	t.buffers.Release(buf)
}

func (t *streamTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		err = t.conn.Close()
		t.buffers.Close()
		t.drain()
		Logger.Debugf("Stream transport to %s closed", t.name)
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readFrames reads frames in a loop and queues them for Receive
func (t *streamTransport) readFrames() {
	header := make([]byte, frameHeaderSize)

	for {
		buf, err := t.buffers.Request(-1)
		if err != nil {
			return // closed
		}

		err = readFrame(t.conn, header, buf)

		if errors.Is(err, transport.ErrFrameTooLarge) {
			Logger.Warningf("Dropping frame from %s: %v", t.name, err)
			t.buffers.Release(buf)
			continue
		}

		if err != nil {
			t.buffers.Release(buf)
			select {
			case <-t.closed:
			default:
				if errors.Is(err, io.EOF) {
					Logger.Infof("Connection closed by %s", t.name)
				} else {
					Logger.Errorf("Error reading frame from %s: %v", t.name, err)
				}
				t.Close()
			}
			return
		}

		select {
		case t.inbound <- buf:
		case <-t.closed:
			t.buffers.Release(buf)
			return
		}
	}
}

// drain releases frames nobody will receive anymore
func (t *streamTransport) drain() {
	for {
		select {
		case buf := <-t.inbound:
			t.buffers.Release(buf)
		default:
			return
		}
	}
}
