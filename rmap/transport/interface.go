package transport

import (
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when no buffer or frame became available in time
	ErrTimeout = errors.New("transport: timeout")
	// ErrClosed is returned once the transport is closed or the link is gone
	ErrClosed = errors.New("transport: closed")
	// ErrFrameTooLarge is returned when a frame does not fit a buffer
	ErrFrameTooLarge = errors.New("transport: frame too large")
)

// EndMarker terminates every frame on the link
type EndMarker uint8

const (
	// EOP marks a normally terminated frame
	EOP EndMarker = iota
	// EEP marks a frame that was aborted by an error on the link
	EEP
)

func (m EndMarker) String() string {
	switch m {
	case EOP:
		return "EOP"
	case EEP:
		return "EEP"
	default:
		return "unknown"
	}
}

// Buffer holds one frame.
// Data has the length of the frame and the capacity of the underlying slot.
type Buffer struct {
	Data []byte
	End  EndMarker

	slot int
}

// Resize sets the frame length, keeping the slot contents.
func (b *Buffer) Resize(n int) error {
	if n < 0 || n > cap(b.Data) {
		return ErrFrameTooLarge
	}
	b.Data = b.Data[:n]
	return nil
}

// Transport is the interface for a packet link
type Transport interface {
	// RequestBuffer returns an empty buffer for an outgoing frame
	RequestBuffer(timeout time.Duration) (*Buffer, error)
	// Send hands the buffer to the link. The transport takes ownership of
	// the buffer whether or not the call succeeds.
	Send(buf *Buffer, timeout time.Duration) error
	// Receive returns the next inbound frame. The caller owns the buffer
	// until it calls ReleaseBuffer.
	Receive(timeout time.Duration) (*Buffer, error)
	// ReleaseBuffer gives a buffer back to the transport
	ReleaseBuffer(buf *Buffer)
	// Close shuts the link down and wakes up blocked callers
	Close() error
}

// Timer returns a channel that fires once timeout has elapsed and a function
// that stops it. A negative timeout never fires.
func Timer(timeout time.Duration) (<-chan time.Time, func() bool) {
	if timeout < 0 {
		return nil, func() bool { return false }
	}
	t := time.NewTimer(timeout)
	return t.C, t.Stop
}
