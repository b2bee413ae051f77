package transport

import (
	"errors"
	"time"

	"github.com/15201047795/outpost-core/lib/pool"
)

// Buffers hands out frame buffers backed by a reference counted arena.
// Transport implementations use it to pass frames between goroutines
// without copying.
type Buffers struct {
	arena *pool.Arena
}

// NewBuffers creates count buffers of size bytes each
func NewBuffers(count, size int) *Buffers {
	return &Buffers{arena: pool.New(count, size)}
}

// Request returns an empty buffer with one reference
func (b *Buffers) Request(timeout time.Duration) (*Buffer, error) {
	slot, err := b.arena.Acquire(timeout)
	switch {
	case errors.Is(err, pool.ErrExhausted):
		return nil, ErrTimeout
	case errors.Is(err, pool.ErrClosed):
		return nil, ErrClosed
	case err != nil:
		return nil, err
	}
	return &Buffer{Data: b.arena.Bytes(slot)[:0], End: EOP, slot: slot}, nil
}

// Retain adds a reference to buf
func (b *Buffers) Retain(buf *Buffer) {
	b.arena.Retain(buf.slot)
}

// Release drops a reference to buf
func (b *Buffers) Release(buf *Buffer) {
	b.arena.Release(buf.slot)
}

// Free returns the number of unused buffers
func (b *Buffers) Free() int {
	return b.arena.Free()
}

// Close wakes up callers blocked in Request
func (b *Buffers) Close() {
	b.arena.Close()
}
