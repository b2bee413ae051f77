package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrExhausted is returned by Acquire when no slot became free in time
	ErrExhausted = errors.New("pool: no free slot")
	// ErrClosed is returned by Acquire after Close
	ErrClosed = errors.New("pool: closed")
)

// Arena is a fixed set of equally sized byte slots
type Arena struct {
	slotSize int
	mem      []byte

	mu   sync.Mutex
	refs []int32

	free   chan int
	closed chan struct{}
	once   sync.Once
}

// New creates an arena with the given number of slots of slotSize bytes each
func New(slots, slotSize int) *Arena {
	if slots < 1 || slotSize < 1 {
		panic(fmt.Sprintf("pool: invalid arena geometry %dx%d", slots, slotSize))
	}

	a := &Arena{
		slotSize: slotSize,
		mem:      make([]byte, slots*slotSize),
		refs:     make([]int32, slots),
		free:     make(chan int, slots),
		closed:   make(chan struct{}),
	}
	for i := 0; i < slots; i++ {
		a.free <- i
	}
	return a
}

// Acquire takes a free slot and sets its reference count to one.
// A zero timeout does not wait; a negative timeout waits until a slot is
// released or the arena is closed.
func (a *Arena) Acquire(timeout time.Duration) (int, error) {
	var index int

	select {
	case <-a.closed:
		return -1, ErrClosed
	default:
	}

	switch {
	case timeout == 0:
		select {
		case index = <-a.free:
		default:
			return -1, ErrExhausted
		}
	case timeout < 0:
		select {
		case index = <-a.free:
		case <-a.closed:
			return -1, ErrClosed
		}
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case index = <-a.free:
		case <-timer.C:
			return -1, ErrExhausted
		case <-a.closed:
			return -1, ErrClosed
		}
	}

	a.mu.Lock()
	a.refs[index] = 1
	a.mu.Unlock()
	return index, nil
}

// Retain adds a reference to an acquired slot
func (a *Arena) Retain(index int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.refs[index] <= 0 {
		panic(fmt.Sprintf("pool: retain of free slot %d", index))
	}
	a.refs[index]++
}

// Release drops one reference. The slot is returned to the free list when
// the last reference is gone. It reports whether the slot was freed.
func (a *Arena) Release(index int) bool {
	a.mu.Lock()
	if a.refs[index] <= 0 {
		a.mu.Unlock()
		panic(fmt.Sprintf("pool: release of free slot %d", index))
	}
	a.refs[index]--
	freed := a.refs[index] == 0
	a.mu.Unlock()

	if freed {
		a.free <- index
	}
	return freed
}

// Refs returns the current reference count of a slot
func (a *Arena) Refs(index int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.refs[index])
}

// Bytes returns the full slot. The capacity is capped at the slot size so
// appends never spill into the neighbouring slot.
func (a *Arena) Bytes(index int) []byte {
	start := index * a.slotSize
	end := start + a.slotSize
	return a.mem[start:end:end]
}

// Free returns the number of slots that are currently not referenced
func (a *Arena) Free() int {
	return len(a.free)
}

// Slots returns the total number of slots
func (a *Arena) Slots() int {
	return len(a.refs)
}

// SlotSize returns the size of a single slot in bytes
func (a *Arena) SlotSize() int {
	return a.slotSize
}

// Close wakes up all goroutines blocked in Acquire. Slots that are still
// referenced stay valid and can be released as usual.
func (a *Arena) Close() {
	a.once.Do(func() { close(a.closed) })
}
