package topic

import (
	"sync"
	"sync/atomic"
)

// queue is an unbounded FIFO between any number of publishers and one
// subscriber. A forwarding goroutine hands the values to out in order.
//
// After close the forwarder stops and out is closed; values that were not
// taken from out by then are dropped and counted.
type queue[T any] struct {
	mu    sync.Mutex
	items []T // items[head:] are pending
	head  int

	wake    chan struct{} // capacity 1, set after a push
	done    chan struct{}
	out     chan T
	dropped atomic.Uint64
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
	go q.forward()
	return q
}

// push appends a value. It returns false once the queue is closed.
func (q *queue[T]) push(value T) bool {
	q.mu.Lock()
	select {
	case <-q.done:
		q.mu.Unlock()
		return false
	default:
	}
	q.items = append(q.items, value)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// pop removes the oldest pending value
func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	value := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// reuse the backing array once drained, compact when mostly consumed
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= 64 && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return value, true
}

// forward moves values to out until the queue is closed
func (q *queue[T]) forward() {
	defer close(q.out)

	for {
		value, ok := q.pop()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}

		select {
		case q.out <- value:
		case <-q.done:
			q.dropped.Add(1)
			return
		}
	}
}

// close stops accepting values and drops the pending ones. It is safe to
// call more than once.
func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-q.done:
		return
	default:
	}
	close(q.done)
	q.dropped.Add(uint64(len(q.items) - q.head))
	q.items = nil
	q.head = 0
}

// len returns the number of pending values
func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
