package topic

import (
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("lib/topic")

// Topic distributes published values to all current subscribers
type Topic[T any] struct {
	name        string
	subscribers *xsync.MapOf[uint64, *Subscription[T]]
	nextID      atomic.Uint64
	published   atomic.Uint64
}

// Subscription receives the values of a topic until it is closed
type Subscription[T any] struct {
	id    uint64
	topic *Topic[T]
	queue *queue[T]
}

// New creates an empty topic
func New[T any](name string) *Topic[T] {
	return &Topic[T]{
		name:        name,
		subscribers: xsync.NewMapOf[uint64, *Subscription[T]](),
	}
}

// Name returns the name given to New
func (t *Topic[T]) Name() string {
	return t.name
}

// Subscribe registers a new subscriber
func (t *Topic[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		id:    t.nextID.Add(1),
		topic: t,
		queue: newQueue[T](),
	}
	t.subscribers.Store(s.id, s)
	Logger.Debugf("New subscriber %d on topic %s", s.id, t.name)
	return s
}

// Publish hands value to every subscriber and returns how many received it.
// It never blocks.
func (t *Topic[T]) Publish(value T) int {
	t.published.Add(1)

	delivered := 0
	t.subscribers.Range(func(_ uint64, s *Subscription[T]) bool {
		if s.queue.push(value) {
			delivered++
		}
		return true
	})
	return delivered
}

// Subscribers returns the number of active subscriptions
func (t *Topic[T]) Subscribers() int {
	return t.subscribers.Size()
}

// Published returns the number of values published so far
func (t *Topic[T]) Published() uint64 {
	return t.published.Load()
}

// C returns the channel the subscription's values arrive on. It is closed
// by Close. C does not have to be drained after Close.
func (s *Subscription[T]) C() <-chan T {
	return s.queue.out
}

// Pending returns the number of values waiting to be received
func (s *Subscription[T]) Pending() int {
	return s.queue.len()
}

// Dropped returns the number of values discarded because the subscription
// was closed before they were received
func (s *Subscription[T]) Dropped() uint64 {
	return s.queue.dropped.Load()
}

// Close unsubscribes and drops the values not yet received from C
func (s *Subscription[T]) Close() {
	if _, ok := s.topic.subscribers.LoadAndDelete(s.id); ok {
		s.queue.close()
		Logger.Debugf("Subscriber %d left topic %s", s.id, s.topic.name)
	}
}
