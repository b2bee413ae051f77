package initiator

import (
	"sync"
	"time"

	"github.com/15201047795/outpost-core/rmap/common"
)

// state of a transaction
type state uint8

const (
	stateIdle state = iota
	stateInitiated
	stateCommandSent
	stateReplyReceived
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateInitiated:
		return "initiated"
	case stateCommandSent:
		return "command_sent"
	case stateReplyReceived:
		return "reply_received"
	default:
		return "unknown"
	}
}

// transaction is one request in flight. It is owned by the caller that
// allocated it; the receiver only sets the reply, the state and signals done,
// always while holding mu.
type transaction struct {
	slot int

	mu       sync.Mutex
	used     bool
	id       uint16
	state    state
	blocking bool
	timeout  time.Duration
	command  common.Packet
	reply    common.Packet
	hasReply bool
	staged   int // payload bytes copied to the staging slot

	done chan struct{} // one-shot wake up, capacity 1
}

// arm puts the notification into the not-signaled state.
// Callers hold tx.mu or own the transaction exclusively.
func (tx *transaction) arm() {
	select {
	case <-tx.done:
	default:
	}
}

// signal wakes up the waiting caller. Never blocks.
func (tx *transaction) signal() {
	select {
	case tx.done <- struct{}{}:
	default:
	}
}

// wait blocks until signal or timeout and reports whether it was signaled
func (tx *transaction) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tx.done:
		return true
	case <-timer.C:
		return false
	}
}

// snapshot returns the fields the caller needs after waiting
func (tx *transaction) snapshot() (state, common.Status, uint32) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state, tx.reply.Status, tx.reply.DataLength
}

// --------------------------------------------------------------------------
// Transaction table
// --------------------------------------------------------------------------

// transactionTable holds a fixed number of transaction slots.
//
// The wire identifier of a transaction is generation*N + slot, where N is
// the number of slots and the generation of a slot advances on every
// recycle. Two allocated transactions never share an id because their slots
// differ, and a reply carrying the id of a recycled transaction no longer
// matches the slot's current generation.
//
// Free slots are kept in FIFO order so that a just recycled slot is the last
// to be reused.
type transactionTable struct {
	mu          sync.Mutex
	slots       []*transaction
	generations []int
	generationN int // number of generations that fit into 16 bits

	free      []int // ring buffer of free slot indexes
	freeHead  int
	freeCount int
}

func newTransactionTable(n int) *transactionTable {
	t := &transactionTable{
		slots:       make([]*transaction, n),
		generations: make([]int, n),
		generationN: common.MaxTransactionIDs / n,
		free:        make([]int, n),
		freeCount:   n,
	}
	for i := range t.slots {
		t.slots[i] = &transaction{slot: i, done: make(chan struct{}, 1)}
		t.free[i] = i
	}
	return t
}

// allocate takes the oldest free slot. It returns nil when all slots are in use.
func (t *transactionTable) allocate() *transaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.freeCount == 0 {
		return nil
	}
	slot := t.free[t.freeHead]
	t.freeHead = (t.freeHead + 1) % len(t.free)
	t.freeCount--

	tx := t.slots[slot]
	tx.mu.Lock()
	tx.used = true
	tx.id = uint16(t.generations[slot]*len(t.slots) + slot)
	tx.state = stateIdle
	tx.hasReply = false
	tx.staged = 0
	tx.reply.Reset()
	tx.arm()
	tx.mu.Unlock()

	return tx
}

// lookup returns the slot an id maps to, or nil if the id was never issued.
// The caller must lock the transaction and compare used and id before
// touching it.
func (t *transactionTable) lookup(id uint16) *transaction {
	n := len(t.slots)
	if int(id)/n >= t.generationN {
		return nil
	}
	return t.slots[int(id)%n]
}

// recycle returns a transaction to the free list. It reports false if the
// transaction was not allocated.
func (t *transactionTable) recycle(tx *transaction) bool {
	tx.mu.Lock()
	if !tx.used {
		tx.mu.Unlock()
		return false
	}
	tx.used = false
	tx.state = stateIdle
	tx.hasReply = false
	tx.staged = 0
	tx.reply.Reset()
	tx.arm()
	tx.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.generations[tx.slot] = (t.generations[tx.slot] + 1) % t.generationN
	tail := (t.freeHead + t.freeCount) % len(t.free)
	t.free[tail] = tx.slot
	t.freeCount++
	return true
}

// inUse returns the number of allocated transactions
func (t *transactionTable) inUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots) - t.freeCount
}

// capacity returns the number of slots
func (t *transactionTable) capacity() int {
	return len(t.slots)
}

// --------------------------------------------------------------------------
// Receive staging
// --------------------------------------------------------------------------

// staging holds one payload slot per transaction slot so that concurrent
// reads never share a buffer
type staging struct {
	mem      []byte
	slotSize int
}

func newStaging(slots, slotSize int) *staging {
	return &staging{mem: make([]byte, slots*slotSize), slotSize: slotSize}
}

// slot returns the staging area of a transaction slot
func (s *staging) slot(i int) []byte {
	start := i * s.slotSize
	end := start + s.slotSize
	return s.mem[start:end:end]
}
