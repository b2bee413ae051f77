// Package pool provides an index based arena of fixed-size byte slots with an
// explicit reference count per slot.
//
// Slots are identified by their index. A slot is handed out by Acquire with a
// reference count of one; every additional holder calls Retain and every
// holder calls Release exactly once. The slot returns to the free list when
// the count drops to zero. No finalizers or garbage collector hooks are
// involved, so a leaked slot stays leaked and shows up in Free().
//
// The arena is used by the transports to hand frames between goroutines
// without copying them.
package pool
