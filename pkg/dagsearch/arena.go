package dagsearch

import (
	"math/rand/v2"
	"sync/atomic"
	"unsafe"
)

// Arena is a bulk-preallocated pool of T, issuing stable pointers and
// indices to many concurrent allocators without ever releasing individual
// objects. It is cleared wholesale, between searches, by resetting its
// shared cursor.
//
// "Thread" in the reference design maps to a worker goroutine holding an
// ArenaLease: a private [next, end) sub-range it can allocate from without
// touching the shared cursor on every call.
type Arena[T any] struct {
	pool        []T
	cursor      atomic.Int64
	batchBase   int64
	batchJitter int64
}

// NewArena preallocates size records of T. batchBase and batchJitter are
// the B and R constants from the reference's randomized refill: a lease
// requests batchBase + rand[0,batchJitter) records at a time, spreading
// cache-line contention on the shared cursor across many simultaneous
// requesters.
func NewArena[T any](size int, batchBase, batchJitter int) *Arena[T] {
	if batchBase < 1 {
		batchBase = 1
	}
	if batchJitter < 1 {
		batchJitter = 1
	}
	return &Arena[T]{
		pool:        make([]T, size),
		batchBase:   int64(batchBase),
		batchJitter: int64(batchJitter),
	}
}

// ClearGlobal resets the shared cursor. Must be called outside any parallel
// region — it is not itself safe against concurrent Lease() use.
func (a *Arena[T]) ClearGlobal() {
	a.cursor.Store(0)
}

// Cap returns the arena's total capacity.
func (a *Arena[T]) Cap() int {
	return len(a.pool)
}

// InUse returns the number of records handed out since the last
// ClearGlobal, clamped to capacity. Used for the arena high-water-mark
// gauge.
func (a *Arena[T]) InUse() int64 {
	n := a.cursor.Load()
	if n > int64(len(a.pool)) {
		return int64(len(a.pool))
	}
	return n
}

// At returns a stable pointer to the record at idx.
func (a *Arena[T]) At(idx int32) *T {
	return &a.pool[idx]
}

// IndexOf returns the arena index of ptr, the inverse of At. ptr must point
// into this arena's backing storage.
func (a *Arena[T]) IndexOf(ptr *T) int32 {
	base := unsafe.Pointer(&a.pool[0])
	var zero T
	stride := unsafe.Sizeof(zero)
	return int32((uintptr(unsafe.Pointer(ptr)) - uintptr(base)) / stride)
}

// refill advances the shared cursor by a randomized batch and returns the
// [start, start+n) range reserved for the caller. n may be smaller than the
// requested batch if the arena is nearly full; it returns an error only
// when there is no room left at all.
func (a *Arena[T]) refill(kind string) (start int64, n int64, err error) {
	batch := a.batchBase + rand.Int64N(a.batchJitter)
	start = a.cursor.Add(batch) - batch
	capacity := int64(len(a.pool))
	if start >= capacity {
		return 0, 0, errArenaExhausted(kind, len(a.pool))
	}
	n = batch
	if start+n > capacity {
		n = capacity - start
	}
	return start, n, nil
}

// ArenaLease is a worker-private allocation window into an Arena. Workers
// are created fresh per InitBeam/ExpandBeam call (see Engine), so a lease's
// lifetime is a single call rather than an OS thread's lifetime.
type ArenaLease[T any] struct {
	arena *Arena[T]
	kind  string
	next  int64
	end   int64
}

// Lease returns a new, empty lease into the arena. kind names the record
// type for error messages (e.g. "search node", "notify").
func (a *Arena[T]) Lease(kind string) *ArenaLease[T] {
	return &ArenaLease[T]{arena: a, kind: kind}
}

// Reset empties the lease without touching the shared cursor, mirroring
// clear_thread(): called at the start of each parallel region after the
// arena's ClearGlobal.
func (l *ArenaLease[T]) Reset() {
	l.next = 0
	l.end = 0
}

// Allocate returns a stable pointer to one uninitialized record along with
// its arena index, refilling the lease's private range from the shared
// arena when it runs dry.
func (l *ArenaLease[T]) Allocate() (*T, int32, error) {
	if l.next >= l.end {
		start, n, err := l.arena.refill(l.kind)
		if err != nil {
			return nil, 0, err
		}
		l.next = start
		l.end = start + n
	}
	idx := l.next
	l.next++
	return l.arena.At(int32(idx)), int32(idx), nil
}
