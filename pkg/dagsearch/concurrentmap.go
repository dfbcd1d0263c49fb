package dagsearch

import "sync/atomic"

// chainNode is one link in a ConcurrentHashMap bucket chain, arena-backed
// so its address is stable for the life of a search.
type chainNode[K comparable, V any] struct {
	key   K
	value V
	next  int32 // arena index of the next link, or noNext
}

const noNext int32 = -1

// ConcurrentHashMap is a lock-free, open-chained hash map with versioned
// bucket heads for O(1) bulk clear: Clear bumps a version counter instead
// of walking and freeing every chain, and any head whose stored version
// doesn't match the current one is treated as empty on next access.
//
// A node's position in its chain never changes once published, and its
// value is mutated only through ScoreSlot's atomic merge, or by the single
// writer that fills a SearchNode/Notify before publication — never by
// overwriting the chain node itself.
type ConcurrentHashMap[K comparable, V any] struct {
	heads   []atomic.Uint64 // packed (version<<32 | position)
	version atomic.Uint32
	hash    func(K) uint64
}

// NewConcurrentHashMap creates a map with headSize buckets. headSize should
// be sized roughly to the expected entry count to keep chains short; it
// does not grow.
func NewConcurrentHashMap[K comparable, V any](headSize int, hash func(K) uint64) *ConcurrentHashMap[K, V] {
	if headSize < 1 {
		headSize = 1
	}
	m := &ConcurrentHashMap[K, V]{
		heads: make([]atomic.Uint64, headSize),
		hash:  hash,
	}
	// Start the live version at 1 so a zero-valued (never-written) head
	// entry — which packs to version 0 — never spuriously matches.
	m.version.Store(1)
	return m
}

func packHead(version uint32, pos uint32) uint64 {
	return uint64(version)<<32 | uint64(pos)
}

func unpackHead(packed uint64) (version uint32, pos uint32) {
	return uint32(packed >> 32), uint32(packed)
}

func (m *ConcurrentHashMap[K, V]) bucket(key K) int {
	return int(m.hash(key) % uint64(len(m.heads)))
}

func (m *ConcurrentHashMap[K, V]) walk(arena *Arena[chainNode[K, V]], pos int32, key K) (*V, bool) {
	for pos != noNext {
		node := arena.At(pos)
		if node.key == key {
			return &node.value, true
		}
		pos = node.next
	}
	return nil, false
}

// Get looks up key without creating it.
func (m *ConcurrentHashMap[K, V]) Get(arena *Arena[chainNode[K, V]], key K) (*V, bool) {
	b := m.bucket(key)
	curVersion := m.version.Load()
	hv, hp := unpackHead(m.heads[b].Load())
	if hv != curVersion {
		return nil, false
	}
	return m.walk(arena, int32(hp), key)
}

// GetOrCreate returns the value for key, creating and publishing it via a
// CAS retry loop if absent. On CAS failure the chain is re-walked from the
// freshly observed head so a concurrent insert of the same key is detected
// before a duplicate is published.
//
// construct, if non-nil, fully initializes the new value in place *before*
// the chain node is linked into the bucket head. This matters whenever a
// value's zero state isn't already a safe "empty" identity (a *SearchNode
// whose zero value is nil, a ScoreSlot whose zero bit pattern is 0.0 rather
// than -Inf): without it, a concurrent reader that wins the race to observe
// the freshly published head could dereference a nil child or merge against
// the wrong identity before the creator finishes filling the slot. Running
// construct may be wasted work if this goroutine loses the publish race —
// acceptable, since a discarded SearchNode allocation is exactly the
// "transient duplicate allocation" the data model already tolerates.
func (m *ConcurrentHashMap[K, V]) GetOrCreate(lease *ArenaLease[chainNode[K, V]], key K, construct func(*V) error) (value *V, created bool, err error) {
	b := m.bucket(key)
	curVersion := m.version.Load()

	headPacked := m.heads[b].Load()
	if hv, hp := unpackHead(headPacked); hv == curVersion {
		if v, ok := m.walk(lease.arena, int32(hp), key); ok {
			return v, false, nil
		}
	}

	node, idx, err := lease.Allocate()
	if err != nil {
		return nil, false, err
	}
	node.key = key
	if construct != nil {
		if err := construct(&node.value); err != nil {
			return nil, false, err
		}
	}

	for {
		headPacked = m.heads[b].Load()
		hv, hp := unpackHead(headPacked)
		if hv == curVersion {
			if v, ok := m.walk(lease.arena, int32(hp), key); ok {
				return v, false, nil
			}
			node.next = int32(hp)
		} else {
			node.next = noNext
		}

		newPacked := packHead(curVersion, uint32(idx))
		if m.heads[b].CompareAndSwap(headPacked, newPacked) {
			return &node.value, true, nil
		}
	}
}

// Clear performs an O(1) bulk clear by bumping the live version; previously
// published chains become unreachable but their arena slots are only freed
// by the arena's own ClearGlobal.
func (m *ConcurrentHashMap[K, V]) Clear() {
	m.version.Add(1)
}
