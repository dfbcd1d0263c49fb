package dagsearch

import "unsafe"

// splitmix64 avalanches a 64-bit value. The reference implementation's
// pair_hash XORs two raw std::hash outputs with no further mixing, which
// concentrates collisions when pointers share low-order bits — common for
// arena-allocated, cache-line-aligned records. Avalanching each half before
// combining spreads those bits first; this tolerates more collisions than
// the reference without changing any observable map semantics.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return x
}

func mixPair(a, b uint64) uint64 {
	return splitmix64(a) ^ splitmix64(b)
}

func ptrBits[T any](p *T) uint64 {
	return uint64(uintptr(unsafe.Pointer(p)))
}

// childKey identifies a (parent, word) pair in node_children.
type childKey struct {
	parent *SearchNode
	word   int32
}

func hashChildKey(k childKey) uint64 {
	return mixPair(ptrBits(k.parent), uint64(uint32(k.word)))
}

// stepKey identifies a (node, step) pair in node_step_score.
type stepKey struct {
	node *SearchNode
	step int32
}

func hashStepKey(k stepKey) uint64 {
	return mixPair(ptrBits(k.node), uint64(uint32(k.step)))
}

// notifyKey identifies a (step, length) slot in node_notify. No batch
// dimension is needed: each batch owns its own map instance.
type notifyKey struct {
	step   int32
	length int32
}

func hashNotifyKey(k notifyKey) uint64 {
	return mixPair(uint64(uint32(k.step)), uint64(uint32(k.length)))
}
