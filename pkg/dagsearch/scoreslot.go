package dagsearch

import (
	"math"
	"sync/atomic"
)

// logSumExp returns log(exp(a) + exp(b)) computed so that large negative
// operands don't underflow to zero before the exponentiation.
func logSumExp(a, b float64) float64 {
	l := math.Max(a, b)
	if math.IsInf(l, -1) {
		return math.Inf(-1)
	}
	return math.Log(math.Exp(a-l)+math.Exp(b-l)) + l
}

// ScoreSlot is a log-domain score that can be merged by any number of
// concurrent goroutines after publication. Every slot starts at -Inf, the
// log-domain identity for addition, so the first merge into a freshly
// created slot behaves exactly like an initializing store: logSumExp(-Inf,
// x) == x. This collapses the reference algorithm's separate "create"
// (plain store) and "merge" (read-modify-write) branches into one atomic
// operation, closing the data race the reference has between concurrent
// writers of the same slot.
type ScoreSlot struct {
	bits atomic.Uint64
}

// Init sets the slot to -Inf. Safe to call only before the slot is
// reachable by any other goroutine (i.e. before the arena node holding it
// is published through a concurrent map).
func (s *ScoreSlot) Init() {
	s.bits.Store(math.Float64bits(math.Inf(-1)))
}

// initScoreSlot is a ConcurrentHashMap construct callback that initializes
// a freshly allocated ScoreSlot to -Inf before its chain node is published,
// so no reader can observe the zero bit pattern (0.0) in its place.
func initScoreSlot(s *ScoreSlot) error {
	s.Init()
	return nil
}

// Load reads the slot's current value.
func (s *ScoreSlot) Load() float64 {
	return math.Float64frombits(s.bits.Load())
}

// MergeLogSumExp folds contribution into the slot via a CAS retry loop,
// so that concurrent mergers never lose an update.
func (s *ScoreSlot) MergeLogSumExp(contribution float64) {
	for {
		old := s.bits.Load()
		merged := logSumExp(math.Float64frombits(old), contribution)
		next := math.Float64bits(merged)
		if s.bits.CompareAndSwap(old, next) {
			return
		}
	}
}
