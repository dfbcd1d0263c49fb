package dagsearch

import "sync/atomic"

// QuickMapSize is N: the inline capacity of a QuickMap before it spills
// into the backing concurrent map.
const QuickMapSize = 5

const quickMapUnclaimed int32 = -1

type quickMapEntry struct {
	step  atomic.Int32 // quickMapUnclaimed until a writer claims this slot
	ready atomic.Bool  // set once score is safe to read
	score ScoreSlot
}

// QuickMap is a bounded associative array embedded inline in a SearchNode,
// avoiding a concurrent-map touch for the common case of a node with only
// a handful of step entries. Once all N slots are claimed, it spills: every
// resident entry is forwarded into the fallback map and a one-way latch
// routes all future calls straight there.
//
// Slot claims use a CAS per entry rather than the bare atomic length
// counter the reference describes, so that concurrent writers — which the
// reference assumes are externally serialized but which do occur in
// practice once a node is shared across goroutines (see the parallel
// stress property) — can't double-publish the same step.
type QuickMap struct {
	spilled atomic.Bool
	entries [QuickMapSize]quickMapEntry
}

func newQuickMap() QuickMap {
	var qm QuickMap
	for i := range qm.entries {
		qm.entries[i].step.Store(quickMapUnclaimed)
	}
	return qm
}

// GetOrCreate returns the score slot for step, creating it either inline or
// (once full) in the fallback map keyed on (node, step).
func (m *QuickMap) GetOrCreate(step int32, node *SearchNode, fallback *NodeStepMap, lease *ArenaLease[chainNode[stepKey, ScoreSlot]]) (*ScoreSlot, bool, error) {
	if !m.spilled.Load() {
		for i := range m.entries {
			e := &m.entries[i]
			switch e.step.Load() {
			case step:
				for !e.ready.Load() {
					// Transient: another goroutine claimed this slot and
					// hasn't published its score yet.
				}
				return &e.score, false, nil
			case quickMapUnclaimed:
				if e.step.CompareAndSwap(quickMapUnclaimed, step) {
					e.score.Init()
					e.ready.Store(true)
					return &e.score, true, nil
				}
				// Lost the claim race; the winner may have taken this
				// slot for our key or another one — re-read and recheck.
				if e.step.Load() == step {
					for !e.ready.Load() {
					}
					return &e.score, false, nil
				}
			}
		}
		m.spill(node, fallback, lease)
	}
	return fallback.GetOrCreate(lease, stepKey{node: node, step: step}, initScoreSlot)
}

// spill forwards every resident entry into the fallback map and flips the
// one-way latch. Safe to race: every caller that observes spilled==false
// attempts the spill, but only entries not yet present in fallback are
// actually new there, since GetOrCreate on the fallback map deduplicates.
func (m *QuickMap) spill(node *SearchNode, fallback *NodeStepMap, lease *ArenaLease[chainNode[stepKey, ScoreSlot]]) {
	if !m.spilled.CompareAndSwap(false, true) {
		return
	}
	for i := range m.entries {
		e := &m.entries[i]
		step := e.step.Load()
		if step == quickMapUnclaimed {
			continue
		}
		for !e.ready.Load() {
		}
		slot, created, err := fallback.GetOrCreate(lease, stepKey{node: node, step: step}, initScoreSlot)
		if err != nil {
			continue
		}
		if created {
			slot.MergeLogSumExp(e.score.Load())
		}
	}
}
