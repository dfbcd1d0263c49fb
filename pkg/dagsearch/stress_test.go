package dagsearch

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStress_S6_ParallelExpansionAgainstSharedParent is scenario S6: 8
// goroutines each perform 1000 expansions against one pre-existing parent,
// words drawn uniformly from {0..9}. Run with -race: this is the scenario
// the OPEN QUESTION resolution (ScoreSlot.MergeLogSumExp's CAS retry loop,
// replacing the reference's non-atomic dagscore read-modify-write) exists
// to make safe.
func TestStress_S6_ParallelExpansionAgainstSharedParent(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 1000
	const vocab = 10

	a := &arenas{
		nodes:        NewArena[SearchNode](8192, 64, 64),
		notifies:     NewArena[Notify](256, 16, 16),
		childChains:  NewArena[chainNode[childKey, *SearchNode]](8192, 64, 64),
		stepChains:   NewArena[chainNode[stepKey, ScoreSlot]](256, 16, 16),
		notifyChains: NewArena[chainNode[notifyKey, notifyHead]](256, 16, 16),
	}
	nodeStore := newNodeStore(a, nil)
	batch := newBatchStore(64)

	parent, err := nodeStore.AllocateNode(a.nodes.Lease("search node"), nil, 0, 0)
	require.NoError(t, err)

	contribution := math.Log(1.0 / float64(goroutines*perGoroutine))

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			leases := newWorkerLeases(a)
			cache := newExpandBeamCache(nodeStore, leases)
			notify := newNotifyCache()

			for i := 0; i < perGoroutine; i++ {
				word := int32((g*perGoroutine + i) % vocab)
				child, err := cache.Resolve(batch, parent, word, word, contribution)
				if err != nil {
					t.Errorf("Resolve: %v", err)
					return
				}
				err = nodeStore.AddStepScore(batch, child, 1, contribution, leases.stepChains, func() error {
					n, _, err := leases.notifies.Allocate()
					if err != nil {
						return err
					}
					n.target = child
					notify.Append(0, 1, child.Length(), n)
					return nil
				})
				if err != nil {
					t.Errorf("AddStepScore: %v", err)
					return
				}
			}
			cache.Flush()
			if err := notify.Flush([]*batchStore{batch}, leases); err != nil {
				t.Errorf("notify flush: %v", err)
			}
		}(g)
	}
	wg.Wait()

	children := make(map[int32]*SearchNode, vocab)
	for word := int32(0); word < vocab; word++ {
		child, ok := batch.children.Get(a.childChains, childKey{parent: parent, word: word})
		require.True(t, ok, "word %d must have a published child", word)
		children[word] = *child
	}
	assert.Len(t, children, vocab, "exactly 10 distinct children, one per word")

	var sumExpDagScore float64
	for _, child := range children {
		sumExpDagScore += math.Exp(child.DAGScore())
	}
	assert.InDelta(t, 1.0, sumExpDagScore, 1e-4)

	head, ok := batch.notifications.Get(a.notifyChains, notifyKey{step: 1, length: 1})
	require.True(t, ok)

	seen := map[int32]bool{}
	count := 0
	for cur := head.Front(); cur != nil; cur = cur.Next() {
		count++
		seen[cur.Target().Word()] = true
	}
	assert.Equal(t, vocab, count, "exactly one notification per child")
	assert.Len(t, seen, vocab)
}
