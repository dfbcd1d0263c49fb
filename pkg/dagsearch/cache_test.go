package dagsearch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandBeamCache_MergesSameKeyBeforeFlush(t *testing.T) {
	a := newTestArenas()
	nodeStore := newNodeStore(a, nil)
	leases := newTestLeases(a)
	batch := newBatchStore(16)
	cache := newExpandBeamCache(nodeStore, leases)

	parent, err := nodeStore.AllocateNode(leases.nodes, nil, 0, 0)
	require.NoError(t, err)

	c1, err := cache.Resolve(batch, parent, 5, 5, math.Log(0.3))
	require.NoError(t, err)
	c2, err := cache.Resolve(batch, parent, 5, 5, math.Log(0.2))
	require.NoError(t, err)
	assert.Same(t, c1, c2, "same (parent,word) must resolve to the same child, even before flush")

	// Not yet committed to dagScore.
	assert.True(t, math.IsInf(c1.DAGScore(), -1))

	cache.Flush()
	assert.InDelta(t, math.Log(0.5), c1.DAGScore(), 1e-9)
}

func TestExpandBeamCache_KeyChangeFlushesPrevious(t *testing.T) {
	a := newTestArenas()
	nodeStore := newNodeStore(a, nil)
	leases := newTestLeases(a)
	batch := newBatchStore(16)
	cache := newExpandBeamCache(nodeStore, leases)

	parent, err := nodeStore.AllocateNode(leases.nodes, nil, 0, 0)
	require.NoError(t, err)

	childA, err := cache.Resolve(batch, parent, 1, 1, math.Log(0.4))
	require.NoError(t, err)

	childB, err := cache.Resolve(batch, parent, 2, 2, math.Log(0.6))
	require.NoError(t, err)
	require.NotSame(t, childA, childB)

	// Switching keys must have flushed childA's contribution already.
	assert.InDelta(t, math.Log(0.4), childA.DAGScore(), 1e-9)
	assert.True(t, math.IsInf(childB.DAGScore(), -1))

	cache.Flush()
	assert.InDelta(t, math.Log(0.6), childB.DAGScore(), 1e-9)
}

func TestExpandBeamCache_Deduplication(t *testing.T) {
	// Property 1, exercised through the cache's public entry point:
	// resolving the same (parent,word) many times returns the same
	// SearchNode every time and never publishes a second one.
	a := newTestArenas()
	nodeStore := newNodeStore(a, nil)
	leases := newTestLeases(a)
	batch := newBatchStore(16)
	cache := newExpandBeamCache(nodeStore, leases)

	parent, err := nodeStore.AllocateNode(leases.nodes, nil, 0, 0)
	require.NoError(t, err)

	var first *SearchNode
	for i := 0; i < 5; i++ {
		child, err := cache.Resolve(batch, parent, 9, 9, math.Log(0.1))
		require.NoError(t, err)
		if first == nil {
			first = child
		} else {
			assert.Same(t, first, child)
		}
		cache.Flush()
	}
}

func TestNotifyCache_AppendAndFlushSplicesChain(t *testing.T) {
	a := newTestArenas()
	leases := newTestLeases(a)
	batch := newBatchStore(16)
	stores := []*batchStore{batch}
	notify := newNotifyCache()

	n1, _, err := leases.notifies.Allocate()
	require.NoError(t, err)
	n2, _, err := leases.notifies.Allocate()
	require.NoError(t, err)

	target1 := &SearchNode{word: 1}
	target2 := &SearchNode{word: 2}
	n1.target = target1
	n2.target = target2

	notify.Append(0, 1, 1, n1)
	notify.Append(0, 1, 1, n2)

	require.NoError(t, notify.Flush(stores, leases))

	head, ok := batch.notifications.Get(a.notifyChains, notifyKey{step: 1, length: 1})
	require.True(t, ok)

	var targets []int32
	for cur := head.Front(); cur != nil; cur = cur.Next() {
		targets = append(targets, cur.Target().Word())
	}
	assert.ElementsMatch(t, []int32{1, 2}, targets)
}

func TestNotifyCache_FlushIsIdempotentAfterReset(t *testing.T) {
	a := newTestArenas()
	leases := newTestLeases(a)
	batch := newBatchStore(16)
	stores := []*batchStore{batch}
	notify := newNotifyCache()

	n1, _, err := leases.notifies.Allocate()
	require.NoError(t, err)
	n1.target = &SearchNode{word: 7}
	notify.Append(0, 2, 0, n1)

	require.NoError(t, notify.Flush(stores, leases))
	require.NoError(t, notify.Flush(stores, leases), "flushing an already-reset cache must be a no-op")

	head, ok := batch.notifications.Get(a.notifyChains, notifyKey{step: 2, length: 0})
	require.True(t, ok)

	count := 0
	for cur := head.Front(); cur != nil; cur = cur.Next() {
		count++
	}
	assert.Equal(t, 1, count)
}
