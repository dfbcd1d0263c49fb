package dagsearch

import "math"

// workerLeases bundles the five per-worker arena leases a goroutine needs
// during one parallel expansion region: one per arena pool backing the
// SearchNode/Notify record types and the three concurrent-map chain-node
// specializations. Each step's parallel region builds a fresh set per
// worker, and the worker resets all five when it starts its chunk
// (mirroring clear_thread(), called once per parallel region after the
// arena's ClearGlobal).
type workerLeases struct {
	nodes        *ArenaLease[SearchNode]
	notifies     *ArenaLease[Notify]
	childChains  *ArenaLease[chainNode[childKey, *SearchNode]]
	stepChains   *ArenaLease[chainNode[stepKey, ScoreSlot]]
	notifyChains *ArenaLease[chainNode[notifyKey, notifyHead]]
}

func newWorkerLeases(a *arenas) *workerLeases {
	return &workerLeases{
		nodes:        a.nodes.Lease("search node"),
		notifies:     a.notifies.Lease("notify"),
		childChains:  a.childChains.Lease("node_children chain"),
		stepChains:   a.stepChains.Lease("node_step_score chain"),
		notifyChains: a.notifyChains.Lease("node_notify chain"),
	}
}

func (l *workerLeases) reset() {
	l.nodes.Reset()
	l.notifies.Reset()
	l.childChains.Reset()
	l.stepChains.Reset()
	l.notifyChains.Reset()
}

// ExpandBeamCache is the single-slot, per-worker memoizer keyed on
// (parent, word) described in §4.5. When the driver processes candidates
// in an order that clusters same-(parent,word) contributions — which
// happens naturally since a beam slot's top-k candidates are iterated
// together — this collapses many node_children/dagscore touches into one
// per cluster. Correctness never depends on the hit rate: a cache miss on
// every call degrades to one concurrent-map round trip per candidate,
// which is exactly the uncached behavior.
type ExpandBeamCache struct {
	nodeStore *NodeStore
	leases    *workerLeases

	hasKey bool
	key    childKey
	child  *SearchNode
	accum  float64
}

func newExpandBeamCache(nodeStore *NodeStore, leases *workerLeases) *ExpandBeamCache {
	return &ExpandBeamCache{nodeStore: nodeStore, leases: leases}
}

// reset clears the cache's held key without flushing. Used at the start of
// a worker's parallel region, after the previous region's Flush.
func (c *ExpandBeamCache) reset() {
	c.hasKey = false
	c.child = nil
	c.accum = math.Inf(-1)
}

// Resolve returns the (possibly newly published) child for (parent, word)
// within store, accumulating contribution into the cache. If key differs
// from the currently cached one, the prior key's accumulated contribution
// is written back first. store is passed per call, not held, because a
// single worker's chunk of (batch, slot) work items can span batches, each
// with its own node_children map.
func (c *ExpandBeamCache) Resolve(store *batchStore, parent *SearchNode, word, lmWord int32, contribution float64) (*SearchNode, error) {
	key := childKey{parent: parent, word: word}
	if c.hasKey && key != c.key {
		c.writeBack()
	}
	if !c.hasKey || key != c.key {
		child, err := c.resolveChild(store, parent, word, lmWord)
		if err != nil {
			return nil, err
		}
		c.key = key
		c.hasKey = true
		c.child = child
		c.accum = math.Inf(-1)
	}
	c.accum = logSumExp(c.accum, contribution)
	return c.child, nil
}

func (c *ExpandBeamCache) resolveChild(store *batchStore, parent *SearchNode, word, lmWord int32) (*SearchNode, error) {
	slot, _, err := store.children.GetOrCreate(c.leases.childChains, childKey{parent: parent, word: word}, func(v **SearchNode) error {
		child, err := c.nodeStore.AllocateNode(c.leases.nodes, parent, word, lmWord)
		if err != nil {
			return err
		}
		*v = child
		return nil
	})
	if err != nil {
		return nil, err
	}
	return *slot, nil
}

// writeBack commits the cached contribution into the child's dagscore via
// an atomic log-sum-exp merge. Per the OPEN QUESTION resolution, this is
// safe even when two workers race to commit against the same child: the
// merge is a CAS retry loop (ScoreSlot.MergeLogSumExp), not the reference's
// non-atomic read-modify-write.
func (c *ExpandBeamCache) writeBack() {
	if !c.hasKey {
		return
	}
	c.child.dagScore.MergeLogSumExp(c.accum)
	c.hasKey = false
	c.child = nil
	c.accum = math.Inf(-1)
}

// Flush writes back any pending cached contribution at the end of a
// parallel region. Each worker flushes its own cache; there is no
// cross-worker handoff.
func (c *ExpandBeamCache) Flush() {
	c.writeBack()
}

// notifySlotKey identifies a (batch, step, length) slot in a worker's local
// NotifyCache.
type notifySlotKey struct {
	batch  int
	step   int32
	length int32
}

type notifyChain struct {
	head *Notify
	tail *Notify
}

// NotifyCache is the thread-local batching map from (batch, step, length)
// to a locally built Notify chain, described in §4.5. Each first arrival
// at a slot during a step appends to the local chain in O(1); at Flush,
// the whole local chain is spliced onto the published head with a single
// compare-exchange per (worker, slot) instead of one per notification.
type NotifyCache struct {
	chains map[notifySlotKey]*notifyChain
}

func newNotifyCache() *NotifyCache {
	return &NotifyCache{chains: make(map[notifySlotKey]*notifyChain)}
}

func (c *NotifyCache) reset() {
	for k := range c.chains {
		delete(c.chains, k)
	}
}

// Append adds n (already allocated, with Target set) to the local chain for
// (batch, step, length). Prepends at the local head; the tail is tracked so
// Flush can splice the whole chain onto the published head in one CAS.
func (c *NotifyCache) Append(batch int, step, length int32, n *Notify) {
	key := notifySlotKey{batch: batch, step: step, length: length}
	chain, ok := c.chains[key]
	if !ok {
		chain = &notifyChain{}
		c.chains[key] = chain
	}
	n.next = chain.head
	chain.head = n
	if chain.tail == nil {
		chain.tail = n
	}
}

// Flush publishes every local chain this worker accumulated, one
// compare-exchange per (batch, slot). stores maps batch index to its
// batchStore.
func (c *NotifyCache) Flush(stores []*batchStore, leases *workerLeases) error {
	for key, chain := range c.chains {
		store := stores[key.batch]
		headVal, _, err := store.notifications.GetOrCreate(leases.notifyChains, notifyKey{step: key.step, length: key.length}, nil)
		if err != nil {
			return err
		}
		for {
			old := headVal.head.Load()
			chain.tail.next = old
			if headVal.head.CompareAndSwap(old, chain.head) {
				break
			}
		}
	}
	c.reset()
	return nil
}
