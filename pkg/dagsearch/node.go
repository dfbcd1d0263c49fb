package dagsearch

import "sync/atomic"

// SearchNode is a hypothesis prefix: a word, a back-pointer to its parent,
// a path length, a cumulative LM score, an aggregated DAG score in the log
// domain, an embedded quick-map from next-step to score, and an opaque LM
// state.
//
// Identity is by arena position. Two distinct allocations of the same
// (parent, word) may exist transiently under concurrent expansion, but
// only one is ever published through node_children; the other is simply
// abandoned (the arena never reclaims individual records). After
// publication a node is never mutated except via monotone log-sum-exp
// merges into dagScore and insertions into its step-score map.
type SearchNode struct {
	parent   *SearchNode
	word     int32
	length   int32
	lmScore  float64
	lmState  any
	dagScore ScoreSlot
	quick    QuickMap
}

func (n *SearchNode) Parent() *SearchNode { return n.parent }
func (n *SearchNode) Word() int32         { return n.word }
func (n *SearchNode) Length() int32       { return n.length }
func (n *SearchNode) LMScore() float64    { return n.lmScore }
func (n *SearchNode) DAGScore() float64   { return n.dagScore.Load() }

// Notify is a singly linked list node pointing at a SearchNode, used to
// enumerate every node that reached a particular (step, length) slot. It
// is allocated once, on first observation of a (node, step) pair, and
// never mutated afterward; only the list head it hangs from changes.
type Notify struct {
	target *SearchNode
	next   *Notify
}

func (n *Notify) Target() *SearchNode { return n.target }
func (n *Notify) Next() *Notify       { return n.next }

// notifyHead is the concurrently published head of a Notify chain for one
// (step, length) slot.
type notifyHead struct {
	head atomic.Pointer[Notify]
}

// Front returns the current head of the chain, or nil if the slot is
// empty (a fresh get_or_create result that hasn't been published to yet).
func (h *notifyHead) Front() *Notify {
	return h.head.Load()
}

// NodeChildrenMap deduplicates child creation: (parent, word) -> child.
type NodeChildrenMap = ConcurrentHashMap[childKey, *SearchNode]

// NodeStepMap holds the log-domain aggregated DAG-step score once a node's
// quick-map has spilled: (node, step) -> score.
type NodeStepMap = ConcurrentHashMap[stepKey, ScoreSlot]

// NodeNotifyMap enumerates nodes that reached a (step, length) slot.
type NodeNotifyMap = ConcurrentHashMap[notifyKey, notifyHead]

// arenas bundles the five arena pools shared across all batches: the
// SearchNode and Notify record pools, and the three chain-node pools
// backing the concurrent map specializations.
type arenas struct {
	nodes        *Arena[SearchNode]
	notifies     *Arena[Notify]
	childChains  *Arena[chainNode[childKey, *SearchNode]]
	stepChains   *Arena[chainNode[stepKey, ScoreSlot]]
	notifyChains *Arena[chainNode[notifyKey, notifyHead]]
}

func (a *arenas) clearGlobal() {
	a.nodes.ClearGlobal()
	a.notifies.ClearGlobal()
	a.childChains.ClearGlobal()
	a.stepChains.ClearGlobal()
	a.notifyChains.ClearGlobal()
}

// batchStore owns the three per-batch concurrent maps: node_children,
// node_step_score, and node_notify.
type batchStore struct {
	children      *NodeChildrenMap
	stepScores    *NodeStepMap
	notifications *NodeNotifyMap
}

func newBatchStore(headSize int) *batchStore {
	return &batchStore{
		children:      NewConcurrentHashMap[childKey, *SearchNode](headSize, hashChildKey),
		stepScores:    NewConcurrentHashMap[stepKey, ScoreSlot](headSize, hashStepKey),
		notifications: NewConcurrentHashMap[notifyKey, notifyHead](headSize, hashNotifyKey),
	}
}

func (b *batchStore) clear() {
	b.children.Clear()
	b.stepScores.Clear()
	b.notifications.Clear()
}

// NodeStore owns search-node and notification records through the arena
// pools, and the per-batch maps they're published through. It defines node
// identity, lifecycle, and log-domain score accumulation.
type NodeStore struct {
	arenas *arenas
	lm     LanguageModel
	nextID atomic.Int64
}

func newNodeStore(a *arenas, lm LanguageModel) *NodeStore {
	if lm == nil {
		lm = NullLM{}
	}
	return &NodeStore{arenas: a, lm: lm}
}

// AllocateNode arena-allocates a node and initializes its identity and LM
// state, but does not publish it through node_children. parent == nil
// means a root: length is 0 and the LM's begin-sentence state is used
// instead of a scored transition.
func (s *NodeStore) AllocateNode(lease *ArenaLease[SearchNode], parent *SearchNode, word, lmWord int32) (*SearchNode, error) {
	node, _, err := lease.Allocate()
	if err != nil {
		return nil, err
	}
	node.parent = parent
	node.word = word
	node.quick = newQuickMap()
	node.dagScore.Init()

	if parent == nil {
		node.length = 0
		node.lmState = s.lm.BeginSentence()
		node.lmScore = 0
		return node, nil
	}

	node.length = parent.length + 1
	score, next := s.lm.Score(parent.lmState, lmWord)
	node.lmScore = parent.lmScore + score
	node.lmState = next
	return node, nil
}

// StartNode seeds the root of a batch's search: allocates it via the
// ordinary AllocateNode path, forces dagScore to 0 (the root's hypothesis
// has probability 1 before any expansion, unlike every other node which
// starts at -Inf), inserts its (step=0, length=0) notification directly
// (no cache indirection — this happens outside the parallel region), and
// seeds node_step_score[(root, 0)] = 0 through the root's quick-map, where
// StepScoreSlot finds it.
func (s *NodeStore) StartNode(store *batchStore, nodeLease *ArenaLease[SearchNode], notifyLease *ArenaLease[Notify], childLease *ArenaLease[chainNode[childKey, *SearchNode]], stepLease *ArenaLease[chainNode[stepKey, ScoreSlot]], notifyChainLease *ArenaLease[chainNode[notifyKey, notifyHead]], goID int32) (*SearchNode, error) {
	root, err := s.AllocateNode(nodeLease, nil, goID, goID)
	if err != nil {
		return nil, err
	}
	root.dagScore.MergeLogSumExp(0)

	headVal, _, err := store.notifications.GetOrCreate(notifyChainLease, notifyKey{step: 0, length: 0}, nil)
	if err != nil {
		return nil, err
	}
	n, _, err := notifyLease.Allocate()
	if err != nil {
		return nil, err
	}
	n.target = root
	n.next = headVal.head.Load()
	headVal.head.Store(n)

	slot, _, err := s.StepScoreSlot(store, root, 0, stepLease)
	if err != nil {
		return nil, err
	}
	slot.MergeLogSumExp(0)

	return root, nil
}

// AddStepScore accumulates contribution into the (node, step) slot,
// routing through the node's quick-map until it spills. On first arrival
// at the slot, notify is invoked to queue a notification for (node, step,
// node.length) — callers pass the worker's NotifyCache insertion through
// this hook so the store stays free of per-worker state.
func (s *NodeStore) AddStepScore(store *batchStore, node *SearchNode, step int32, contribution float64, stepLease *ArenaLease[chainNode[stepKey, ScoreSlot]], onFirstArrival func() error) error {
	slot, created, err := node.quick.GetOrCreate(step, node, store.stepScores, stepLease)
	if err != nil {
		return err
	}
	if created && onFirstArrival != nil {
		if err := onFirstArrival(); err != nil {
			return err
		}
	}
	slot.MergeLogSumExp(contribution)
	return nil
}

// StepScoreSlot returns the score slot for (node, step), creating it if
// absent. The expansion driver calls this to fetch the base score for a
// beam-slot node at the current step; per §4.6.b that slot must already
// exist (seeded by a prior step's AddStepScore) — created==true there is
// the "create=true on a step-score slot inside expand_beam" invariant
// violation named in §7.
func (s *NodeStore) StepScoreSlot(store *batchStore, node *SearchNode, step int32, stepLease *ArenaLease[chainNode[stepKey, ScoreSlot]]) (*ScoreSlot, bool, error) {
	return node.quick.GetOrCreate(step, node, store.stepScores, stepLease)
}
