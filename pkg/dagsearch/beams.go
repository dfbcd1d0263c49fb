package dagsearch

// BeamEntry is one surviving hypothesis at a (batch, position): a selection
// score paired with the SearchNode it points at. Beam selection itself —
// choosing which hypotheses survive a step, pruning, and backtrace for
// output emission — is external to this package (§1); this package only
// reads the surviving set it's handed.
type BeamEntry struct {
	Score float64
	Node  *SearchNode
}

// Beams holds the current per-batch surviving hypothesis set that the
// expansion driver reads at each step. It is written externally between
// steps (by the beam-selection post-step) and is not owning: SearchNode
// pointers remain valid only until the next InitBeam's arena clear.
type Beams struct {
	perBatch [][]BeamEntry
}

// NewBeams allocates an empty Beams for batchSize batches.
func NewBeams(batchSize int) *Beams {
	return &Beams{perBatch: make([][]BeamEntry, batchSize)}
}

// Set replaces the surviving hypothesis set for batch b.
func (bm *Beams) Set(b int, entries []BeamEntry) {
	bm.perBatch[b] = entries
}

// Get returns the current surviving hypothesis set for batch b.
func (bm *Beams) Get(b int) []BeamEntry {
	return bm.perBatch[b]
}

// Width returns len(Get(b)), the beam width contributed by batch b.
func (bm *Beams) Width(b int) int {
	return len(bm.perBatch[b])
}
