package dagsearch

import "sort"

// chunkManifest flattens the variable-width per-batch beams at a step into
// one parallel iteration space: a prefix-sum array chk where
// chk[b+1]-chk[b] is the beam width contributed by batch b (zero if that
// batch has already reached its final step), so chunk index i maps back to
// a (batch, slot) pair via a binary search over chk. This is the Go
// equivalent of the reference's ChunkManager.
type chunkManifest struct {
	chk []int // len(beamWidths)+1
}

// newChunkManifest builds the manifest for one step. beamWidth(b) returns
// the number of surviving hypotheses batch b contributes at this step, or
// 0 if batch b has no more work (its output is already fully decoded).
func newChunkManifest(batchSize int, beamWidth func(b int) int) *chunkManifest {
	chk := make([]int, batchSize+1)
	for b := 0; b < batchSize; b++ {
		chk[b+1] = chk[b] + beamWidth(b)
	}
	return &chunkManifest{chk: chk}
}

// Size returns the total number of (batch, slot) work items.
func (m *chunkManifest) Size() int {
	return m.chk[len(m.chk)-1]
}

// Get maps a flat chunk index back to (batch, slot) via upper_bound(chk,
// i) - 1.
func (m *chunkManifest) Get(i int) (batch, slot int) {
	b := sort.Search(len(m.chk), func(j int) bool { return m.chk[j] > i }) - 1
	return b, i - m.chk[b]
}
