package dagsearch

import (
	"context"
	"fmt"
	"math"

	"github.com/dagsearch/dagsearch/pkg/parallel"
)

// ExpandInput bundles the strided tensor views and nucleus cutoff for one
// ExpandBeam call, mirroring the External Interfaces tensor view format
// (§6): output_length, dagscores, nextstep_idx, logits_idx, lm_vocab, and
// top_p. TopCandN is K, the number of candidates the neural layer produced
// per beam slot at this step.
type ExpandInput struct {
	OutputLength Int32View
	DAGScores    Float32View
	NextStepIdx  Int32View
	LogitsIdx    Int32View
	LMVocab      Int32View
	TopP         float64
	TopCandN     int
}

// workerState bundles one worker goroutine's private arena leases and the
// two per-thread caches described in §4.5, reused across a step's parallel
// region rather than reallocated per chunk item.
type workerState struct {
	leases *workerLeases
	cache  *ExpandBeamCache
	notify *NotifyCache
}

// expandResult is one worker's contribution to a step's parallel region,
// reduced across all workers at the end of expandBeamStep.
type expandResult struct {
	childrenNotified int64
	err              error
}

// expandBeamStep runs the parallel beam-expansion loop described in §4.6:
// partition the flattened (batch, beam-slot) work across e.cfg.Workers
// goroutines via pkg/parallel's static ChunkProcessor, decode each slot's
// top-k candidates under the nucleus cutoff, and dispatch through each
// worker's ExpandBeamCache/NotifyCache into the shared per-batch stores.
// Each worker flushes its own caches before its goroutine returns, so the
// flush happens inside the parallel region per §4.6.3.
func (e *Engine) expandBeamStep(ctx context.Context, step int32, in ExpandInput, manifest *chunkManifest) (childrenNotified int64, err error) {
	size := manifest.Size()
	if size == 0 {
		return 0, nil
	}

	numWorkers := e.cfg.Workers
	if numWorkers < 1 {
		numWorkers = 1
	}

	workers := make([]*workerState, numWorkers)
	for i := range workers {
		leases := newWorkerLeases(e.arenas)
		workers[i] = &workerState{
			leases: leases,
			cache:  newExpandBeamCache(e.nodeStore, leases),
			notify: newNotifyCache(),
		}
	}

	items := make([]int, size)
	for i := range items {
		items[i] = i
	}

	poolCfg := parallel.DefaultPoolConfig().WithWorkers(numWorkers)
	proc := parallel.NewChunkProcessor[int, expandResult](poolCfg)

	result := proc.ProcessChunks(ctx, items,
		func(ctx context.Context, chunk []int, workerID int) expandResult {
			return e.expandChunk(step, in, manifest, workers[workerID], chunk)
		},
		reduceExpandResults,
	)

	return result.childrenNotified, result.err
}

func reduceExpandResults(results []expandResult) expandResult {
	var total expandResult
	for _, r := range results {
		if r.err != nil && total.err == nil {
			total.err = r.err
		}
		total.childrenNotified += r.childrenNotified
	}
	return total
}

// expandChunk processes one worker's contiguous slice of flat chunk
// indices, then flushes that worker's caches. It never touches another
// worker's state, so it needs no synchronization beyond what the
// concurrent maps and atomic score slots already provide.
func (e *Engine) expandChunk(step int32, in ExpandInput, manifest *chunkManifest, w *workerState, chunk []int) expandResult {
	w.leases.reset()
	w.cache.reset()

	var notified int64
	for _, i := range chunk {
		b, slot := manifest.Get(i)
		entries := e.beams.Get(b)
		if slot >= len(entries) {
			continue
		}
		node := entries[slot].Node
		store := e.stores[b]

		base, wasCreated, err := e.nodeStore.StepScoreSlot(store, node, step, w.leases.stepChains)
		if err != nil {
			return expandResult{err: err}
		}
		if wasCreated {
			e.logger.Warn("%v", errInvariantViolation(fmt.Sprintf(
				"step-score slot for (node, step=%d) did not exist entering expand_beam; beam selection should have notified it in a prior step", step)))
		}
		baseScore := base.Load()

		n, err := e.expandSlot(step, in, b, node, baseScore, w, store)
		if err != nil {
			return expandResult{err: err}
		}
		notified += n
	}

	w.cache.Flush()
	if err := w.notify.Flush(e.stores, w.leases); err != nil {
		return expandResult{err: err}
	}
	return expandResult{childrenNotified: notified}
}

// expandSlot iterates one beam slot's top-k candidates under the nucleus
// cutoff (§4.6.c/8.6): expansion stops as soon as the running cumulative
// linear probability reaches or exceeds top_p, so the candidate whose
// addition crosses the threshold is still expanded.
func (e *Engine) expandSlot(step int32, in ExpandInput, b int, node *SearchNode, baseScore float64, w *workerState, store *batchStore) (int64, error) {
	var notified int64
	cum := 0.0
	for j := 0; j < in.TopCandN; j++ {
		if cum >= in.TopP {
			break
		}
		word := in.LogitsIdx.At(b, int(step), j)
		lmWord := e.lmVocab(in, word)
		nextStep := in.NextStepIdx.At(b, int(step), j)
		ds := float64(in.DAGScores.At(b, int(step), j))
		cum += math.Exp(ds)

		contribution := baseScore + ds
		child, err := w.cache.Resolve(store, node, word, lmWord, contribution)
		if err != nil {
			return notified, err
		}

		err = e.nodeStore.AddStepScore(store, child, nextStep, contribution, w.leases.stepChains, func() error {
			n, _, err := w.leases.notifies.Allocate()
			if err != nil {
				return err
			}
			n.target = child
			w.notify.Append(b, nextStep, child.Length(), n)
			notified++
			return nil
		})
		if err != nil {
			return notified, err
		}
	}
	return notified, nil
}

// lmVocab resolves the LM vocabulary id for a decoded word id, tolerating a
// vocab table narrower than the decoder's logits vocabulary (returns -1,
// which NullLM and any adapter treat as "unscored").
func (e *Engine) lmVocab(in ExpandInput, word int32) int32 {
	idx := int(word)
	if idx < 0 || idx >= len(in.LMVocab.Data) {
		return -1
	}
	return in.LMVocab.At(idx)
}
