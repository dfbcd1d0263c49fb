package cmd

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/dagsearch/dagsearch/internal/ledger"
	"github.com/dagsearch/dagsearch/internal/lmblob"
	"github.com/dagsearch/dagsearch/pkg/config"
	"github.com/dagsearch/dagsearch/pkg/dagsearch"
	"github.com/dagsearch/dagsearch/pkg/telemetry"
)

var (
	runBatchSize int
	runSteps     int
	runVocab     int
	runTopCand   int
	runTopP      float64
	runSeed      int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive a decode session against synthetic candidate tensors",
	Long: `run constructs an Engine from the loaded configuration and steps it
through a synthetic multi-step decode: each step it fabricates
[batch, step+1, top_cand] buffers of dagscores/logits_idx/nextstep_idx with
only the step-th slice filled (standing in for the neural layer's top-k
output) and calls ExpandBeam, then reads back
the per-step notifications to assemble the next step's beam.

Beam selection itself is out of scope for the engine; this command keeps
every notified child as the next beam, which is enough to exercise the
full expansion, scoring, and notification path end to end.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 2, "Number of independent search batches")
	runCmd.Flags().IntVar(&runSteps, "steps", 4, "Number of decode steps to run")
	runCmd.Flags().IntVar(&runVocab, "vocab", 32, "Synthetic vocabulary size")
	runCmd.Flags().IntVar(&runTopCand, "top-cand", 4, "Candidates per beam slot per step (K)")
	runCmd.Flags().Float64Var(&runTopP, "top-p", 0, "Nucleus cutoff (0 uses the engine config default)")
	runCmd.Flags().Int64Var(&runSeed, "seed", 1, "PRNG seed for the synthetic tensors")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdown, err := telemetry.Init(ctx)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if serr := shutdown(ctx); serr != nil {
			logger.Warn("telemetry shutdown: %v", serr)
		}
	}()

	opts := []dagsearch.EngineOption{dagsearch.WithLogger(logger)}

	if cfg.LM.Path != "" {
		src, err := lmblob.NewSource(&cfg.LM.Source)
		if err != nil {
			logger.Warn("lm blob source unavailable, degrading to NullLM: %v", err)
		} else if _, hash, err := lmblob.FetchModel(ctx, src, cfg.LM.Path); err != nil {
			logger.Warn("lm blob fetch failed, degrading to NullLM: %v", err)
		} else {
			logger.Info("resolved lm blob %s (sha256=%s)", cfg.LM.Path, hash)
		}
	}

	ledgerCfg := ledger.DBConfig(cfg.Ledger)
	if run, err := ledger.NewLedger(&ledgerCfg); err != nil {
		logger.Warn("run ledger unavailable, continuing without it: %v", err)
	} else {
		defer run.Close()
		opts = append(opts, dagsearch.WithRunRepository(run.Runs))
	}

	eng, err := dagsearch.NewEngine(runBatchSize, cfg.Engine, opts...)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	rng := rand.New(rand.NewSource(runSeed))
	if err := eng.InitBeam(ctx, runBatchSize, 0); err != nil {
		return fmt.Errorf("init_beam: %w", err)
	}

	outputLength := make([]int32, runBatchSize)
	for b := range outputLength {
		outputLength[b] = int32(runSteps + 1)
	}
	outLenView := dagsearch.NewInt32View1(outputLength)

	lmVocab := make([]int32, runVocab)
	for i := range lmVocab {
		lmVocab[i] = int32(i)
	}
	lmVocabView := dagsearch.NewInt32View1(lmVocab)

	currentBeam := make([][]dagsearch.BeamEntry, runBatchSize)
	for b := 0; b < runBatchSize; b++ {
		currentBeam[b] = []dagsearch.BeamEntry{{Score: 0, Node: eng.Root(b)}}
	}

	for step := int32(0); step < int32(runSteps); step++ {
		width := int(step) + 1 // second dimension only ever indexed at `step`; earlier slices are unused padding
		in := dagsearch.ExpandInput{
			OutputLength: outLenView,
			DAGScores:    dagsearch.NewFloat32View3(syntheticDAGScores(rng, runBatchSize, width, runTopCand, step), runBatchSize, width, runTopCand),
			NextStepIdx:  dagsearch.NewInt32View3(syntheticNextStep(runBatchSize, width, runTopCand, step, step+1), runBatchSize, width, runTopCand),
			LogitsIdx:    dagsearch.NewInt32View3(syntheticLogits(rng, runBatchSize, width, runTopCand, runVocab, step), runBatchSize, width, runTopCand),
			LMVocab:      lmVocabView,
			TopP:         runTopP,
			TopCandN:     runTopCand,
		}

		if err := eng.ExpandBeam(ctx, step, in); err != nil {
			return fmt.Errorf("expand_beam step=%d: %w", step, err)
		}

		timing := eng.LastStepTiming()
		util := eng.Utilization()
		logger.Info("step=%d chunk=%s parallel=%s flush=%s nodes_util=%.3f notify_util=%.3f",
			step, timing.ChunkManifest, timing.ParallelWork, timing.Flush, util.Nodes, util.Notifies)

		for b := 0; b < runBatchSize; b++ {
			head := eng.Notifications(b, step+1, step+1)
			var entries []dagsearch.BeamEntry
			for cur := head; cur != nil; cur = cur.Next() {
				score, _ := eng.StepScore(b, cur.Target(), step+1)
				entries = append(entries, dagsearch.BeamEntry{Score: score, Node: cur.Target()})
			}
			if len(entries) == 0 {
				continue
			}
			currentBeam[b] = entries
			eng.SetBeam(b, entries)
		}
	}

	if err := eng.Finish(ctx); err != nil {
		logger.Warn("finish run: %v", err)
	}

	for b := 0; b < runBatchSize; b++ {
		best := bestEntry(currentBeam[b])
		if best.Node == nil {
			logger.Info("batch=%d no surviving hypotheses", b)
			continue
		}
		logger.Info("batch=%d best_score=%.4f best_length=%d", b, best.Score, best.Node.Length())
	}

	return nil
}

func bestEntry(entries []dagsearch.BeamEntry) dagsearch.BeamEntry {
	var best dagsearch.BeamEntry
	best.Score = math.Inf(-1)
	for _, e := range entries {
		if e.Score > best.Score {
			best = e
		}
	}
	return best
}

// The engine indexes every candidate tensor at the real step number, not a
// position relative to this call, so each synthetic buffer below is sized
// [batch, width, topCand] (width = step+1) with only the step-th slice
// populated; earlier slices are unused padding the engine never reads.

// syntheticDAGScores fabricates a softmax-normalized log-probability slice
// per batch at the current step, standing in for the neural layer's
// per-step dagscores output.
func syntheticDAGScores(rng *rand.Rand, batchSize, width, topCand int, step int32) []float32 {
	out := make([]float32, batchSize*width*topCand)
	for b := 0; b < batchSize; b++ {
		logits := make([]float64, topCand)
		var sum float64
		for j := range logits {
			v := math.Exp(rng.Float64() * 2)
			logits[j] = v
			sum += v
		}
		base := b*width*topCand + int(step)*topCand
		for j := range logits {
			out[base+j] = float32(math.Log(logits[j] / sum))
		}
	}
	return out
}

func syntheticNextStep(batchSize, width, topCand int, step, nextStep int32) []int32 {
	out := make([]int32, batchSize*width*topCand)
	for b := 0; b < batchSize; b++ {
		base := b*width*topCand + int(step)*topCand
		for j := 0; j < topCand; j++ {
			out[base+j] = nextStep
		}
	}
	return out
}

func syntheticLogits(rng *rand.Rand, batchSize, width, topCand, vocab int, step int32) []int32 {
	out := make([]int32, batchSize*width*topCand)
	for b := 0; b < batchSize; b++ {
		base := b*width*topCand + int(step)*topCand
		for j := 0; j < topCand; j++ {
			out[base+j] = int32(rng.Intn(vocab))
		}
	}
	return out
}
