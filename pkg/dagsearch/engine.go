package dagsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagsearch/dagsearch/internal/ledger"
	"github.com/dagsearch/dagsearch/pkg/config"
	"github.com/dagsearch/dagsearch/pkg/utils"
)

// tracerName is the OpenTelemetry instrumentation name Engine spans are
// recorded under; pkg/telemetry configures the service name ("dagsearch-
// engine") the exported spans carry as a resource attribute.
const tracerName = "github.com/dagsearch/dagsearch/pkg/dagsearch"

// StepTiming records one ExpandBeam call's sub-phase durations: building
// the chunk manifest, running the parallel expansion (which includes each
// worker's own cache flush, performed inside its goroutine per §4.6.3),
// and any top-level post-parallel bookkeeping.
type StepTiming struct {
	Step          int32
	ChunkManifest time.Duration
	ParallelWork  time.Duration
	Flush         time.Duration
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithLogger overrides the default NullLogger.
func WithLogger(logger utils.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the default RealClock, for deterministic tests.
func WithClock(clock utils.Clock) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithLanguageModel sets the n-gram LM adapter. Omitted or nil degrades
// silently to NullLM, matching the LMLoadFailure policy in §7.
func WithLanguageModel(lm LanguageModel) EngineOption {
	return func(e *Engine) { e.lm = lm }
}

// WithRunRepository attaches a run ledger: one Run row per InitBeam call,
// updated as ExpandBeam steps complete. The ledger records run metadata
// only, never search state (see internal/ledger's package doc).
func WithRunRepository(repo ledger.RunRepository) EngineOption {
	return func(e *Engine) { e.runRepo = repo }
}

// Engine owns the arena pools, per-batch concurrent maps, and node store
// backing one decode session, and exposes the three external operations
// named in §6: GlobalInit (via NewEngine), InitBeam, and ExpandBeam.
//
// Per the Design Notes' "global mutable state" remark, this packages the
// reference's process-wide singleton arenas/maps into one explicit value
// instead: "must be called exactly once" becomes "construct one Engine per
// decode session."
type Engine struct {
	cfg         config.EngineConfig
	maxBatches  int
	arenas      *arenas
	stores      []*batchStore
	nodeStore   *NodeStore
	beams       *Beams
	lm          LanguageModel
	logger      utils.Logger
	clock       utils.Clock
	tracer      trace.Tracer
	runRepo     ledger.RunRepository
	runID       string
	lastTiming  StepTiming
	batchSize   int
	stepsDone   int
}

// NewEngine is the GlobalInit operation from §6: it sizes every arena to
// maxBatchSize's worth of node_children/node_step_score/node_notify
// headroom and allocates maxBatchSize per-batch concurrent maps. Must be
// called exactly once per Engine value; callers that need a second search
// session construct a second Engine.
func NewEngine(maxBatchSize int, cfg config.EngineConfig, opts ...EngineOption) (*Engine, error) {
	if maxBatchSize < 1 {
		return nil, errEngineConfig("max batch size must be at least 1")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errEngineConfig(err.Error())
	}

	a := &arenas{
		nodes:        NewArena[SearchNode](cfg.ArenaNodeCapacity*maxBatchSize, cfg.RefillBatchBase, cfg.RefillBatchJitter),
		notifies:     NewArena[Notify](cfg.ArenaNotifyCapacity*maxBatchSize, cfg.RefillBatchBase, cfg.RefillBatchJitter),
		childChains:  NewArena[chainNode[childKey, *SearchNode]](cfg.ArenaNodeCapacity*maxBatchSize, cfg.RefillBatchBase, cfg.RefillBatchJitter),
		stepChains:   NewArena[chainNode[stepKey, ScoreSlot]](cfg.ArenaStepScoreCapacity*maxBatchSize, cfg.RefillBatchBase, cfg.RefillBatchJitter),
		notifyChains: NewArena[chainNode[notifyKey, notifyHead]](cfg.ArenaNotifyCapacity*maxBatchSize, cfg.RefillBatchBase, cfg.RefillBatchJitter),
	}

	stores := make([]*batchStore, maxBatchSize)
	for i := range stores {
		stores[i] = newBatchStore(cfg.MapBucketCount)
	}

	e := &Engine{
		cfg:        cfg,
		maxBatches: maxBatchSize,
		arenas:     a,
		stores:     stores,
		logger:     &utils.NullLogger{},
		clock:      utils.NewRealClock(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.nodeStore = newNodeStore(a, e.lm)
	return e, nil
}

// InitBeam is the per-search-start operation from §6: it clears every
// arena and every per-batch map (invalidating all prior indices and map
// heads simultaneously, per Invariant 5), then seeds one root node per
// batch at (step=0, length=0) with word goID.
func (e *Engine) InitBeam(ctx context.Context, batchSize int, goID int32) error {
	if batchSize < 1 || batchSize > e.maxBatches {
		return errEngineConfig(fmt.Sprintf("batch_size %d exceeds initialized maximum %d", batchSize, e.maxBatches))
	}

	ctx, span := e.tracer.Start(ctx, "dagsearch.init_beam")
	defer span.End()

	e.arenas.clearGlobal()
	for i := range e.stores {
		e.stores[i].clear()
	}

	e.batchSize = batchSize
	e.beams = NewBeams(batchSize)
	e.stepsDone = 0

	roots := make([]*SearchNode, batchSize)
	nodeLease := e.arenas.nodes.Lease("search node")
	notifyLease := e.arenas.notifies.Lease("notify")
	childLease := e.arenas.childChains.Lease("node_children chain")
	stepLease := e.arenas.stepChains.Lease("node_step_score chain")
	notifyChainLease := e.arenas.notifyChains.Lease("node_notify chain")

	for b := 0; b < batchSize; b++ {
		root, err := e.nodeStore.StartNode(e.stores[b], nodeLease, notifyLease, childLease, stepLease, notifyChainLease, goID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		roots[b] = root
		e.beams.Set(b, []BeamEntry{{Score: 0, Node: root}})
	}

	span.SetAttributes(
		attribute.Int("batch_size", batchSize),
		attribute.Float64("arena_nodes_in_use_ratio", float64(e.arenas.nodes.InUse())/float64(e.arenas.nodes.Cap())),
	)
	e.logger.Info("init_beam: batch_size=%d arena_nodes_cap=%d in_use=%d", batchSize, e.arenas.nodes.Cap(), e.arenas.nodes.InUse())

	if e.runRepo != nil {
		snapshot, _ := json.Marshal(e.cfg)
		e.runID = uuid.NewString()
		run := &ledger.Run{
			ID:             e.runID,
			ConfigSnapshot: string(snapshot),
			Status:         ledger.RunStatusStarted,
			StartedAt:      e.clock.Now(),
		}
		if err := e.runRepo.CreateRun(ctx, run); err != nil {
			e.logger.Warn("ledger: failed to record run start: %v", err)
		}
	}

	return nil
}

// SetBeam installs the externally-computed surviving hypothesis set for
// batch b ahead of the next ExpandBeam call. Beam selection, pruning, and
// backtrace are out of scope (§1); this is the seam a caller uses to hand
// the driver each step's beam.
func (e *Engine) SetBeam(b int, entries []BeamEntry) {
	e.beams.Set(b, entries)
}

// Root returns batch b's root node, mainly useful for tests and for a
// caller seeding its own beam-selection state after InitBeam.
func (e *Engine) Root(b int) *SearchNode {
	entries := e.beams.Get(b)
	if len(entries) == 0 {
		return nil
	}
	n := entries[0].Node
	for n.Parent() != nil {
		n = n.Parent()
	}
	return n
}

// Notifications returns the head of the (step, length) notification chain
// for batch b, for the external reader described in §6.
func (e *Engine) Notifications(b int, step, length int32) *Notify {
	v, ok := e.stores[b].notifications.Get(e.arenas.notifyChains, notifyKey{step: step, length: length})
	if !ok {
		return nil
	}
	return v.Front()
}

// StepScore returns the current log-domain aggregated score for (node,
// step), for the external reader described in §6.
func (e *Engine) StepScore(b int, node *SearchNode, step int32) (float64, bool) {
	if !node.quick.spilled.Load() {
		for i := range node.quick.entries {
			entry := &node.quick.entries[i]
			if entry.step.Load() == step {
				return entry.score.Load(), true
			}
		}
		return 0, false
	}
	v, ok := e.stores[b].stepScores.Get(e.arenas.stepChains, stepKey{node: node, step: step})
	if !ok {
		return 0, false
	}
	return v.Load(), true
}

// ExpandBeam is the per-step expansion operation from §6 and §4.6. It
// builds the chunk manifest, runs the parallel expansion, and records
// per-sub-phase timing and an OTel span (step, chunk_size,
// children_notified attributes).
func (e *Engine) ExpandBeam(ctx context.Context, step int32, in ExpandInput) error {
	if e.beams == nil {
		return errEngineConfig("expand_beam called before init_beam")
	}
	if in.TopP <= 0 {
		in.TopP = e.cfg.NucleusTopP
	}

	ctx, span := e.tracer.Start(ctx, "dagsearch.expand_beam")
	defer span.End()
	span.SetAttributes(attribute.Int64("step", int64(step)))

	timer := utils.NewTimer(fmt.Sprintf("expand_beam step=%d", step), utils.WithClock(e.clock), utils.WithEnabled(true), utils.WithLogger(e.logger))

	chunkPhase := timer.Start("chunk_manifest")
	manifest := newChunkManifest(e.batchSize, func(b int) int {
		if int(step) >= int(in.OutputLength.At(b))-1 {
			return 0
		}
		return e.beams.Width(b)
	})
	chunkPhase.Stop()
	span.SetAttributes(attribute.Int("chunk_size", manifest.Size()))

	parallelPhase := timer.Start("parallel_work")
	notified, err := e.expandBeamStep(ctx, step, in, manifest)
	parallelPhase.Stop()

	flushPhase := timer.Start("flush")
	// Per-worker caches already flushed inside expandBeamStep (§4.6.3);
	// this phase is the top-level post-parallel bookkeeping only.
	e.stepsDone++
	flushPhase.Stop()

	e.lastTiming = StepTiming{
		Step:          step,
		ChunkManifest: timer.GetDuration("chunk_manifest"),
		ParallelWork:  timer.GetDuration("parallel_work"),
		Flush:         timer.GetDuration("flush"),
	}
	timer.PrintSummary()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if e.runRepo != nil && e.runID != "" {
			if ferr := e.runRepo.FinishRun(ctx, e.runID, ledger.RunStatusFailed, err.Error()); ferr != nil {
				e.logger.Warn("ledger: failed to record run failure: %v", ferr)
			}
		}
		return err
	}

	span.SetAttributes(attribute.Int64("children_notified", notified))

	if e.runRepo != nil && e.runID != "" {
		uerr := e.runRepo.UpdateRunProgress(ctx, e.runID, e.stepsDone, e.arenas.nodes.InUse(), e.arenas.notifies.InUse())
		if uerr != nil {
			e.logger.Warn("ledger: failed to record run progress: %v", uerr)
		}
	}

	return nil
}

// Finish marks the current run complete in the ledger, if one is attached.
// Callers invoke this once decoding for the session is done.
func (e *Engine) Finish(ctx context.Context) error {
	if e.runRepo == nil || e.runID == "" {
		return nil
	}
	return e.runRepo.FinishRun(ctx, e.runID, ledger.RunStatusCompleted, "")
}

// LastStepTiming returns the most recent ExpandBeam call's sub-phase
// durations.
func (e *Engine) LastStepTiming() StepTiming {
	return e.lastTiming
}

// ArenaUtilization reports the high-water mark (records in use / capacity)
// for each arena, for the gauge the Ambient Stack section describes.
type ArenaUtilization struct {
	Nodes        float64
	Notifies     float64
	ChildChains  float64
	StepChains   float64
	NotifyChains float64
}

// Utilization computes the current ArenaUtilization snapshot.
func (e *Engine) Utilization() ArenaUtilization {
	ratio := func(used int64, capacity int) float64 {
		if capacity == 0 {
			return 0
		}
		return float64(used) / float64(capacity)
	}
	return ArenaUtilization{
		Nodes:        ratio(e.arenas.nodes.InUse(), e.arenas.nodes.Cap()),
		Notifies:     ratio(e.arenas.notifies.InUse(), e.arenas.notifies.Cap()),
		ChildChains:  ratio(e.arenas.childChains.InUse(), e.arenas.childChains.Cap()),
		StepChains:   ratio(e.arenas.stepChains.InUse(), e.arenas.stepChains.Cap()),
		NotifyChains: ratio(e.arenas.notifyChains.InUse(), e.arenas.notifyChains.Cap()),
	}
}
