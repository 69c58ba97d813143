package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-llm-trader/internal/ai/llm"
	"futures-llm-trader/internal/decision"
	"futures-llm-trader/internal/history"
	"futures-llm-trader/internal/market"
	"futures-llm-trader/internal/risk"
	"futures-llm-trader/internal/store"
	"futures-llm-trader/internal/trader"
)

// Config tunes the session loop.
type Config struct {
	Symbols         []string
	Timeframes      []string
	Strategy        string
	Interval        time.Duration
	MaxRuntime      time.Duration // 0 means run until interrupted
	DryRun          bool
	MinConfidence   float64
	DefaultLeverage int
}

// Bot runs the analyze-decide-execute loop. Cycles are strictly
// sequential: a cycle finishes completely, including the orphan sweep,
// before the next one starts or the session shuts down.
type Bot struct {
	cfg        Config
	assembler  *market.Assembler
	llmClient  *llm.Client
	normalizer *decision.Normalizer
	gate       *risk.Gate
	executor   *trader.Executor
	reconciler *trader.Reconciler
	audit      *history.Logger
	store      *store.Store
	log        zerolog.Logger

	mu     sync.RWMutex
	status Status
	notify func(CycleSummary)
}

// Status is the live session view served by the dashboard.
type Status struct {
	StartedAt    time.Time           `json:"startedAt"`
	Cycles       int                 `json:"cycles"`
	LastCycleAt  time.Time           `json:"lastCycleAt"`
	DryRun       bool                `json:"dryRun"`
	Strategy     string              `json:"strategy"`
	Symbols      []string            `json:"symbols"`
	LastSummary  string              `json:"lastSummary"`
	LastSnapshot *market.Snapshot    `json:"-"`
	Decisions    []decision.Decision `json:"-"`
}

// CycleSummary is pushed to dashboard subscribers after each cycle.
type CycleSummary struct {
	CycleID   string    `json:"cycleId"`
	Cycle     int       `json:"cycle"`
	Partial   bool      `json:"partial"`
	Quality   string    `json:"quality"`
	Decisions int       `json:"decisions"`
	Executed  int       `json:"executed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Elapsed   float64   `json:"elapsedSeconds"`
	At        time.Time `json:"at"`
}

// New wires a bot from its collaborators.
func New(cfg Config, assembler *market.Assembler, llmClient *llm.Client, normalizer *decision.Normalizer,
	gate *risk.Gate, executor *trader.Executor, reconciler *trader.Reconciler,
	audit *history.Logger, st *store.Store, log zerolog.Logger) *Bot {
	if cfg.Interval <= 0 {
		cfg.Interval = 900 * time.Second
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = market.DefaultTimeframes
	}
	return &Bot{
		cfg:        cfg,
		assembler:  assembler,
		llmClient:  llmClient,
		normalizer: normalizer,
		gate:       gate,
		executor:   executor,
		reconciler: reconciler,
		audit:      audit,
		store:      st,
		log:        log,
	}
}

// OnCycle registers a hook invoked after every completed cycle.
func (b *Bot) OnCycle(fn func(CycleSummary)) {
	b.mu.Lock()
	b.notify = fn
	b.mu.Unlock()
}

// Status returns a copy of the current session status.
func (b *Bot) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Decisions returns the decisions from the most recent cycle.
func (b *Bot) Decisions() []decision.Decision {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]decision.Decision, len(b.status.Decisions))
	copy(out, b.status.Decisions)
	return out
}

// Snapshot returns the most recent market snapshot, possibly nil.
func (b *Bot) Snapshot() *market.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status.LastSnapshot
}

// Run executes cycles until the context is canceled or MaxRuntime elapses.
// A cancellation arriving mid-cycle lets the cycle finish; the interval
// wait is the only interruptible point.
func (b *Bot) Run(ctx context.Context) error {
	started := time.Now().UTC()
	b.mu.Lock()
	b.status = Status{
		StartedAt: started,
		DryRun:    b.cfg.DryRun,
		Strategy:  b.cfg.Strategy,
		Symbols:   b.cfg.Symbols,
	}
	b.mu.Unlock()

	b.log.Info().
		Strs("symbols", b.cfg.Symbols).
		Dur("interval", b.cfg.Interval).
		Bool("dryRun", b.cfg.DryRun).
		Str("strategy", b.cfg.Strategy).
		Msg("trading session started")

	sess := llm.SessionContext{
		StartedAt: started,
		Strategy:  b.cfg.Strategy,
		DryRun:    b.cfg.DryRun,
	}

	cycle := 0
	for {
		if b.cfg.MaxRuntime > 0 && time.Since(started) >= b.cfg.MaxRuntime {
			b.log.Info().Dur("maxRuntime", b.cfg.MaxRuntime).Msg("max runtime reached, stopping")
			break
		}
		if ctx.Err() != nil {
			break
		}

		cycle++
		sess.CycleNumber = cycle
		sess.LastDecision = b.runCycle(ctx, sess)

		select {
		case <-ctx.Done():
		case <-time.After(b.cfg.Interval):
		}
		if ctx.Err() != nil {
			break
		}
	}

	b.logSessionSummary(started, cycle)
	return nil
}

// runCycle performs one full snapshot-analyze-execute pass and returns a
// one-line summary for the next cycle's prompt.
func (b *Bot) runCycle(ctx context.Context, sess llm.SessionContext) string {
	cycleID := uuid.NewString()
	start := time.Now().UTC()
	log := b.log.With().Int("cycle", sess.CycleNumber).Str("cycleId", cycleID).Logger()
	log.Info().Msg("cycle started")

	snap := b.assembler.Assemble(ctx, b.cfg.Symbols, b.cfg.Timeframes)
	if snap.Partial {
		log.Warn().Strs("errors", snap.Errors).Msg("snapshot is partial")
	}

	systemPrompt := llm.BuildSystemPrompt(b.cfg.Strategy, b.cfg.MinConfidence, b.cfg.DefaultLeverage)
	userPrompt := llm.BuildUserPrompt(snap, sess)
	b.audit.LogInput(sess.CycleNumber, systemPrompt, userPrompt)

	completion, err := b.llmClient.Complete(systemPrompt, userPrompt)
	if err != nil {
		log.Error().Err(err).Msg("model call failed, skipping cycle")
		b.audit.Alarm(fmt.Sprintf("cycle %d: model call failed: %v", sess.CycleNumber, err))
		b.finishCycle(ctx, cycleID, sess.CycleNumber, start, snap, "failed", nil, 0, 0, 0, 0)
		return "model call failed"
	}
	b.audit.LogOutput(sess.CycleNumber, completion.Content)
	b.audit.LogThinking(sess.CycleNumber, llm.ExtractThinking(completion.Content))

	result := llm.ParseAnalysis(completion.Content)
	if result.ParseError != "" {
		log.Warn().Str("parseError", result.ParseError).Msg("model response unusable")
		b.audit.Alarm(fmt.Sprintf("cycle %d: unparseable model response: %s", sess.CycleNumber, result.ParseError))
	}

	decisions := b.normalizer.Normalize(result, snap)
	executed, skipped, failed := 0, 0, 0
	for _, d := range decisions {
		b.store.SaveDecision(ctx, cycleID, d)

		if !d.ShouldExecute {
			skipped++
			why := d.SkipReason
			if why == "" {
				why = "hold"
			}
			if d.Action != decision.ActionHold {
				b.audit.LogSkip(d.Symbol, string(d.Action), why)
			}
			continue
		}

		if verdict := b.gate.Check(d, snap); !verdict.Passed {
			skipped++
			b.audit.LogSkip(d.Symbol, string(d.Action), "safety: "+verdict.Reason)
			continue
		}

		report, execErr := b.executor.Execute(ctx, d, snap)
		b.audit.LogExecution(report, d.Reason)
		b.store.SaveExecution(ctx, cycleID, report)
		if execErr != nil {
			failed++
			log.Error().Err(execErr).Str("symbol", d.Symbol).Str("action", string(d.Action)).
				Msg("execution failed")
			b.audit.Alarm(fmt.Sprintf("execution failed %s %s: %v", d.Symbol, d.Action, execErr))
			continue
		}
		executed++
	}

	swept := b.sweepOrphans(log)
	b.finishCycle(ctx, cycleID, sess.CycleNumber, start, snap, result.AnalysisQuality,
		decisions, executed, skipped, failed, swept)

	log.Info().
		Int("decisions", len(decisions)).
		Int("executed", executed).
		Int("skipped", skipped).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("cycle finished")

	return fmt.Sprintf("%d decisions: %d executed, %d skipped, %d failed", len(decisions), executed, skipped, failed)
}

func (b *Bot) sweepOrphans(log zerolog.Logger) int {
	swept, err := b.reconciler.Sweep()
	if err != nil {
		log.Error().Err(err).Msg("orphan sweep failed")
		b.audit.Alarm(fmt.Sprintf("orphan sweep failed: %v", err))
		return 0
	}
	return swept
}

func (b *Bot) finishCycle(ctx context.Context, cycleID string, cycle int, start time.Time,
	snap *market.Snapshot, quality string, decisions []decision.Decision, executed, skipped, failed, swept int) {
	elapsed := time.Since(start)
	b.audit.LogCycle(history.CycleRecord{
		Cycle:        cycle,
		Partial:      snap.Partial,
		Quality:      quality,
		Decisions:    len(decisions),
		Executed:     executed,
		Skipped:      skipped,
		Failed:       failed,
		SweptOrphans: swept,
		Elapsed:      elapsed,
	})
	b.store.SaveCycle(ctx, cycleID, start, time.Now().UTC(), snap.Partial, quality, len(decisions), executed)

	summary := CycleSummary{
		CycleID:   cycleID,
		Cycle:     cycle,
		Partial:   snap.Partial,
		Quality:   quality,
		Decisions: len(decisions),
		Executed:  executed,
		Skipped:   skipped,
		Failed:    failed,
		Elapsed:   elapsed.Seconds(),
		At:        time.Now().UTC(),
	}

	b.mu.Lock()
	b.status.Cycles = cycle
	b.status.LastCycleAt = time.Now().UTC()
	b.status.LastSummary = fmt.Sprintf("%d decisions, %d executed", len(decisions), executed)
	b.status.LastSnapshot = snap
	b.status.Decisions = decisions
	notify := b.notify
	b.mu.Unlock()

	if notify != nil {
		notify(summary)
	}
}

func (b *Bot) logSessionSummary(started time.Time, cycles int) {
	b.log.Info().
		Int("cycles", cycles).
		Dur("runtime", time.Since(started)).
		Msg("trading session ended")
	b.audit.Alarm(fmt.Sprintf("session ended after %d cycles (%s)", cycles, time.Since(started).Round(time.Second)))
}
