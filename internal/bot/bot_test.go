package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-llm-trader/config"
	"futures-llm-trader/internal/ai/llm"
	"futures-llm-trader/internal/binance"
	"futures-llm-trader/internal/cache"
	"futures-llm-trader/internal/decision"
	"futures-llm-trader/internal/history"
	"futures-llm-trader/internal/market"
	"futures-llm-trader/internal/risk"
	"futures-llm-trader/internal/trader"
)

// newTestBot wires a bot over the mock exchange and an LLM endpoint nothing
// listens on, so every model call fails fast with a connection error.
func newTestBot(t *testing.T, cfg Config) (*Bot, string) {
	t.Helper()

	mock := binance.NewMockClient()
	mock.Account = binance.AccountInfo{TotalWalletBalance: 1000, AvailableBalance: 800}
	mock.Tickers["BTCUSDT"] = &binance.Ticker{Symbol: "BTCUSDT", LastPrice: 30000}

	nop := zerolog.Nop()
	assembler := market.NewAssembler(mock, cache.New("", nop), time.Minute, 4, 5*time.Second, nop)
	llmClient := llm.NewClient(llm.ClientConfig{
		BaseURL: "http://127.0.0.1:1",
		APIKey:  "test",
		Model:   "test",
		Timeout: time.Second,
	}, nop)
	normalizer := decision.NewNormalizer(decision.Config{Symbols: cfg.Symbols}, nop)
	gate := risk.NewGate(config.PreTradeChecksConfig{}, nop, nil)
	executor := trader.NewExecutor(mock, binance.NewFilterCache(mock), trader.Config{DryRun: true}, nop)
	reconciler := trader.NewReconciler(mock, true, nop)

	dir := t.TempDir()
	audit, err := history.NewLogger(dir, nop)
	if err != nil {
		t.Fatalf("audit logger: %v", err)
	}

	return New(cfg, assembler, llmClient, normalizer, gate, executor, reconciler, audit, nil, nop), dir
}

func TestRunSurvivesModelFailuresUntilMaxRuntime(t *testing.T) {
	b, dir := newTestBot(t, Config{
		Symbols:    []string{"BTCUSDT"},
		Timeframes: []string{"1h"},
		Interval:   20 * time.Millisecond,
		MaxRuntime: 150 * time.Millisecond,
		DryRun:     true,
	})

	var mu sync.Mutex
	var summaries []CycleSummary
	b.OnCycle(func(s CycleSummary) {
		mu.Lock()
		summaries = append(summaries, s)
		mu.Unlock()
	})

	start := time.Now()
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run took %v, max runtime not honored", elapsed)
	}

	// The unreachable model fails every cycle; the loop must keep cycling
	// anyway until the runtime cap stops it.
	status := b.Status()
	if status.Cycles < 2 {
		t.Errorf("cycles = %d, want at least 2", status.Cycles)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(summaries) != status.Cycles {
		t.Errorf("cycle notifications = %d, want %d", len(summaries), status.Cycles)
	}
	for i, s := range summaries {
		if s.Cycle != i+1 {
			t.Errorf("summary %d has cycle %d, counter must be monotonic", i, s.Cycle)
		}
		if s.Quality != "failed" {
			t.Errorf("cycle %d quality = %q, want failed with no model reachable", s.Cycle, s.Quality)
		}
		if s.Executed != 0 {
			t.Errorf("cycle %d executed %d decisions without model output", s.Cycle, s.Executed)
		}
	}

	alarms, err := os.ReadFile(filepath.Join(dir, "alarm.txt"))
	if err != nil {
		t.Fatalf("read alarms: %v", err)
	}
	if !strings.Contains(string(alarms), "model call failed") {
		t.Error("model failures should raise alarms")
	}
}

func TestRunStopsOnCancelDuringIntervalWait(t *testing.T) {
	b, _ := newTestBot(t, Config{
		Symbols:    []string{"BTCUSDT"},
		Timeframes: []string{"1h"},
		Interval:   time.Hour, // the cancel must interrupt this wait
		DryRun:     true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// Let the first cycle start, then cancel mid-wait.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	// The in-flight cycle completed before the shutdown.
	if got := b.Status().Cycles; got != 1 {
		t.Errorf("cycles = %d, want exactly 1", got)
	}
}

func TestStatusReflectsSession(t *testing.T) {
	b, _ := newTestBot(t, Config{
		Symbols:    []string{"BTCUSDT"},
		Timeframes: []string{"1h"},
		Interval:   10 * time.Millisecond,
		MaxRuntime: 50 * time.Millisecond,
		DryRun:     true,
		Strategy:   "swing",
	})
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	status := b.Status()
	if !status.DryRun || status.Strategy != "swing" {
		t.Errorf("status = %+v", status)
	}
	if status.StartedAt.IsZero() || status.LastCycleAt.IsZero() {
		t.Error("session timestamps missing")
	}
	if b.Snapshot() == nil {
		t.Error("last snapshot should be retained for the dashboard")
	}
}
