package risk

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"futures-llm-trader/config"
	"futures-llm-trader/internal/binance"
	"futures-llm-trader/internal/decision"
	"futures-llm-trader/internal/market"
)

func allChecks() config.PreTradeChecksConfig {
	return config.PreTradeChecksConfig{
		CheckBalance:      true,
		CheckPriceAnomaly: true,
		CheckLiquidity:    true,
	}
}

func gateSnapshot(available, change24h, bid, ask float64) *market.Snapshot {
	return &market.Snapshot{
		Account: market.Account{AvailableBalance: available},
		Symbols: map[string]*market.SymbolData{
			"BTCUSDT": {
				Symbol: "BTCUSDT",
				Ticker: &binance.Ticker{Symbol: "BTCUSDT", LastPrice: (bid + ask) / 2, PriceChangePercent: change24h},
				Depth:  &market.Depth{BestBid: bid, BestAsk: ask},
			},
		},
	}
}

func openDecision(usdt float64) decision.Decision {
	return decision.Decision{
		Symbol:     "BTCUSDT",
		Action:     decision.ActionLong,
		Confidence: 80,
		USDTAmount: usdt,
	}
}

func TestGatePassesHealthyOrder(t *testing.T) {
	g := NewGate(allChecks(), zerolog.Nop(), nil)
	v := g.Check(openDecision(100), gateSnapshot(500, 2.5, 30000, 30003))
	if !v.Passed {
		t.Errorf("expected pass, got rejection: %s", v.Reason)
	}
}

func TestGateInsufficientBalance(t *testing.T) {
	var alarms []string
	g := NewGate(allChecks(), zerolog.Nop(), func(m string) { alarms = append(alarms, m) })

	v := g.Check(openDecision(100), gateSnapshot(50, 2.5, 30000, 30003))
	if v.Passed {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(v.Reason, "insufficient balance") {
		t.Errorf("reason = %q", v.Reason)
	}
	if len(alarms) != 1 {
		t.Errorf("expected one alarm, got %d", len(alarms))
	}
}

func TestGatePriceAnomaly(t *testing.T) {
	g := NewGate(allChecks(), zerolog.Nop(), nil)
	for _, change := range []float64{25, -25} {
		v := g.Check(openDecision(100), gateSnapshot(500, change, 30000, 30003))
		if v.Passed {
			t.Errorf("24h change %v%% should be rejected", change)
		}
	}
	if v := g.Check(openDecision(100), gateSnapshot(500, 19.9, 30000, 30003)); !v.Passed {
		t.Errorf("19.9%% should pass: %s", v.Reason)
	}
}

func TestGateWideSpread(t *testing.T) {
	g := NewGate(allChecks(), zerolog.Nop(), nil)

	// 2% spread.
	v := g.Check(openDecision(100), gateSnapshot(500, 1, 30000, 30600))
	if v.Passed {
		t.Fatal("2% spread should be rejected")
	}
	if !strings.Contains(v.Reason, "spread") {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestGateMissingBookSide(t *testing.T) {
	g := NewGate(allChecks(), zerolog.Nop(), nil)
	snap := gateSnapshot(500, 1, 30000, 30003)
	snap.Symbols["BTCUSDT"].Depth = &market.Depth{BestBid: 30000}
	if v := g.Check(openDecision(100), snap); v.Passed {
		t.Error("one-sided book must be rejected")
	}
}

func TestGateShortCircuitsOnFirstFailure(t *testing.T) {
	g := NewGate(allChecks(), zerolog.Nop(), nil)
	// Both balance and spread bad: balance runs first and must be the reason.
	v := g.Check(openDecision(1000), gateSnapshot(50, 1, 30000, 30600))
	if v.Passed || !strings.Contains(v.Reason, "insufficient balance") {
		t.Errorf("expected balance rejection first, got %q", v.Reason)
	}
}

func TestGateSkipsNonOpeningActions(t *testing.T) {
	g := NewGate(allChecks(), zerolog.Nop(), nil)
	// Empty snapshot would fail every check, but reduce actions bypass them.
	snap := &market.Snapshot{Symbols: map[string]*market.SymbolData{}}
	for _, a := range []decision.Action{
		decision.ActionCloseLong, decision.ActionReduceShrt,
		decision.ActionAdjustTPSL, decision.ActionCancelTPSL, decision.ActionHold,
	} {
		d := decision.Decision{Symbol: "BTCUSDT", Action: a}
		if v := g.Check(d, snap); !v.Passed {
			t.Errorf("action %s must bypass the gate: %s", a, v.Reason)
		}
	}
}

func TestGateDisabledChecks(t *testing.T) {
	g := NewGate(config.PreTradeChecksConfig{}, zerolog.Nop(), nil)
	// Everything is off: even a terrible order passes.
	v := g.Check(openDecision(1000), gateSnapshot(1, 50, 30000, 31000))
	if !v.Passed {
		t.Errorf("disabled checks should pass everything: %s", v.Reason)
	}
}

func TestGateIsStateless(t *testing.T) {
	g := NewGate(allChecks(), zerolog.Nop(), nil)
	snap := gateSnapshot(500, 2.5, 30000, 30003)
	d := openDecision(100)
	first := g.Check(d, snap)
	second := g.Check(d, snap)
	if first.Passed != second.Passed || first.Reason != second.Reason {
		t.Error("same decision and snapshot must produce the same verdict")
	}
}

func TestValidateCredentials(t *testing.T) {
	log := zerolog.Nop()
	if err := ValidateCredentials("AbCd1234EfGh5678IjKl9012", "MnOp3456QrSt7890UvWx1234", true, log); err != nil {
		t.Errorf("valid keys rejected: %v", err)
	}
	if err := ValidateCredentials("", "MnOp3456QrSt7890UvWx1234", false, log); err == nil {
		t.Error("empty api key must fail")
	}
	if err := ValidateCredentials("short", "MnOp3456QrSt7890UvWx1234", false, log); err == nil {
		t.Error("truncated key must fail")
	}
	if err := ValidateCredentials("your_api_key_goes_here_please", "MnOp3456QrSt7890UvWx1234", false, log); err == nil {
		t.Error("placeholder key must fail")
	}
	if err := ValidateCredentials("AbCd1234EfGh5678IjKl!@#$", "MnOp3456QrSt7890UvWx1234", false, log); err == nil {
		t.Error("key with symbols must fail")
	}
}
