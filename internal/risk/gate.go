package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"futures-llm-trader/config"
	"futures-llm-trader/internal/decision"
	"futures-llm-trader/internal/market"
)

const (
	maxPriceChangePercent = 20.0
	maxSpreadFraction     = 0.01
)

// Verdict is the gate's answer for one decision.
type Verdict struct {
	Passed bool
	Reason string
}

// Gate runs pre-trade safety checks on decisions that open or increase
// exposure. Reducing, closing and protective-order actions always pass:
// the gate must never stand between the agent and shrinking risk.
type Gate struct {
	checks config.PreTradeChecksConfig
	log    zerolog.Logger
	alarm  func(string)
}

// NewGate builds the gate. alarm is invoked once per rejection; pass nil
// to disable alarms.
func NewGate(checks config.PreTradeChecksConfig, log zerolog.Logger, alarm func(string)) *Gate {
	if alarm == nil {
		alarm = func(string) {}
	}
	return &Gate{checks: checks, log: log, alarm: alarm}
}

// Check evaluates one decision against the snapshot. Checks short-circuit:
// the first failure is the reported reason. Any internal inconsistency
// (missing market data) fails closed.
func (g *Gate) Check(d decision.Decision, snap *market.Snapshot) Verdict {
	if !d.Action.IsOpen() {
		return Verdict{Passed: true}
	}

	if g.checks.CheckBalance {
		if v := g.checkBalance(d, snap); !v.Passed {
			return g.reject(d, v)
		}
	}
	if g.checks.CheckPriceAnomaly {
		if v := g.checkPriceAnomaly(d, snap); !v.Passed {
			return g.reject(d, v)
		}
	}
	if g.checks.CheckLiquidity {
		if v := g.checkLiquidity(d, snap); !v.Passed {
			return g.reject(d, v)
		}
	}
	return Verdict{Passed: true}
}

func (g *Gate) reject(d decision.Decision, v Verdict) Verdict {
	g.log.Warn().
		Str("symbol", d.Symbol).
		Str("action", string(d.Action)).
		Str("reason", v.Reason).
		Msg("pre-trade check rejected order")
	g.alarm(fmt.Sprintf("safety rejected %s %s: %s", d.Symbol, d.Action, v.Reason))
	return v
}

func (g *Gate) checkBalance(d decision.Decision, snap *market.Snapshot) Verdict {
	available := snap.Account.AvailableBalance
	if available < d.USDTAmount {
		return Verdict{
			Reason: fmt.Sprintf("insufficient balance: available %.2f USDT, need %.2f", available, d.USDTAmount),
		}
	}
	return Verdict{Passed: true}
}

func (g *Gate) checkPriceAnomaly(d decision.Decision, snap *market.Snapshot) Verdict {
	data := snap.Symbols[d.Symbol]
	if data == nil || data.Ticker == nil {
		return Verdict{Reason: "no ticker data for anomaly check"}
	}
	change := data.Ticker.PriceChangePercent
	if math.Abs(change) > maxPriceChangePercent {
		return Verdict{
			Reason: fmt.Sprintf("24h price change %.2f%% exceeds %.0f%% anomaly bound", change, maxPriceChangePercent),
		}
	}
	return Verdict{Passed: true}
}

func (g *Gate) checkLiquidity(d decision.Decision, snap *market.Snapshot) Verdict {
	data := snap.Symbols[d.Symbol]
	if data == nil || data.Depth == nil {
		return Verdict{Reason: "no order book data for liquidity check"}
	}
	spread := data.Depth.Spread()
	if spread < 0 {
		return Verdict{Reason: "order book missing a side"}
	}
	if spread >= maxSpreadFraction {
		return Verdict{
			Reason: fmt.Sprintf("spread %.4f%% at or above %.2f%% liquidity bound", spread*100, maxSpreadFraction*100),
		}
	}
	return Verdict{Passed: true}
}
