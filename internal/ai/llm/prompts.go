package llm

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"futures-llm-trader/internal/market"
)

// SessionContext carries cross-cycle state into the user prompt so the
// model knows how long the agent has been running and how often it has
// been consulted.
type SessionContext struct {
	StartedAt    time.Time
	CycleNumber  int
	Strategy     string
	DryRun       bool
	LastDecision string
}

// BuildSystemPrompt produces the fixed instruction block: role, permitted
// actions, sizing and protective-order rules, and the exact JSON schema the
// parser expects back.
func BuildSystemPrompt(strategy string, minConfidence float64, defaultLeverage int) string {
	var b strings.Builder

	b.WriteString("You are a professional USDT-margined perpetual futures trading analyst. ")
	b.WriteString("You receive a full account and market snapshot each cycle and respond with concrete, executable trading decisions.\n\n")

	if strategy != "" {
		fmt.Fprintf(&b, "Active strategy profile: %s. Bias every recommendation toward this profile.\n\n", strategy)
	}

	b.WriteString(`Permitted actions (use exactly these strings):
- long, short: open a new position (requires usdt_amount, leverage, stop_loss, take_profit)
- add_to_long, add_to_short: increase an existing position (requires usdt_amount)
- reduce_long, reduce_short: partially reduce (requires reduce_percent OR reduce_usdt)
- close_long, close_short: close fully or partially (close_percent, default 100)
- adjust_tp_sl: replace the protective orders only (requires stop_loss and/or take_profit)
- cancel_tp_sl: remove all protective orders for the symbol
- hold: do nothing

Rules:
`)
	fmt.Fprintf(&b, "- Only recommendations with confidence >= %.0f are executed; below that they are logged and skipped.\n", minConfidence)
	fmt.Fprintf(&b, "- Default leverage is %dx; never exceed 20x.\n", defaultLeverage)
	b.WriteString(`- For long positions stop_loss must be below the current price and take_profit above it; the reverse for shorts.
- Position size in contracts is (usdt_amount * leverage) / current_price; quote sizes in USDT margin, not contracts.
- order_type is "MARKET" or "LIMIT". LIMIT orders need entry_price and are canceled if unfilled after the wait window; there is no market fallback.
- Do not recommend opening when the funding rate strongly penalizes the direction unless the edge clearly outweighs it.
- When you have no edge, say hold. Capital preservation beats forced activity.

Respond with a single JSON object in a fenced code block:

` + "```json" + `
{
  "market_overview": {
    "overall_sentiment": "bullish|bearish|neutral",
    "market_phase": "trending|ranging|volatile",
    "key_levels": {"support": [..], "resistance": [..]},
    "volatility_assessment": "low|medium|high",
    "funding_rate_impact": "positive|negative|neutral"
  },
  "recommendations": [
    {
      "symbol": "BTCUSDT",
      "action": "long",
      "confidence": 75,
      "order_type": "LIMIT",
      "entry_price": 0,
      "stop_loss": 0,
      "take_profit": 0,
      "usdt_amount": 0,
      "leverage": 0,
      "reduce_percent": 0,
      "close_percent": 0,
      "risk_level": "low|medium|high",
      "reason": "one or two sentences"
    }
  ],
  "risk_warnings": ["..."],
  "market_catalysts": ["..."]
}
` + "```" + `

Every configured symbol must appear exactly once in recommendations, using "hold" when no action is warranted.`)

	return b.String()
}

// BuildUserPrompt renders the snapshot into the per-cycle message: session
// header, account state, open positions and orders, then per-symbol market
// data with the indicator bundle for each timeframe.
func BuildUserPrompt(snap *market.Snapshot, sess SessionContext) string {
	var b strings.Builder

	elapsed := time.Since(sess.StartedAt).Round(time.Minute)
	fmt.Fprintf(&b, "=== SESSION ===\nCycle #%d, running for %s. Mode: %s.\n",
		sess.CycleNumber, elapsed, modeLabel(sess.DryRun))
	if sess.LastDecision != "" {
		fmt.Fprintf(&b, "Previous cycle summary: %s\n", sess.LastDecision)
	}

	b.WriteString("\n=== ACCOUNT ===\n")
	fmt.Fprintf(&b, "Wallet: %.2f USDT | Margin balance: %.2f | Unrealized PnL: %.2f | Available: %.2f\n",
		snap.Account.TotalWallet, snap.Account.TotalMargin,
		snap.Account.TotalUnrealizedPnL, snap.Account.AvailableBalance)

	if len(snap.Positions) == 0 {
		b.WriteString("\n=== POSITIONS ===\nNone.\n")
	} else {
		b.WriteString("\n=== POSITIONS ===\n")
		for _, p := range snap.Positions {
			fmt.Fprintf(&b, "%s %s %.6f @ entry %.6f (mark %.6f, PnL %.2f USDT, %dx%s)\n",
				p.Symbol, p.Side, p.PositionAmount, p.EntryPrice, p.MarkPrice,
				p.UnrealizedPnL, p.Leverage, isolatedLabel(p.Isolated))
		}
	}

	if len(snap.OpenOrders) > 0 {
		b.WriteString("\n=== OPEN ORDERS ===\n")
		symbols := make([]string, 0, len(snap.OpenOrders))
		for s := range snap.OpenOrders {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			for _, o := range snap.OpenOrders[s] {
				fmt.Fprintf(&b, "%s %s %s qty %.6f price %.6f stop %.6f (%s)\n",
					s, o.Side, o.Type, o.OrigQty, o.Price, o.StopPrice, o.Status)
			}
		}
	}

	b.WriteString("\n=== MARKET DATA ===\n")
	symbols := make([]string, 0, len(snap.Symbols))
	for s := range snap.Symbols {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		writeSymbolSection(&b, snap.Symbols[s])
	}

	if snap.Partial {
		b.WriteString("\nNOTE: this snapshot is partial; some fields failed to fetch. Be conservative.\n")
	}

	b.WriteString("\nAnalyze the data above and respond with the JSON schema from your instructions.")
	return b.String()
}

func writeSymbolSection(b *strings.Builder, data *market.SymbolData) {
	fmt.Fprintf(b, "\n--- %s ---\n", data.Symbol)
	if t := data.Ticker; t != nil {
		fmt.Fprintf(b, "Last %.6f | 24h %+.2f%% | 24h vol %.0f | high %.6f low %.6f\n",
			t.LastPrice, t.PriceChangePercent, t.QuoteVolume, t.HighPrice, t.LowPrice)
	}
	if d := data.Depth; d != nil && d.Spread() >= 0 {
		fmt.Fprintf(b, "Book: bid %.6f / ask %.6f (spread %.4f%%)\n",
			d.BestBid, d.BestAsk, d.Spread()*100)
	}
	fmt.Fprintf(b, "Funding rate %.6f%% | Open interest %.0f\n",
		data.Funding.CurrentRate*100, data.Funding.OpenInterest)

	tfs := make([]string, 0, len(data.Timeframes))
	for tf := range data.Timeframes {
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool { return timeframeRank(tfs[i]) < timeframeRank(tfs[j]) })
	for _, tf := range tfs {
		ind := data.Timeframes[tf]
		if len(ind) == 0 {
			continue
		}
		fmt.Fprintf(b, "[%s] ", tf)
		writeIndicatorLine(b, ind)
	}
	if len(data.Errors) > 0 {
		fmt.Fprintf(b, "(missing: %s)\n", strings.Join(data.Errors, "; "))
	}
}

// indicatorOrder fixes the rendering order so prompts are stable across
// cycles; map iteration order would shuffle them.
var indicatorOrder = []string{
	"current_price", "price_change_24h",
	"sma_7", "sma_20", "sma_50", "sma_200",
	"ema_12", "ema_26", "ema_50",
	"rsi", "macd", "macd_signal", "macd_histogram",
	"bb_lower", "bb_middle", "bb_upper", "bb_width", "bb_position",
	"volatility_7d", "volatility_30d", "high_7d", "low_7d",
	"atr", "atr_percentage",
	"volume", "volume_sma", "volume_ratio",
	"high_24h", "low_24h", "trend_strength", "momentum",
}

func writeIndicatorLine(b *strings.Builder, ind map[string]float64) {
	parts := make([]string, 0, len(ind))
	for _, key := range indicatorOrder {
		v, ok := ind[key]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%.4f", key, v))
	}
	b.WriteString(strings.Join(parts, " "))
	b.WriteString("\n")
}

func timeframeRank(tf string) int {
	order := []string{"1m", "5m", "15m", "1h", "4h", "1d", "1w", "1M"}
	for i, t := range order {
		if t == tf {
			return i
		}
	}
	return len(order)
}

func modeLabel(dryRun bool) string {
	if dryRun {
		return "DRY RUN (orders simulated)"
	}
	return "LIVE TRADING"
}

func isolatedLabel(isolated bool) string {
	if isolated {
		return " isolated"
	}
	return " cross"
}
