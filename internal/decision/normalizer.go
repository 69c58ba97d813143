package decision

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"futures-llm-trader/internal/ai/llm"
	"futures-llm-trader/internal/market"
)

// Action is a normalized trading instruction.
type Action string

const (
	ActionLong       Action = "long"
	ActionShort      Action = "short"
	ActionAddLong    Action = "add_to_long"
	ActionAddShort   Action = "add_to_short"
	ActionReduceLong Action = "reduce_long"
	ActionReduceShrt Action = "reduce_short"
	ActionCloseLong  Action = "close_long"
	ActionCloseShort Action = "close_short"
	ActionAdjustTPSL Action = "adjust_tp_sl"
	ActionCancelTPSL Action = "cancel_tp_sl"
	ActionHold       Action = "hold"
)

// IsOpen reports whether the action opens or increases exposure.
func (a Action) IsOpen() bool {
	switch a {
	case ActionLong, ActionShort, ActionAddLong, ActionAddShort:
		return true
	}
	return false
}

// IsReduce reports whether the action shrinks an existing position.
func (a Action) IsReduce() bool {
	switch a {
	case ActionReduceLong, ActionReduceShrt, ActionCloseLong, ActionCloseShort:
		return true
	}
	return false
}

// IsRiskOnly reports whether the action only touches protective orders.
func (a Action) IsRiskOnly() bool {
	return a == ActionAdjustTPSL || a == ActionCancelTPSL
}

// Direction returns "LONG" or "SHORT" for directional actions, "" otherwise.
func (a Action) Direction() string {
	switch a {
	case ActionLong, ActionAddLong, ActionReduceLong, ActionCloseLong:
		return "LONG"
	case ActionShort, ActionAddShort, ActionReduceShrt, ActionCloseShort:
		return "SHORT"
	}
	return ""
}

// Decision is one fully normalized, execution-ready instruction.
type Decision struct {
	Symbol        string
	Action        Action
	Confidence    float64
	OrderType     string
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
	USDTAmount    float64
	Leverage      int
	ReducePercent float64
	ReduceUSDT    float64
	ClosePercent  float64
	RiskLevel     string
	Reason        string

	FundingImpact string
	RiskScore     float64
	ShouldExecute bool
	SkipReason    string
}

// Config tunes normalization defaults.
type Config struct {
	Symbols           []string
	MinConfidence     float64
	DefaultLeverage   int
	MaxLeverage       int
	DefaultUSDTAmount float64
	StopLossPercent   float64 // base fraction at 1x, e.g. 0.05 for 5%
	TakeProfitPercent float64
	DefaultOrderType  string
}

// Normalizer turns raw model recommendations into vetted Decisions.
type Normalizer struct {
	cfg Config
	log zerolog.Logger
}

// NewNormalizer applies defaults for zero-valued config fields.
func NewNormalizer(cfg Config, log zerolog.Logger) *Normalizer {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 60
	}
	if cfg.DefaultLeverage <= 0 {
		cfg.DefaultLeverage = 5
	}
	if cfg.MaxLeverage <= 0 {
		cfg.MaxLeverage = 20
	}
	if cfg.StopLossPercent <= 0 {
		cfg.StopLossPercent = 0.05
	}
	if cfg.TakeProfitPercent <= 0 {
		cfg.TakeProfitPercent = 0.15
	}
	if cfg.DefaultOrderType == "" {
		cfg.DefaultOrderType = "MARKET"
	}
	return &Normalizer{cfg: cfg, log: log}
}

// Normalize maps every recommendation onto a configured symbol and fills in
// sizing, protective levels, funding impact and risk score. Recommendations
// that cannot be matched or fail basic sanity become hold decisions rather
// than errors.
func (n *Normalizer) Normalize(result *llm.AnalysisResult, snap *market.Snapshot) []Decision {
	decisions := make([]Decision, 0, len(result.Recommendations))
	for _, rec := range result.Recommendations {
		d := n.normalizeOne(rec, result, snap)
		decisions = append(decisions, d)
	}
	return decisions
}

func (n *Normalizer) normalizeOne(rec llm.Recommendation, result *llm.AnalysisResult, snap *market.Snapshot) Decision {
	d := Decision{
		Confidence: rec.Confidence.Float(),
		RiskLevel:  strings.ToLower(strings.TrimSpace(rec.RiskLevel)),
		Reason:     strings.TrimSpace(rec.Reason),
	}

	symbol, ok := n.matchSymbol(rec.Symbol)
	if !ok {
		d.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
		d.Action = ActionHold
		d.SkipReason = fmt.Sprintf("symbol %q not in configured set", rec.Symbol)
		n.log.Warn().Str("symbol", rec.Symbol).Msg("recommendation for unconfigured symbol")
		return d
	}
	d.Symbol = symbol

	d.Action = normalizeAction(rec.Action)
	if d.Action == ActionHold && !isHoldish(rec.Action) {
		d.SkipReason = fmt.Sprintf("unknown action %q", rec.Action)
		n.log.Warn().Str("symbol", symbol).Str("action", rec.Action).Msg("unknown action, treating as hold")
	}

	last := 0.0
	var symData *market.SymbolData
	if snap != nil {
		symData = snap.Symbols[symbol]
		if symData != nil {
			last = symData.LastPrice()
		}
	}

	d.OrderType = strings.ToUpper(strings.TrimSpace(rec.OrderType))
	if d.OrderType != "LIMIT" && d.OrderType != "MARKET" {
		d.OrderType = n.cfg.DefaultOrderType
	}

	d.EntryPrice = sanitize(rec.EntryPrice.Float())
	if d.OrderType == "LIMIT" && d.EntryPrice <= 0 {
		d.OrderType = "MARKET"
	}

	d.Leverage = int(sanitize(rec.Leverage.Float()))
	if d.Leverage <= 0 {
		d.Leverage = n.cfg.DefaultLeverage
	}
	if d.Leverage > n.cfg.MaxLeverage {
		d.Leverage = n.cfg.MaxLeverage
	}

	d.USDTAmount = sanitize(rec.USDTAmount.Float())
	if d.Action.IsOpen() && d.USDTAmount <= 0 {
		d.USDTAmount = n.cfg.DefaultUSDTAmount
	}

	d.ReducePercent = clampPercent(sanitize(rec.ReducePercent.Float()))
	d.ReduceUSDT = sanitize(rec.ReduceUSDT.Float())
	d.ClosePercent = clampPercent(sanitize(rec.ClosePercent.Float()))
	if (d.Action == ActionCloseLong || d.Action == ActionCloseShort) && d.ClosePercent <= 0 {
		d.ClosePercent = 100
	}

	d.StopLoss = sanitize(rec.StopLoss.Float())
	d.TakeProfit = sanitize(rec.TakeProfit.Float())
	if d.Action.IsOpen() && last > 0 {
		n.fillProtectiveDefaults(&d, last)
	}

	d.FundingImpact = fundingImpact(d.Action, symData)
	d.RiskScore = n.riskScore(d, symData, result)

	if d.Action == ActionHold {
		d.ShouldExecute = false
	} else if d.Confidence < n.cfg.MinConfidence {
		d.ShouldExecute = false
		d.SkipReason = fmt.Sprintf("confidence %.0f below threshold %.0f", d.Confidence, n.cfg.MinConfidence)
	} else {
		d.ShouldExecute = true
	}

	return d
}

// fillProtectiveDefaults derives missing stop/target levels from the base
// percentages scaled down by leverage, so higher leverage gets tighter
// levels in price terms while keeping margin risk roughly constant.
func (n *Normalizer) fillProtectiveDefaults(d *Decision, last float64) {
	slAdj := n.cfg.StopLossPercent / float64(d.Leverage)
	tpAdj := n.cfg.TakeProfitPercent / float64(d.Leverage)

	long := d.Action.Direction() == "LONG"
	if d.StopLoss <= 0 {
		if long {
			d.StopLoss = last * (1 - slAdj)
		} else {
			d.StopLoss = last * (1 + slAdj)
		}
	}
	if d.TakeProfit <= 0 {
		if long {
			d.TakeProfit = last * (1 + tpAdj)
		} else {
			d.TakeProfit = last * (1 - tpAdj)
		}
	}
}

// matchSymbol resolves model symbol spellings against the configured set:
// exact match first, then case-insensitive, then suffix-less base asset
// ("btc" matching "BTCUSDT").
func (n *Normalizer) matchSymbol(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	if s == "" {
		return "", false
	}
	for _, cfg := range n.cfg.Symbols {
		if strings.EqualFold(cfg, s) {
			return cfg, true
		}
	}
	for _, cfg := range n.cfg.Symbols {
		base := strings.TrimSuffix(strings.ToUpper(cfg), "USDT")
		if base == s || base == strings.TrimSuffix(s, "USDT") {
			return cfg, true
		}
	}
	return "", false
}

var actionAliases = map[string]Action{
	"long":          ActionLong,
	"buy":           ActionLong,
	"open_long":     ActionLong,
	"short":         ActionShort,
	"sell":          ActionShort,
	"open_short":    ActionShort,
	"add_to_long":   ActionAddLong,
	"add_long":      ActionAddLong,
	"add_to_short":  ActionAddShort,
	"add_short":     ActionAddShort,
	"reduce_long":   ActionReduceLong,
	"reduce_short":  ActionReduceShrt,
	"close_long":    ActionCloseLong,
	"close_short":   ActionCloseShort,
	"adjust_tp_sl":  ActionAdjustTPSL,
	"adjust_tpsl":   ActionAdjustTPSL,
	"update_tp_sl":  ActionAdjustTPSL,
	"cancel_tp_sl":  ActionCancelTPSL,
	"cancel_tpsl":   ActionCancelTPSL,
	"hold":          ActionHold,
	"wait":          ActionHold,
	"no_action":     ActionHold,
	"none":          ActionHold,
	"do_nothing":    ActionHold,
	"stay_flat":     ActionHold,
	"hold_position": ActionHold,
}

func normalizeAction(raw string) Action {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	if a, ok := actionAliases[key]; ok {
		return a
	}
	return ActionHold
}

func isHoldish(raw string) bool {
	return normalizeAction(raw) == ActionHold && func() bool {
		key := strings.ToLower(strings.TrimSpace(raw))
		key = strings.ReplaceAll(key, " ", "_")
		key = strings.ReplaceAll(key, "-", "_")
		_, known := actionAliases[key]
		return known
	}()
}

// fundingImpact classifies how the current funding rate bears on the
// decision's direction. Near-zero rates are neutral regardless of sign.
func fundingImpact(action Action, data *market.SymbolData) string {
	dir := action.Direction()
	if dir == "" || data == nil {
		return "neutral"
	}
	rate := data.Funding.CurrentRate
	if math.Abs(rate) < 0.0001 {
		return "neutral"
	}
	// Longs pay when the rate is positive; shorts pay when negative.
	if (dir == "LONG") == (rate > 0) {
		return "negative"
	}
	return "positive"
}

// riskScore grades the decision 0-10 from leverage, realized volatility,
// funding pressure and the model's own volatility read.
func (n *Normalizer) riskScore(d Decision, data *market.SymbolData, result *llm.AnalysisResult) float64 {
	score := 5.0

	lev := float64(d.Leverage)
	score += math.Min(lev/10*3, 3)

	if data != nil {
		if ind, ok := data.Timeframes["1h"]; ok {
			if vol, ok := ind["volatility_7d"]; ok {
				switch {
				case vol > 80:
					score += 2
				case vol > 50:
					score += 1
				}
			}
		}
		if math.Abs(data.Funding.CurrentRate) > 0.001 {
			score += 1
		}
	}

	if result != nil && result.MarketOverview != nil &&
		strings.EqualFold(result.MarketOverview.VolatilityAssessment, "high") {
		score += 1.5
	}

	if score > 10 {
		score = 10
	}
	return score
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func clampPercent(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}
