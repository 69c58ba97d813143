package decision

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"futures-llm-trader/internal/ai/llm"
	"futures-llm-trader/internal/binance"
	"futures-llm-trader/internal/market"
)

func testNormalizer() *Normalizer {
	return NewNormalizer(Config{
		Symbols:           []string{"BTCUSDT", "ETHUSDT"},
		MinConfidence:     60,
		DefaultLeverage:   5,
		MaxLeverage:       20,
		DefaultUSDTAmount: 100,
		StopLossPercent:   0.05,
		TakeProfitPercent: 0.15,
		DefaultOrderType:  "MARKET",
	}, zerolog.Nop())
}

func testSnapshot(lastPrice, fundingRate, vol7d float64) *market.Snapshot {
	return &market.Snapshot{
		Symbols: map[string]*market.SymbolData{
			"BTCUSDT": {
				Symbol:  "BTCUSDT",
				Ticker:  &binance.Ticker{Symbol: "BTCUSDT", LastPrice: lastPrice},
				Funding: market.Funding{CurrentRate: fundingRate},
				Timeframes: map[string]map[string]float64{
					"1h": {"volatility_7d": vol7d},
				},
			},
		},
	}
}

func analysisWith(recs ...llm.Recommendation) *llm.AnalysisResult {
	return &llm.AnalysisResult{
		MarketOverview:  &llm.MarketOverview{VolatilityAssessment: "medium"},
		Recommendations: recs,
		AnalysisQuality: "full",
	}
}

func TestNormalizeUnknownActionBecomesHold(t *testing.T) {
	n := testNormalizer()
	out := n.Normalize(analysisWith(llm.Recommendation{
		Symbol: "BTCUSDT", Action: "yolo_max_long", Confidence: 90,
	}), testSnapshot(30000, 0, 30))

	if len(out) != 1 {
		t.Fatalf("got %d decisions", len(out))
	}
	d := out[0]
	if d.Action != ActionHold {
		t.Errorf("action = %q, want hold", d.Action)
	}
	if d.ShouldExecute {
		t.Error("unknown action must not execute")
	}
	if d.SkipReason == "" {
		t.Error("expected a skip reason for unknown action")
	}
}

func TestNormalizeSymbolMatching(t *testing.T) {
	n := testNormalizer()
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"BTCUSDT", "BTCUSDT", true},
		{"btcusdt", "BTCUSDT", true},
		{"BTC", "BTCUSDT", true},
		{"eth", "ETHUSDT", true},
		{"BTC/USDT", "BTCUSDT", true},
		{"DOGEUSDT", "", false},
	}
	for _, tc := range cases {
		got, ok := n.matchSymbol(tc.raw)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("matchSymbol(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNormalizeProtectiveDefaults(t *testing.T) {
	n := testNormalizer()
	out := n.Normalize(analysisWith(llm.Recommendation{
		Symbol: "BTCUSDT", Action: "long", Confidence: 80, Leverage: 5, USDTAmount: 100,
	}), testSnapshot(30000, 0, 30))

	d := out[0]
	wantSL := 30000 * (1 - 0.05/5)
	wantTP := 30000 * (1 + 0.15/5)
	if math.Abs(d.StopLoss-wantSL) > 1e-6 {
		t.Errorf("default stop loss = %v, want %v", d.StopLoss, wantSL)
	}
	if math.Abs(d.TakeProfit-wantTP) > 1e-6 {
		t.Errorf("default take profit = %v, want %v", d.TakeProfit, wantTP)
	}
	if !d.ShouldExecute {
		t.Errorf("confidence 80 should execute: skip=%q", d.SkipReason)
	}
}

func TestNormalizeShortProtectiveDefaultsMirror(t *testing.T) {
	n := testNormalizer()
	out := n.Normalize(analysisWith(llm.Recommendation{
		Symbol: "BTCUSDT", Action: "short", Confidence: 80, Leverage: 10, USDTAmount: 50,
	}), testSnapshot(30000, 0, 30))

	d := out[0]
	if d.StopLoss <= 30000 {
		t.Errorf("short stop loss %v must sit above price", d.StopLoss)
	}
	if d.TakeProfit >= 30000 {
		t.Errorf("short take profit %v must sit below price", d.TakeProfit)
	}
}

func TestNormalizeConfidenceThreshold(t *testing.T) {
	n := testNormalizer()
	out := n.Normalize(analysisWith(
		llm.Recommendation{Symbol: "BTCUSDT", Action: "long", Confidence: 59, USDTAmount: 100},
		llm.Recommendation{Symbol: "ETHUSDT", Action: "hold", Confidence: 95},
	), testSnapshot(30000, 0, 30))

	if out[0].ShouldExecute {
		t.Error("confidence 59 must not execute at threshold 60")
	}
	if out[0].SkipReason == "" {
		t.Error("low confidence needs a skip reason")
	}
	if out[1].ShouldExecute {
		t.Error("hold never executes, regardless of confidence")
	}
}

func TestNormalizeLeverageClamp(t *testing.T) {
	n := testNormalizer()
	out := n.Normalize(analysisWith(
		llm.Recommendation{Symbol: "BTCUSDT", Action: "long", Confidence: 80, Leverage: 50, USDTAmount: 100},
		llm.Recommendation{Symbol: "ETHUSDT", Action: "short", Confidence: 80, USDTAmount: 100},
	), testSnapshot(30000, 0, 30))

	if out[0].Leverage != 20 {
		t.Errorf("leverage = %d, want clamp to 20", out[0].Leverage)
	}
	if out[1].Leverage != 5 {
		t.Errorf("missing leverage = %d, want default 5", out[1].Leverage)
	}
}

func TestNormalizeClosePercentDefault(t *testing.T) {
	n := testNormalizer()
	out := n.Normalize(analysisWith(llm.Recommendation{
		Symbol: "BTCUSDT", Action: "close_long", Confidence: 90,
	}), testSnapshot(30000, 0, 30))

	if out[0].ClosePercent != 100 {
		t.Errorf("close percent = %v, want default 100", out[0].ClosePercent)
	}
}

func TestFundingImpact(t *testing.T) {
	cases := []struct {
		action Action
		rate   float64
		want   string
	}{
		{ActionLong, 0.0005, "negative"},
		{ActionLong, -0.0005, "positive"},
		{ActionShort, 0.0005, "positive"},
		{ActionShort, -0.0005, "negative"},
		{ActionLong, 0.00005, "neutral"},
		{ActionHold, 0.01, "neutral"},
	}
	for _, tc := range cases {
		data := &market.SymbolData{Funding: market.Funding{CurrentRate: tc.rate}}
		if got := fundingImpact(tc.action, data); got != tc.want {
			t.Errorf("fundingImpact(%s, %v) = %q, want %q", tc.action, tc.rate, got, tc.want)
		}
	}
}

func TestRiskScore(t *testing.T) {
	n := testNormalizer()

	// Calm market, modest leverage.
	calm := n.Normalize(analysisWith(llm.Recommendation{
		Symbol: "BTCUSDT", Action: "long", Confidence: 80, Leverage: 5, USDTAmount: 100,
	}), testSnapshot(30000, 0, 30))[0]
	want := 5.0 + 5.0/10*3
	if math.Abs(calm.RiskScore-want) > 1e-9 {
		t.Errorf("calm risk score = %v, want %v", calm.RiskScore, want)
	}

	// Everything elevated: score caps at 10.
	wild := &llm.AnalysisResult{
		MarketOverview:  &llm.MarketOverview{VolatilityAssessment: "high"},
		Recommendations: []llm.Recommendation{{Symbol: "BTCUSDT", Action: "long", Confidence: 80, Leverage: 20, USDTAmount: 100}},
	}
	d := n.Normalize(wild, testSnapshot(30000, 0.002, 90))[0]
	if d.RiskScore != 10 {
		t.Errorf("risk score = %v, want cap at 10", d.RiskScore)
	}
}

func TestNormalizeLimitWithoutEntryFallsBackToMarket(t *testing.T) {
	n := testNormalizer()
	out := n.Normalize(analysisWith(llm.Recommendation{
		Symbol: "BTCUSDT", Action: "long", Confidence: 80, OrderType: "LIMIT", USDTAmount: 100,
	}), testSnapshot(30000, 0, 30))

	if out[0].OrderType != "MARKET" {
		t.Errorf("order type = %q, want MARKET when LIMIT has no entry price", out[0].OrderType)
	}
}
