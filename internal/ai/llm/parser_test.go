package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

const fullResponse = "```json\n" + `{
  "market_overview": {
    "overall_sentiment": "bullish",
    "market_phase": "trending",
    "key_levels": {"support": [29500, "28,800"], "resistance": [31000]},
    "volatility_assessment": "medium",
    "funding_rate_impact": "neutral"
  },
  "recommendations": [
    {
      "symbol": "BTCUSDT",
      "action": "long",
      "confidence": 75,
      "order_type": "LIMIT",
      "entry_price": "30,000",
      "stop_loss": 29500,
      "take_profit": 31500,
      "usdt_amount": 100,
      "leverage": 5,
      "risk_level": "medium",
      "reason": "breakout retest"
    }
  ],
  "risk_warnings": ["funding flips at 00:00"],
  "market_catalysts": []
}` + "\n```"

func TestParseAnalysisFencedBlock(t *testing.T) {
	result := ParseAnalysis("Here is my analysis.\n\n" + fullResponse + "\n\nGood luck.")
	if result.AnalysisQuality != "full" {
		t.Fatalf("quality = %q, want full (parse error: %s)", result.AnalysisQuality, result.ParseError)
	}
	if result.MarketOverview == nil || result.MarketOverview.OverallSentiment != "bullish" {
		t.Errorf("market overview not parsed: %+v", result.MarketOverview)
	}
	if len(result.Recommendations) != 1 {
		t.Fatalf("got %d recommendations, want 1", len(result.Recommendations))
	}

	rec := result.Recommendations[0]
	if rec.Symbol != "BTCUSDT" || rec.Action != "long" {
		t.Errorf("unexpected recommendation: %+v", rec)
	}
	if rec.EntryPrice.Float() != 30000 {
		t.Errorf("entry_price with thousands separator = %v, want 30000", rec.EntryPrice.Float())
	}
	if got := result.MarketOverview.KeyLevels.Support[1].Float(); got != 28800 {
		t.Errorf("string support level = %v, want 28800", got)
	}
}

func TestParseAnalysisBareJSON(t *testing.T) {
	bare := strings.TrimSuffix(strings.TrimPrefix(fullResponse, "```json\n"), "\n```")
	result := ParseAnalysis(bare)
	if result.AnalysisQuality != "full" {
		t.Errorf("quality = %q, want full", result.AnalysisQuality)
	}
}

func TestParseAnalysisJSONBuriedInProse(t *testing.T) {
	content := "Given the funding environment I lean bullish.\n" +
		`{"market_overview": {"overall_sentiment": "neutral"}, "recommendations": []}` +
		"\nThat is all."
	result := ParseAnalysis(content)
	if result.AnalysisQuality != "full" {
		t.Errorf("quality = %q, want full", result.AnalysisQuality)
	}
	if result.MarketOverview == nil || result.MarketOverview.OverallSentiment != "neutral" {
		t.Errorf("overview not recovered from prose: %+v", result.MarketOverview)
	}
}

func TestParseAnalysisPartialWhenSectionsMissing(t *testing.T) {
	result := ParseAnalysis(`{"risk_warnings": ["thin book"]}`)
	if result.AnalysisQuality != "partial" {
		t.Errorf("quality = %q, want partial", result.AnalysisQuality)
	}
	if result.Recommendations == nil {
		t.Error("recommendations should be an empty slice, not nil")
	}
	if result.RawResponse == "" {
		t.Error("raw response must be preserved")
	}
}

func TestParseAnalysisFailure(t *testing.T) {
	content := "I cannot produce a recommendation right now."
	result := ParseAnalysis(content)
	if result.AnalysisQuality != "failed" {
		t.Errorf("quality = %q, want failed", result.AnalysisQuality)
	}
	if result.ParseError == "" {
		t.Error("expected a parse error marker")
	}
	if len(result.Recommendations) != 0 {
		t.Errorf("expected no recommendations, got %d", len(result.Recommendations))
	}
	if result.RawResponse != content {
		t.Error("raw response must be preserved verbatim")
	}
}

func TestFlexFloat(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{`42`, 42},
		{`"42"`, 42},
		{`"30,000.5"`, 30000.5},
		{`"1_000"`, 1000},
		{`"85%"`, 85},
		{`null`, 0},
		{`""`, 0},
		{`"not a number"`, 0},
		{`"NaN"`, 0},
	}
	for _, tc := range cases {
		var f FlexFloat
		if err := json.Unmarshal([]byte(tc.in), &f); err != nil {
			t.Errorf("unmarshal %s: %v", tc.in, err)
			continue
		}
		if f.Float() != tc.want {
			t.Errorf("FlexFloat(%s) = %v, want %v", tc.in, f.Float(), tc.want)
		}
	}
}

func TestExtractThinkingMarker(t *testing.T) {
	content := "思考过程: the funding rate penalizes longs but momentum is strong.\n\n" + fullResponse
	got := ExtractThinking(content)
	if !strings.Contains(got, "funding rate penalizes longs") {
		t.Errorf("thinking not extracted: %q", got)
	}
	if strings.Contains(got, `"recommendations"`) {
		t.Error("extracted thinking must not contain the JSON payload")
	}
}

func TestExtractThinkingFallbackParagraph(t *testing.T) {
	content := "Short note.\n\n" +
		"I decided to stay flat because the spread widened and risk outweighs the edge in this regime today.\n\n" +
		`{"market_overview": {}, "recommendations": []}`
	got := ExtractThinking(content)
	if !strings.Contains(got, "because the spread widened") {
		t.Errorf("fallback paragraph not found: %q", got)
	}
}

func TestExtractThinkingCapped(t *testing.T) {
	content := "reasoning: " + strings.Repeat("市", 3000)
	got := ExtractThinking(content)
	if len([]rune(got)) > maxThinkingRunes+1 {
		t.Errorf("thinking not capped: %d runes", len([]rune(got)))
	}
}

func TestExtractThinkingEmpty(t *testing.T) {
	if got := ExtractThinking(fullResponse); got != "" {
		t.Errorf("expected empty thinking for pure JSON, got %q", got)
	}
}
