package llm

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// FlexFloat unmarshals a JSON number that models sometimes emit as a string,
// with thousands separators or surrounding text. NaN and infinities decode
// to zero.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal(data, &unquoted); err != nil {
			*f = 0
			return nil
		}
		s = unquoted
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}

// Float returns the plain float64 value.
func (f FlexFloat) Float() float64 { return float64(f) }

// KeyLevels are the support/resistance levels the model reports.
type KeyLevels struct {
	Support    []FlexFloat `json:"support"`
	Resistance []FlexFloat `json:"resistance"`
}

// MarketOverview is the model's macro read of the market.
type MarketOverview struct {
	OverallSentiment     string    `json:"overall_sentiment"`
	MarketPhase          string    `json:"market_phase"`
	KeyLevels            KeyLevels `json:"key_levels"`
	VolatilityAssessment string    `json:"volatility_assessment"`
	FundingRateImpact    string    `json:"funding_rate_impact"`
}

// Recommendation is one per-symbol trading instruction from the model.
type Recommendation struct {
	Symbol        string    `json:"symbol"`
	Action        string    `json:"action"`
	Confidence    FlexFloat `json:"confidence"`
	OrderType     string    `json:"order_type"`
	EntryPrice    FlexFloat `json:"entry_price"`
	StopLoss      FlexFloat `json:"stop_loss"`
	TakeProfit    FlexFloat `json:"take_profit"`
	USDTAmount    FlexFloat `json:"usdt_amount"`
	Leverage      FlexFloat `json:"leverage"`
	ReducePercent FlexFloat `json:"reduce_percent"`
	ReduceUSDT    FlexFloat `json:"reduce_usdt"`
	ClosePercent  FlexFloat `json:"close_percent"`
	RiskLevel     string    `json:"risk_level"`
	Reason        string    `json:"reason"`
}

// AnalysisResult is the parsed model output for one cycle. AnalysisQuality
// is "full", "partial" (schema sections missing) or "failed" (no JSON could
// be recovered); RawResponse always preserves the original text.
type AnalysisResult struct {
	MarketOverview  *MarketOverview  `json:"market_overview"`
	Recommendations []Recommendation `json:"recommendations"`
	RiskWarnings    []string         `json:"risk_warnings"`
	MarketCatalysts []string         `json:"market_catalysts"`
	AnalysisQuality string           `json:"analysis_quality"`
	RawResponse     string           `json:"-"`
	ParseError      string           `json:"-"`
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\n?```")

// ParseAnalysis recovers a structured result from whatever the model
// returned: a fenced ```json block, a bare object, or an object buried in
// prose. It never fails outright; unusable content yields an empty result
// with the raw text preserved for the audit log.
func ParseAnalysis(content string) *AnalysisResult {
	result := &AnalysisResult{
		RawResponse:     content,
		AnalysisQuality: "full",
	}

	candidate := extractJSON(content)
	if candidate == "" {
		result.AnalysisQuality = "failed"
		result.ParseError = "no JSON object found in response"
		result.Recommendations = []Recommendation{}
		return result
	}

	if err := json.Unmarshal([]byte(candidate), result); err != nil {
		result.AnalysisQuality = "failed"
		result.ParseError = "invalid JSON: " + err.Error()
		result.Recommendations = []Recommendation{}
		return result
	}

	if result.MarketOverview == nil || result.Recommendations == nil {
		result.AnalysisQuality = "partial"
	}
	if result.Recommendations == nil {
		result.Recommendations = []Recommendation{}
	}
	return result
}

// extractJSON pulls the best JSON candidate out of model text: fenced block
// first, then the outermost balanced object.
func extractJSON(content string) string {
	if m := fencedJSONRe.FindStringSubmatch(content); m != nil {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "{") {
			return inner
		}
	}

	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}

	return balancedObject(content)
}

// balancedObject finds the first top-level {...} with matched braces,
// ignoring braces inside string literals.
func balancedObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// thinkingMarkers are headings reasoning models use to label their working
// notes before the structured answer.
var thinkingMarkers = []string{
	"思考过程",
	"分析过程",
	"reasoning:",
	"thinking:",
	"analysis:",
	"my analysis",
	"let me analyze",
	"let me think",
}

var decisionWords = []string{
	"because", "therefore", "so i", "decided", "conclusion",
	"risk", "considering", "given that",
}

const maxThinkingRunes = 2000

// ExtractThinking pulls the model's reasoning narrative out of the raw
// response for the think audit stream. It looks for known reasoning
// headings first; failing that it falls back to the last prose paragraph
// that reads like a decision. Returns "" when nothing qualifies.
func ExtractThinking(content string) string {
	withoutJSON := fencedJSONRe.ReplaceAllString(content, "")
	if obj := balancedObject(withoutJSON); obj != "" {
		withoutJSON = strings.Replace(withoutJSON, obj, "", 1)
	}

	lower := strings.ToLower(withoutJSON)
	for _, marker := range thinkingMarkers {
		idx := strings.Index(lower, strings.ToLower(marker))
		if idx < 0 {
			continue
		}
		section := strings.TrimSpace(withoutJSON[idx:])
		return capRunes(section, maxThinkingRunes)
	}

	paragraphs := strings.Split(withoutJSON, "\n\n")
	for i := len(paragraphs) - 1; i >= 0; i-- {
		p := strings.TrimSpace(paragraphs[i])
		if len(p) < 40 {
			continue
		}
		pl := strings.ToLower(p)
		for _, w := range decisionWords {
			if strings.Contains(pl, w) {
				return capRunes(p, maxThinkingRunes)
			}
		}
	}
	return ""
}

func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
