package market

import (
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"

	"futures-llm-trader/internal/binance"
)

// minBarsForIndicators is the floor below which a series is too short to
// say anything useful.
const minBarsForIndicators = 50

// ComputeIndicators derives the per-timeframe indicator bundle from a
// kline series. Keys are only present when the series is long enough for
// the indicator in question (SMA-200 needs 200 bars, the 7-day volatility
// needs 168 hourly bars, and so on).
func ComputeIndicators(klines []binance.Kline, timeframe string) map[string]float64 {
	if len(klines) < minBarsForIndicators {
		return map[string]float64{}
	}

	closes := make([]float64, len(klines))
	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))
	volumes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
		highs[i] = k.High
		lows[i] = k.Low
		volumes[i] = k.Volume
	}

	out := make(map[string]float64, 32)
	last := closes[len(closes)-1]
	out["current_price"] = last
	if len(closes) >= 25 {
		prev := closes[len(closes)-25]
		if prev != 0 {
			out["price_change_24h"] = (last - prev) / prev * 100
		}
	}

	// Moving average system.
	for _, p := range []int{7, 20, 50, 200} {
		if v, ok := lastSMA(closes, p); ok {
			out[smaKey(p)] = v
		}
	}
	for _, p := range []int{12, 26, 50} {
		if v, ok := lastEMA(closes, p); ok {
			out[emaKey(p)] = v
		}
	}

	if v, ok := lastRSI(closes, 14); ok {
		out["rsi"] = v
	}

	if macd, signal, ok := lastMACD(closes); ok {
		out["macd"] = macd
		out["macd_signal"] = signal
		out["macd_histogram"] = macd - signal
	}

	if lower, middle, upper, ok := lastBollinger(closes, 20); ok {
		out["bb_lower"] = lower
		out["bb_middle"] = middle
		out["bb_upper"] = upper
		if middle != 0 {
			out["bb_width"] = (upper - lower) / middle * 100
		}
		if upper != lower {
			out["bb_position"] = (last - lower) / (upper - lower) * 100
		}
	}

	// Volatility over rolling 7d/30d windows, only meaningful on 1h bars.
	if timeframe == "1h" {
		if v, ok := annualizedVolatility(closes, 168); ok {
			out["volatility_7d"] = v
		}
		if v, ok := annualizedVolatility(closes, 720); ok {
			out["volatility_30d"] = v
		}
		out["high_7d"] = maxTail(highs, 168)
		out["low_7d"] = minTail(lows, 168)
	}

	if atr, ok := averageTrueRange(highs, lows, closes, 14); ok {
		out["atr"] = atr
		if last != 0 {
			out["atr_percentage"] = atr / last * 100
		}
	}

	out["volume"] = volumes[len(volumes)-1]
	if vs, ok := lastSMA(volumes, 20); ok && vs != 0 {
		out["volume_sma"] = vs
		out["volume_ratio"] = volumes[len(volumes)-1] / vs
	}

	out["high_24h"] = maxTail(highs, 24)
	out["low_24h"] = minTail(lows, 24)

	if ts, ok := trendStrength(closes, 20); ok {
		out["trend_strength"] = ts
	}
	if len(closes) >= 11 {
		base := closes[len(closes)-11]
		if base != 0 {
			out["momentum"] = (last - base) / base * 100
		}
	}

	return out
}

func smaKey(p int) string {
	switch p {
	case 7:
		return "sma_7"
	case 20:
		return "sma_20"
	case 50:
		return "sma_50"
	default:
		return "sma_200"
	}
}

func emaKey(p int) string {
	switch p {
	case 12:
		return "ema_12"
	case 26:
		return "ema_26"
	default:
		return "ema_50"
	}
}

func sliceToChan(values []float64) chan float64 {
	c := make(chan float64, len(values))
	for _, v := range values {
		c <- v
	}
	close(c)
	return c
}

func drain(c <-chan float64) []float64 {
	var out []float64
	for v := range c {
		out = append(out, v)
	}
	return out
}

func lastSMA(values []float64, period int) (float64, bool) {
	if len(values) < period {
		return 0, false
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	out := drain(sma.Compute(sliceToChan(values)))
	if len(out) == 0 {
		return 0, false
	}
	return out[len(out)-1], true
}

func lastEMA(values []float64, period int) (float64, bool) {
	if len(values) < period {
		return 0, false
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	out := drain(ema.Compute(sliceToChan(values)))
	if len(out) == 0 {
		return 0, false
	}
	return out[len(out)-1], true
}

func lastRSI(values []float64, period int) (float64, bool) {
	if len(values) <= period {
		return 0, false
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := drain(rsi.Compute(sliceToChan(values)))
	if len(out) == 0 {
		return 0, false
	}
	return out[len(out)-1], true
}

func lastMACD(values []float64) (float64, float64, bool) {
	if len(values) < 26+9 {
		return 0, 0, false
	}
	macd := trend.NewMacdWithPeriod[float64](12, 26, 9)
	macdChan, signalChan := macd.Compute(sliceToChan(values))

	var lastM, lastS float64
	n := 0
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		lastM, lastS = m, s
		n++
	}
	return lastM, lastS, n > 0
}

func lastBollinger(values []float64, period int) (lower, middle, upper float64, ok bool) {
	if len(values) < period {
		return 0, 0, 0, false
	}
	bb := volatility.NewBollingerBands[float64]()
	bb.Period = period
	lowerChan, middleChan, upperChan := bb.Compute(sliceToChan(values))

	n := 0
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower, middle, upper = l, m, u
		n++
	}
	return lower, middle, upper, n > 0
}

// annualizedVolatility is the stddev of simple returns over the trailing
// window of hourly bars, scaled to a daily figure in percent.
func annualizedVolatility(closes []float64, window int) (float64, bool) {
	if len(closes) < window+1 {
		return 0, false
	}
	tail := closes[len(closes)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] == 0 {
			continue
		}
		returns = append(returns, tail[i]/tail[i-1]-1)
	}
	if len(returns) < 2 {
		return 0, false
	}
	return stddev(returns) * math.Sqrt(24) * 100, true
}

func averageTrueRange(highs, lows, closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	trs := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		tr := highs[i] - lows[i]
		tr = math.Max(tr, math.Abs(highs[i]-closes[i-1]))
		tr = math.Max(tr, math.Abs(lows[i]-closes[i-1]))
		trs = append(trs, tr)
	}
	if len(trs) < period {
		return 0, false
	}
	sum := 0.0
	for _, tr := range trs[len(trs)-period:] {
		sum += tr
	}
	return sum / float64(period), true
}

// trendStrength is the R² of a linear fit over the trailing window,
// expressed in percent: 100 means a clean line, 0 means noise.
func trendStrength(closes []float64, window int) (float64, bool) {
	if len(closes) < window {
		return 0, false
	}
	y := closes[len(closes)-window:]
	var sumX, sumY, sumXY, sumXX, sumYY float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
		sumYY += v * v
	}
	n := float64(len(y))
	num := n*sumXY - sumX*sumY
	den := math.Sqrt(n*sumXX-sumX*sumX) * math.Sqrt(n*sumYY-sumY*sumY)
	if den == 0 {
		return 0, false
	}
	r := num / den
	return r * r * 100, true
}

func stddev(values []float64) float64 {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	varSum := 0.0
	for _, v := range values {
		varSum += (v - mean) * (v - mean)
	}
	return math.Sqrt(varSum / float64(len(values)-1))
}

func maxTail(values []float64, n int) float64 {
	if len(values) > n {
		values = values[len(values)-n:]
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func minTail(values []float64, n int) float64 {
	if len(values) > n {
		values = values[len(values)-n:]
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
