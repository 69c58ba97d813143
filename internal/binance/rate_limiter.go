package binance

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// endpointWeights maps futures endpoints to their request weight.
var endpointWeights = map[string]int{
	"/fapi/v2/account":      5,
	"/fapi/v2/positionRisk": 5,
	"/fapi/v1/leverage":     1,

	"/fapi/v1/order":         1,
	"/fapi/v1/openOrders":    1, // 1 with symbol, 40 without
	"/fapi/v1/allOpenOrders": 40,

	"/fapi/v1/ticker/24hr":   1,
	"/fapi/v1/klines":        5,
	"/fapi/v1/depth":         5,
	"/fapi/v1/premiumIndex":  1,
	"/fapi/v1/fundingRate":   1,
	"/fapi/v1/openInterest":  1,
	"/fapi/v1/exchangeInfo":  1,
}

func endpointWeight(endpoint string) int {
	if w, ok := endpointWeights[endpoint]; ok {
		return w
	}
	return 1
}

// rateLimiter tracks weight consumption against the futures per-minute
// budget and opens a circuit breaker when the exchange signals a ban.
type rateLimiter struct {
	mu sync.Mutex

	maxWeight     int
	currentWeight int
	weightResetAt time.Time

	circuitOpen bool
	banUntil    time.Time

	log zerolog.Logger
}

func newRateLimiter(log zerolog.Logger) *rateLimiter {
	return &rateLimiter{
		maxWeight:     2400, // Binance futures per-minute weight cap
		weightResetAt: time.Now().Add(time.Minute),
		log:           log,
	}
}

// acquire blocks until the endpoint's weight fits in the current window or
// the timeout elapses. Returns false when the circuit stays open past the
// deadline.
func (r *rateLimiter) acquire(endpoint string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	weight := endpointWeight(endpoint)

	for {
		r.mu.Lock()
		now := time.Now()
		if now.After(r.weightResetAt) {
			r.currentWeight = 0
			r.weightResetAt = now.Add(time.Minute)
		}
		if r.circuitOpen && now.After(r.banUntil) {
			r.circuitOpen = false
			r.log.Warn().Msg("rate limiter circuit closed, ban expired")
		}

		var wait time.Duration
		switch {
		case r.circuitOpen:
			wait = time.Until(r.banUntil)
		case r.currentWeight+weight > r.maxWeight:
			wait = time.Until(r.weightResetAt)
		default:
			r.currentWeight += weight
			r.mu.Unlock()
			return true
		}
		r.mu.Unlock()

		if wait < 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		if wait > 5*time.Second {
			wait = 5 * time.Second
		}
		if time.Now().Add(wait).After(deadline) {
			return false
		}
		time.Sleep(wait)
	}
}

// observeUsedWeight reconciles our counter with the weight the exchange
// reports in its response headers.
func (r *rateLimiter) observeUsedWeight(used int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if used > r.currentWeight {
		r.currentWeight = used
	}
}

// tripCircuit opens the breaker after a 429/418 or a -1003 error body.
func (r *rateLimiter) tripCircuit(banUntilMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if banUntilMs > 0 {
		r.banUntil = time.UnixMilli(banUntilMs)
	} else {
		r.banUntil = time.Now().Add(time.Minute)
	}
	r.circuitOpen = true
	r.log.Warn().Time("ban_until", r.banUntil).Msg("rate limiter circuit open")
}
