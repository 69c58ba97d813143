package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"futures-llm-trader/internal/binance"
	"futures-llm-trader/internal/cache"
)

// timeframeLimits sizes each kline request so the longest indicator on
// that timeframe (SMA-200, the 30-day volatility window) has enough bars.
var timeframeLimits = map[string]int{
	"1m":  200,
	"5m":  288,
	"15m": 336,
	"1h":  720,
	"4h":  180,
	"1d":  365,
	"1w":  104,
	"1M":  36,
}

// DefaultTimeframes are the focus timeframes sent to the model.
var DefaultTimeframes = []string{"15m", "1h", "4h", "1d"}

// Account is the snapshot's view of the futures account, in USDT.
type Account struct {
	TotalWallet        float64 `json:"totalWallet"`
	TotalMargin        float64 `json:"totalMargin"`
	TotalUnrealizedPnL float64 `json:"totalUnrealizedPnl"`
	AvailableBalance   float64 `json:"availableBalance"`
}

// PositionInfo is one open position, amount signed.
type PositionInfo struct {
	Symbol         string  `json:"symbol"`
	PositionAmount float64 `json:"positionAmount"`
	EntryPrice     float64 `json:"entryPrice"`
	MarkPrice      float64 `json:"markPrice"`
	UnrealizedPnL  float64 `json:"unrealizedPnl"`
	Leverage       int     `json:"leverage"`
	Side           string  `json:"side"`
	Isolated       bool    `json:"isolated"`
}

// Depth is the top of the order book with parsed price levels.
type Depth struct {
	Bids    [][2]float64 `json:"bids"` // [price, qty]
	Asks    [][2]float64 `json:"asks"`
	BestBid float64      `json:"bestBid"`
	BestAsk float64      `json:"bestAsk"`
}

// Spread returns (ask-bid)/bid, or -1 when either side is missing.
func (d *Depth) Spread() float64 {
	if d == nil || d.BestBid <= 0 || d.BestAsk <= 0 {
		return -1
	}
	return (d.BestAsk - d.BestBid) / d.BestBid
}

// Funding bundles the funding-rate view for one symbol.
type Funding struct {
	CurrentRate  float64               `json:"currentRate"`
	RecentRates  []binance.FundingRate `json:"recentRates"`
	OpenInterest float64               `json:"openInterest"`
}

// SymbolData is the per-symbol market slice of a snapshot.
type SymbolData struct {
	Symbol     string                        `json:"symbol"`
	Ticker     *binance.Ticker               `json:"ticker"`
	Depth      *Depth                        `json:"depth"`
	Funding    Funding                       `json:"funding"`
	Timeframes map[string]map[string]float64 `json:"timeframes"`
	Errors     []string                      `json:"errors,omitempty"`
}

// LastPrice returns the ticker's last trade price, or 0.
func (s *SymbolData) LastPrice() float64 {
	if s == nil || s.Ticker == nil {
		return 0
	}
	return s.Ticker.LastPrice
}

// Snapshot is one cycle's immutable view of account and market state.
type Snapshot struct {
	TakenAt    time.Time                  `json:"takenAt"`
	Account    Account                    `json:"account"`
	Positions  []PositionInfo             `json:"positions"`
	OpenOrders map[string][]binance.Order `json:"openOrders"`
	Symbols    map[string]*SymbolData     `json:"symbols"`
	Partial    bool                       `json:"partial"`
	Errors     []string                   `json:"errors,omitempty"`
}

// Position returns the snapshot position for a symbol, or nil.
func (s *Snapshot) Position(symbol string) *PositionInfo {
	for i := range s.Positions {
		if s.Positions[i].Symbol == symbol {
			return &s.Positions[i]
		}
	}
	return nil
}

// Assembler builds a Snapshot per cycle, fanning symbol fetches out over a
// bounded worker set and tolerating per-field failures.
type Assembler struct {
	client      binance.Client
	cache       *cache.Store
	klineTTL    time.Duration
	concurrency int
	timeout     time.Duration
	log         zerolog.Logger
}

// NewAssembler wires the assembler. concurrency bounds in-flight exchange
// requests; timeout is the global deadline after which the snapshot is
// returned partial.
func NewAssembler(client binance.Client, store *cache.Store, klineTTL time.Duration, concurrency int, timeout time.Duration, log zerolog.Logger) *Assembler {
	if concurrency < 1 {
		concurrency = 8
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Assembler{
		client:      client,
		cache:       store,
		klineTTL:    klineTTL,
		concurrency: concurrency,
		timeout:     timeout,
		log:         log,
	}
}

// Assemble fetches account state sequentially, then market data for every
// symbol concurrently. Failures mark the snapshot partial instead of
// aborting it; the caller decides whether a partial snapshot is usable.
func (a *Assembler) Assemble(ctx context.Context, symbols, timeframes []string) *Snapshot {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	snap := &Snapshot{
		TakenAt:    time.Now().UTC(),
		OpenOrders: make(map[string][]binance.Order),
		Symbols:    make(map[string]*SymbolData, len(symbols)),
	}

	var mu sync.Mutex
	addErr := func(msg string) {
		mu.Lock()
		snap.Errors = append(snap.Errors, msg)
		snap.Partial = true
		mu.Unlock()
	}

	if acct, err := a.client.GetAccount(); err != nil {
		addErr(fmt.Sprintf("account: %v", err))
	} else {
		snap.Account = Account{
			TotalWallet:        acct.TotalWalletBalance,
			TotalMargin:        acct.TotalMarginBalance,
			TotalUnrealizedPnL: acct.TotalUnrealizedProfit,
			AvailableBalance:   acct.AvailableBalance,
		}
	}

	if positions, err := a.client.GetPositions(); err != nil {
		addErr(fmt.Sprintf("positions: %v", err))
	} else {
		for _, p := range positions {
			if p.PositionAmt == 0 {
				continue
			}
			snap.Positions = append(snap.Positions, PositionInfo{
				Symbol:         p.Symbol,
				PositionAmount: p.PositionAmt,
				EntryPrice:     p.EntryPrice,
				MarkPrice:      p.MarkPrice,
				UnrealizedPnL:  p.UnrealizedProfit,
				Leverage:       maxInt(p.Leverage, 1),
				Side:           p.Side(),
				Isolated:       p.Isolated(),
			})
		}
	}

	if orders, err := a.client.GetOpenOrders(""); err != nil {
		addErr(fmt.Sprintf("open orders: %v", err))
	} else {
		for _, o := range orders {
			snap.OpenOrders[o.Symbol] = append(snap.OpenOrders[o.Symbol], o)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for _, symbol := range symbols {
		data := &SymbolData{
			Symbol:     symbol,
			Timeframes: make(map[string]map[string]float64, len(timeframes)),
		}
		mu.Lock()
		snap.Symbols[symbol] = data
		mu.Unlock()

		symbolErr := func(field string, err error) {
			mu.Lock()
			data.Errors = append(data.Errors, fmt.Sprintf("%s: %v", field, err))
			snap.Partial = true
			mu.Unlock()
		}

		symbol := symbol
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			ticker, err := a.client.GetTicker(symbol)
			if err != nil {
				symbolErr("ticker", err)
				return nil
			}
			mu.Lock()
			data.Ticker = ticker
			mu.Unlock()
			return nil
		})

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			book, err := a.client.GetOrderBook(symbol, 10)
			if err != nil {
				symbolErr("depth", err)
				return nil
			}
			mu.Lock()
			data.Depth = parseDepth(book)
			mu.Unlock()
			return nil
		})

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			funding := Funding{}
			if rates, err := a.client.GetFundingRate(symbol, 10); err != nil {
				symbolErr("funding", err)
			} else {
				funding.RecentRates = rates
			}
			if pi, err := a.client.GetPremiumIndex(symbol); err != nil {
				symbolErr("premium index", err)
			} else {
				funding.CurrentRate = pi.LastFundingRate
			}
			if oi, err := a.client.GetOpenInterest(symbol); err != nil {
				symbolErr("open interest", err)
			} else {
				funding.OpenInterest = oi.OpenInterest
			}
			mu.Lock()
			data.Funding = funding
			mu.Unlock()
			return nil
		})

		for _, tf := range timeframes {
			tf := tf
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				klines, err := a.fetchKlines(gctx, symbol, tf)
				if err != nil {
					symbolErr("klines "+tf, err)
					return nil
				}
				indicators := ComputeIndicators(klines, tf)
				mu.Lock()
				data.Timeframes[tf] = indicators
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		addErr(fmt.Sprintf("assembly: %v", err))
	}
	if ctx.Err() != nil {
		addErr("assembly deadline exceeded")
	}

	a.log.Info().
		Int("symbols", len(snap.Symbols)).
		Int("positions", len(snap.Positions)).
		Bool("partial", snap.Partial).
		Msg("snapshot assembled")
	return snap
}

// fetchKlines serves klines from the short-TTL cache when possible so
// several timeframe consumers within a cycle don't refetch the same series.
func (a *Assembler) fetchKlines(ctx context.Context, symbol, tf string) ([]binance.Kline, error) {
	limit, ok := timeframeLimits[tf]
	if !ok {
		return nil, fmt.Errorf("unknown timeframe %q", tf)
	}

	key := "klines/" + symbol + "/" + tf + "/" + strconv.Itoa(limit)
	if a.cache != nil {
		if raw := a.cache.Get(ctx, key); raw != nil {
			var klines []binance.Kline
			if err := json.Unmarshal(raw, &klines); err == nil {
				return klines, nil
			}
		}
	}

	klines, err := a.client.GetKlines(symbol, tf, limit)
	if err != nil {
		return nil, err
	}

	if a.cache != nil && len(klines) > 0 {
		if raw, err := json.Marshal(klines); err == nil {
			a.cache.Set(ctx, key, raw, a.klineTTL)
		}
	}
	return klines, nil
}

func parseDepth(book *binance.OrderBook) *Depth {
	d := &Depth{}
	for _, lvl := range book.Bids {
		if len(lvl) < 2 {
			continue
		}
		price, _ := strconv.ParseFloat(lvl[0], 64)
		qty, _ := strconv.ParseFloat(lvl[1], 64)
		d.Bids = append(d.Bids, [2]float64{price, qty})
	}
	for _, lvl := range book.Asks {
		if len(lvl) < 2 {
			continue
		}
		price, _ := strconv.ParseFloat(lvl[0], 64)
		qty, _ := strconv.ParseFloat(lvl[1], 64)
		d.Asks = append(d.Asks, [2]float64{price, qty})
	}
	if len(d.Bids) > 0 {
		d.BestBid = d.Bids[0][0]
	}
	if len(d.Asks) > 0 {
		d.BestAsk = d.Asks[0][0]
	}
	return d
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
