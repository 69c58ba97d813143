package market

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-llm-trader/internal/binance"
	"futures-llm-trader/internal/cache"
)

func populatedMock() *binance.MockClient {
	mock := binance.NewMockClient()
	mock.Account = binance.AccountInfo{
		TotalWalletBalance: 1000,
		AvailableBalance:   800,
	}
	mock.Positions["BTCUSDT"] = &binance.Position{Symbol: "BTCUSDT", PositionAmt: 0.02, EntryPrice: 29000, Leverage: 5}
	mock.Positions["ETHUSDT"] = &binance.Position{Symbol: "ETHUSDT", PositionAmt: 0}
	mock.Tickers["BTCUSDT"] = &binance.Ticker{Symbol: "BTCUSDT", LastPrice: 30000, PriceChangePercent: 2.1}
	mock.Books["BTCUSDT"] = &binance.OrderBook{
		Bids: [][]string{{"29999.9", "1.2"}},
		Asks: [][]string{{"30000.1", "0.8"}},
	}
	mock.Premium["BTCUSDT"] = &binance.PremiumIndex{Symbol: "BTCUSDT", LastFundingRate: 0.0001}
	mock.Klines["BTCUSDT/1h"] = syntheticKlines(250, 29000, 4)
	return mock
}

func newTestAssembler(client binance.Client) *Assembler {
	store := cache.New("", zerolog.Nop())
	return NewAssembler(client, store, time.Minute, 4, 10*time.Second, zerolog.Nop())
}

func TestAssembleFullSnapshot(t *testing.T) {
	a := newTestAssembler(populatedMock())
	snap := a.Assemble(context.Background(), []string{"BTCUSDT"}, []string{"1h"})

	if snap.Partial {
		t.Fatalf("snapshot marked partial: %v", snap.Errors)
	}
	if snap.Account.AvailableBalance != 800 {
		t.Errorf("available balance = %v", snap.Account.AvailableBalance)
	}

	// Only the non-zero position survives.
	if len(snap.Positions) != 1 || snap.Positions[0].Symbol != "BTCUSDT" {
		t.Errorf("positions = %+v", snap.Positions)
	}
	if p := snap.Position("BTCUSDT"); p == nil || p.Side != "LONG" {
		t.Errorf("Position lookup = %+v", p)
	}
	if snap.Position("ETHUSDT") != nil {
		t.Error("zero position should not appear")
	}

	data := snap.Symbols["BTCUSDT"]
	if data == nil {
		t.Fatal("symbol data missing")
	}
	if data.LastPrice() != 30000 {
		t.Errorf("last price = %v", data.LastPrice())
	}
	if data.Depth == nil || data.Depth.BestBid != 29999.9 || data.Depth.BestAsk != 30000.1 {
		t.Errorf("depth = %+v", data.Depth)
	}
	if data.Funding.CurrentRate != 0.0001 {
		t.Errorf("funding rate = %v", data.Funding.CurrentRate)
	}
	ind, ok := data.Timeframes["1h"]
	if !ok || len(ind) == 0 {
		t.Fatalf("1h indicators missing")
	}
	if ind["current_price"] == 0 {
		t.Error("indicators not computed from klines")
	}
}

func TestAssemblePartialOnMissingTicker(t *testing.T) {
	mock := populatedMock()
	a := newTestAssembler(mock)

	// DOGEUSDT has no ticker in the mock: that fetch fails, the rest succeeds.
	snap := a.Assemble(context.Background(), []string{"BTCUSDT", "DOGEUSDT"}, []string{"1h"})

	if !snap.Partial {
		t.Fatal("snapshot should be partial when a symbol fetch fails")
	}
	doge := snap.Symbols["DOGEUSDT"]
	if doge == nil {
		t.Fatal("failed symbol must still be present in the snapshot")
	}
	if len(doge.Errors) == 0 {
		t.Error("failed symbol should carry its errors")
	}

	// The healthy symbol is unaffected.
	btc := snap.Symbols["BTCUSDT"]
	if btc == nil || btc.Ticker == nil {
		t.Error("healthy symbol data lost in partial snapshot")
	}
}

func TestDepthSpread(t *testing.T) {
	d := &Depth{BestBid: 30000, BestAsk: 30300}
	if got := d.Spread(); got < 0.0099 || got > 0.0101 {
		t.Errorf("spread = %v, want 0.01", got)
	}

	missing := &Depth{BestBid: 30000}
	if missing.Spread() != -1 {
		t.Errorf("one-sided book spread = %v, want -1", missing.Spread())
	}
	var nilDepth *Depth
	if nilDepth.Spread() != -1 {
		t.Error("nil depth spread must be -1")
	}
}

func TestAssembleCachesKlines(t *testing.T) {
	mock := populatedMock()
	a := newTestAssembler(mock)

	first := a.Assemble(context.Background(), []string{"BTCUSDT"}, []string{"1h"})
	if first.Partial {
		t.Fatalf("first snapshot partial: %v", first.Errors)
	}

	// Remove the klines from the mock: the cache must still serve them.
	mock.Klines["BTCUSDT/1h"] = nil
	second := a.Assemble(context.Background(), []string{"BTCUSDT"}, []string{"1h"})
	if len(second.Symbols["BTCUSDT"].Timeframes["1h"]) == 0 {
		t.Error("cached klines not used on the second cycle")
	}
}
