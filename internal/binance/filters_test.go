package binance

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func btcFilters() SymbolFilters {
	return SymbolFilters{
		Symbol:      "BTCUSDT",
		TickSize:    decimal.RequireFromString("0.1"),
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("100"),
	}
}

func TestSnapQuantityDown(t *testing.T) {
	f := btcFilters()

	cases := []struct {
		in   float64
		want float64
	}{
		{0.0166666, 0.016},
		{0.016, 0.016},
		{0.0019999, 0.001},
		{0.0005, 0},
	}
	for _, tc := range cases {
		if got := f.SnapQuantityDown(tc.in); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("SnapQuantityDown(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSnapQuantityUp(t *testing.T) {
	f := btcFilters()
	if got := f.SnapQuantityUp(0.0161); math.Abs(got-0.017) > 1e-12 {
		t.Errorf("SnapQuantityUp(0.0161) = %v, want 0.017", got)
	}
	if got := f.SnapQuantityUp(0.016); math.Abs(got-0.016) > 1e-12 {
		t.Errorf("SnapQuantityUp(0.016) = %v, want 0.016", got)
	}
}

func TestSnapPrice(t *testing.T) {
	f := btcFilters()
	if got := f.SnapPriceDown(30010.07); math.Abs(got-30010.0) > 1e-9 {
		t.Errorf("SnapPriceDown(30010.07) = %v, want 30010.0", got)
	}
	if got := f.SnapPriceUp(30010.01); math.Abs(got-30010.1) > 1e-9 {
		t.Errorf("SnapPriceUp(30010.01) = %v, want 30010.1", got)
	}
}

func TestSnapZeroStepPassesThrough(t *testing.T) {
	f := SymbolFilters{}
	if got := f.SnapQuantityDown(1.2345); got != 1.2345 {
		t.Errorf("zero step should pass through, got %v", got)
	}
}

func TestFilterCacheResolvesFromExchangeInfo(t *testing.T) {
	mock := NewMockClient()
	mock.Exchange = &ExchangeInfo{
		Symbols: []SymbolInfo{
			{
				Symbol: "BTCUSDT",
				Filters: []SymbolFilter{
					{FilterType: "PRICE_FILTER", TickSize: "0.10"},
					{FilterType: "LOT_SIZE", StepSize: "0.001", MinQty: "0.001"},
					{FilterType: "MIN_NOTIONAL", Notional: "100"},
				},
			},
		},
	}

	fc := NewFilterCache(mock)
	f, err := fc.Get("BTCUSDT")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Tick() != 0.1 {
		t.Errorf("tick = %v, want 0.1", f.Tick())
	}
	if got := f.SnapQuantityDown(0.0166); math.Abs(got-0.016) > 1e-12 {
		t.Errorf("step not applied: got %v", got)
	}

	if _, err := fc.Get("DOGEUSDT"); err == nil {
		t.Error("expected error for unlisted symbol")
	}
}
