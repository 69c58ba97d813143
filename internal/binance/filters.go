package binance

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// SymbolFilters are the trading constraints for one symbol, extracted from
// exchangeInfo. All quantization passes through these to avoid float drift.
type SymbolFilters struct {
	Symbol            string
	TickSize          decimal.Decimal
	StepSize          decimal.Decimal
	MinQty            decimal.Decimal
	MinNotional       decimal.Decimal
	PricePrecision    int
	QuantityPrecision int
}

// SnapQuantityDown floors qty to a multiple of StepSize.
func (f SymbolFilters) SnapQuantityDown(qty float64) float64 {
	return snap(decimal.NewFromFloat(qty), f.StepSize, false)
}

// SnapQuantityUp raises qty to the next multiple of StepSize.
func (f SymbolFilters) SnapQuantityUp(qty float64) float64 {
	return snap(decimal.NewFromFloat(qty), f.StepSize, true)
}

// SnapPriceDown floors price to a multiple of TickSize.
func (f SymbolFilters) SnapPriceDown(price float64) float64 {
	return snap(decimal.NewFromFloat(price), f.TickSize, false)
}

// SnapPriceUp raises price to the next multiple of TickSize.
func (f SymbolFilters) SnapPriceUp(price float64) float64 {
	return snap(decimal.NewFromFloat(price), f.TickSize, true)
}

// Tick returns TickSize as a float for directional shifts.
func (f SymbolFilters) Tick() float64 {
	v, _ := f.TickSize.Float64()
	return v
}

func snap(v, step decimal.Decimal, up bool) float64 {
	if step.IsZero() {
		out, _ := v.Float64()
		return out
	}
	q := v.Div(step)
	if up {
		q = q.Ceil()
	} else {
		q = q.Floor()
	}
	out, _ := q.Mul(step).Float64()
	return out
}

// FilterCache resolves SymbolFilters from exchangeInfo and keeps them for
// the life of the process (symbol filters change rarely enough for that).
type FilterCache struct {
	client interface {
		GetExchangeInfo() (*ExchangeInfo, error)
	}

	mu      sync.RWMutex
	filters map[string]SymbolFilters
}

// NewFilterCache builds an empty cache over the given client.
func NewFilterCache(client interface {
	GetExchangeInfo() (*ExchangeInfo, error)
}) *FilterCache {
	return &FilterCache{client: client, filters: make(map[string]SymbolFilters)}
}

// Get returns the filters for a symbol, loading exchangeInfo on first use.
func (fc *FilterCache) Get(symbol string) (SymbolFilters, error) {
	fc.mu.RLock()
	f, ok := fc.filters[symbol]
	fc.mu.RUnlock()
	if ok {
		return f, nil
	}

	if err := fc.refresh(); err != nil {
		return SymbolFilters{}, err
	}

	fc.mu.RLock()
	f, ok = fc.filters[symbol]
	fc.mu.RUnlock()
	if !ok {
		return SymbolFilters{}, fmt.Errorf("symbol %s not listed in exchange info", symbol)
	}
	return f, nil
}

func (fc *FilterCache) refresh() error {
	info, err := fc.client.GetExchangeInfo()
	if err != nil {
		return fmt.Errorf("refresh symbol filters: %w", err)
	}

	parsed := make(map[string]SymbolFilters, len(info.Symbols))
	for _, s := range info.Symbols {
		f := SymbolFilters{
			Symbol:            s.Symbol,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, filter := range s.Filters {
			switch filter.FilterType {
			case "PRICE_FILTER":
				f.TickSize = parseDecimal(filter.TickSize)
			case "LOT_SIZE":
				f.StepSize = parseDecimal(filter.StepSize)
				f.MinQty = parseDecimal(filter.MinQty)
			case "MIN_NOTIONAL":
				f.MinNotional = parseDecimal(filter.Notional)
			}
		}
		parsed[s.Symbol] = f
	}

	fc.mu.Lock()
	fc.filters = parsed
	fc.mu.Unlock()
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
