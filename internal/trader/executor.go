package trader

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-llm-trader/internal/binance"
	"futures-llm-trader/internal/decision"
	"futures-llm-trader/internal/market"
)

// State tracks how far an execution progressed. States only move forward;
// a failure freezes the report at the last state reached.
type State string

const (
	StateReceived            State = "received"
	StateLeverageSet         State = "leverage_set"
	StateSized               State = "sized"
	StateEntrySubmitted      State = "entry_submitted"
	StateEntryResolved       State = "entry_resolved"
	StateProtectiveSubmitted State = "protective_submitted"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

// OrderRecord is one order touched during an execution, for the audit log.
type OrderRecord struct {
	Purpose       string // entry, stop_loss, take_profit, reduce, cancel
	OrderID       int64
	ClientOrderID string
	Type          string
	Side          string
	Quantity      float64
	Price         float64
	StopPrice     float64
	Status        string
	Simulated     bool
}

// Report is the full outcome of executing one decision.
type Report struct {
	Symbol     string
	Action     decision.Action
	State      State
	Quantity   float64
	FillPrice  float64
	Orders     []OrderRecord
	Error      string
	Notes      []string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *Report) note(format string, args ...interface{}) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Config tunes the executor.
type Config struct {
	DryRun          bool
	MaxWaitTime     time.Duration // LIMIT fill wait before cancel
	PollInterval    time.Duration
	MinNotionalUSDT float64
}

// Executor turns normalized decisions into exchange orders. One decision at
// a time; the cycle loop is strictly sequential so the executor carries no
// internal locking.
type Executor struct {
	client  binance.Client
	filters *binance.FilterCache
	cfg     Config
	log     zerolog.Logger
}

// NewExecutor wires an executor with defaults for unset config fields.
func NewExecutor(client binance.Client, filters *binance.FilterCache, cfg Config, log zerolog.Logger) *Executor {
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = 300 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MinNotionalUSDT <= 0 {
		cfg.MinNotionalUSDT = 5
	}
	return &Executor{client: client, filters: filters, cfg: cfg, log: log}
}

// Execute carries out one decision end to end and always returns a report,
// alongside the error that stopped it, if any.
func (e *Executor) Execute(ctx context.Context, d decision.Decision, snap *market.Snapshot) (*Report, error) {
	report := &Report{
		Symbol:    d.Symbol,
		Action:    d.Action,
		State:     StateReceived,
		StartedAt: time.Now().UTC(),
	}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	var err error
	switch {
	case d.Action.IsOpen():
		err = e.executeOpen(ctx, d, snap, report)
	case d.Action.IsReduce():
		err = e.executeReduce(d, report)
	case d.Action == decision.ActionAdjustTPSL:
		err = e.adjustProtective(d, report)
	case d.Action == decision.ActionCancelTPSL:
		err = e.cancelProtective(d.Symbol, report)
	default:
		report.State = StateDone
		return report, nil
	}

	if err != nil {
		report.State = StateFailed
		report.Error = err.Error()
		return report, err
	}
	report.State = StateDone
	return report, nil
}

func (e *Executor) executeOpen(ctx context.Context, d decision.Decision, snap *market.Snapshot, report *Report) error {
	last := e.lastPrice(d.Symbol, snap)
	if last <= 0 {
		return fmt.Errorf("no price available for %s", d.Symbol)
	}

	// Leverage failures are not fatal: the position opens at whatever
	// leverage the account already has, which only changes margin usage.
	if err := e.setLeverage(d.Symbol, d.Leverage, report); err != nil {
		e.log.Warn().Err(err).Str("symbol", d.Symbol).Int("leverage", d.Leverage).
			Msg("leverage change failed, continuing at current leverage")
		report.note("leverage change to %dx failed: %v", d.Leverage, err)
	}
	report.State = StateLeverageSet

	filters, err := e.filters.Get(d.Symbol)
	if err != nil {
		return err
	}
	qty, err := e.sizeEntry(d, last, filters)
	if err != nil {
		return err
	}
	report.Quantity = qty
	report.State = StateSized

	side := binance.SideBuy
	if d.Action.Direction() == "SHORT" {
		side = binance.SideSell
	}

	params := binance.OrderParams{
		Symbol:           d.Symbol,
		Side:             side,
		Quantity:         qty,
		NewClientOrderID: uuid.NewString(),
	}
	if d.OrderType == "LIMIT" {
		params.Type = binance.OrderTypeLimit
		params.TimeInForce = binance.TimeInForceGTC
		if side == binance.SideBuy {
			params.Price = filters.SnapPriceDown(d.EntryPrice)
		} else {
			params.Price = filters.SnapPriceUp(d.EntryPrice)
		}
	} else {
		params.Type = binance.OrderTypeMarket
	}

	resp, err := e.submit(params, "entry", report)
	if err != nil {
		return fmt.Errorf("submit entry: %w", err)
	}
	report.State = StateEntrySubmitted

	fillPrice := last
	switch {
	case params.Type == binance.OrderTypeLimit && !e.cfg.DryRun:
		filled, err := e.awaitFill(ctx, d.Symbol, resp.OrderID)
		if err != nil {
			return err
		}
		if filled.AvgPrice > 0 {
			fillPrice = filled.AvgPrice
		} else {
			fillPrice = params.Price
		}
	case params.Type == binance.OrderTypeLimit:
		// Simulated limit entries fill at the placed price, not the ticker.
		fillPrice = params.Price
	case resp.AvgPrice > 0:
		fillPrice = resp.AvgPrice
	}
	report.FillPrice = fillPrice
	report.State = StateEntryResolved

	if err := e.placeProtective(d, qty, fillPrice, filters, report); err != nil {
		return fmt.Errorf("place protective orders: %w", err)
	}
	report.State = StateProtectiveSubmitted
	return nil
}

// sizeEntry converts the decision's USDT margin into a contract quantity:
// notional/price floored to the step size, raised to the lot minimum, then
// raised again if the result falls under the exchange's minimum notional.
func (e *Executor) sizeEntry(d decision.Decision, last float64, filters binance.SymbolFilters) (float64, error) {
	if d.USDTAmount <= 0 {
		return 0, fmt.Errorf("no usdt amount for %s %s", d.Symbol, d.Action)
	}
	notional := d.USDTAmount * float64(d.Leverage)
	qty := filters.SnapQuantityDown(notional / last)

	if minQty, _ := filters.MinQty.Float64(); qty < minQty {
		qty = minQty
	}

	minNotional, _ := filters.MinNotional.Float64()
	if minNotional < e.cfg.MinNotionalUSDT {
		minNotional = e.cfg.MinNotionalUSDT
	}
	if qty*last < minNotional {
		qty = filters.SnapQuantityUp(minNotional / last)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("sized quantity is zero for %s", d.Symbol)
	}
	return qty, nil
}

// awaitFill polls a LIMIT order until it reaches a terminal state or the
// wait window expires. On expiry the order is canceled and the execution
// fails; unfilled limit orders never degrade to market orders.
func (e *Executor) awaitFill(ctx context.Context, symbol string, orderID int64) (*binance.Order, error) {
	deadline := time.Now().Add(e.cfg.MaxWaitTime)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		order, err := e.client.GetOrder(symbol, orderID)
		if err != nil {
			e.log.Warn().Err(err).Int64("orderId", orderID).Msg("order poll failed")
		} else {
			status := binance.OrderStatus(order.Status)
			if status == binance.OrderStatusFilled {
				return order, nil
			}
			if status.Terminal() {
				return nil, fmt.Errorf("%w: order %d ended %s", ErrOrderNotFilled, orderID, order.Status)
			}
		}

		if time.Now().After(deadline) {
			if err := e.client.CancelOrder(symbol, orderID); err != nil {
				e.log.Error().Err(err).Int64("orderId", orderID).Msg("cancel after timeout failed")
			}
			return nil, fmt.Errorf("%w: order %d canceled after %s", ErrOrderNotFilled, orderID, e.cfg.MaxWaitTime)
		}

		select {
		case <-ctx.Done():
			if err := e.client.CancelOrder(symbol, orderID); err != nil {
				e.log.Error().Err(err).Int64("orderId", orderID).Msg("cancel on shutdown failed")
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// placeProtective replaces the symbol's stop-loss and take-profit. Existing
// protective orders are canceled first, and the quantity comes from the
// authoritative position read, not from what this execution thinks it
// bought, so adds and partial fills stay covered.
func (e *Executor) placeProtective(d decision.Decision, fallbackQty, last float64, filters binance.SymbolFilters, report *Report) error {
	if d.StopLoss <= 0 && d.TakeProfit <= 0 {
		report.note("no protective levels requested")
		return nil
	}

	if err := e.cancelProtective(d.Symbol, report); err != nil {
		return err
	}

	qty := fallbackQty
	if !e.cfg.DryRun {
		pos, err := e.client.GetPosition(d.Symbol)
		if err != nil {
			return fmt.Errorf("read position: %w", err)
		}
		if pos == nil || pos.PositionAmt == 0 {
			return fmt.Errorf("no position found for %s after entry", d.Symbol)
		}
		qty = math.Abs(pos.PositionAmt)
	}

	long := d.Action.Direction() == "LONG"
	closeSide := binance.SideSell
	if !long {
		closeSide = binance.SideBuy
	}

	if d.StopLoss > 0 {
		stop := e.directionalPrice(d.StopLoss, last, long, false, filters, report)
		if err := e.submitProtective(d.Symbol, closeSide, binance.OrderTypeStopMarket, qty, stop, "stop_loss", report); err != nil {
			return err
		}
	}
	if d.TakeProfit > 0 {
		target := e.directionalPrice(d.TakeProfit, last, long, true, filters, report)
		if err := e.submitProtective(d.Symbol, closeSide, binance.OrderTypeTakeProfitMarket, qty, target, "take_profit", report); err != nil {
			return err
		}
	}
	return nil
}

// directionalPrice snaps a protective trigger to the tick grid and, when
// the requested level would trigger immediately against the current price,
// shifts it one tick to the valid side. For a long, the stop must sit below
// the price and the target above it; shorts mirror that.
func (e *Executor) directionalPrice(requested, last float64, long, isTarget bool, filters binance.SymbolFilters, report *Report) float64 {
	wantBelow := long != isTarget // long stop and short target sit below price

	var price float64
	if wantBelow {
		price = filters.SnapPriceDown(requested)
		if price >= last {
			price = filters.SnapPriceDown(last - filters.Tick())
		}
	} else {
		price = filters.SnapPriceUp(requested)
		if price <= last {
			price = filters.SnapPriceUp(last + filters.Tick())
		}
	}
	if price != requested {
		report.note("protective price adjusted %.8g -> %.8g (last %.8g)", requested, price, last)
		e.log.Info().
			Float64("requested", requested).
			Float64("adjusted", price).
			Float64("last", last).
			Msg("protective price adjusted")
	}
	return price
}

func (e *Executor) submitProtective(symbol string, side binance.OrderSide, orderType binance.OrderType, qty, stopPrice float64, purpose string, report *Report) error {
	_, err := e.submit(binance.OrderParams{
		Symbol:           symbol,
		Side:             side,
		Type:             orderType,
		Quantity:         qty,
		StopPrice:        stopPrice,
		TimeInForce:      binance.TimeInForceGTC,
		ReduceOnly:       true,
		NewClientOrderID: uuid.NewString(),
	}, purpose, report)
	if err != nil {
		return fmt.Errorf("submit %s: %w", purpose, err)
	}
	return nil
}

func (e *Executor) executeReduce(d decision.Decision, report *Report) error {
	pos, err := e.position(d.Symbol)
	if err != nil {
		return err
	}
	if pos == nil || pos.PositionAmt == 0 {
		return fmt.Errorf("%w: %s", ErrNoPositionToReduce, d.Symbol)
	}
	if wrongDirection(d.Action, pos.PositionAmt) {
		return fmt.Errorf("%w: %s position is %s, decision targets %s",
			ErrNoPositionToReduce, d.Symbol, pos.Side(), d.Action.Direction())
	}

	filters, err := e.filters.Get(d.Symbol)
	if err != nil {
		return err
	}
	held := math.Abs(pos.PositionAmt)
	price := pos.MarkPrice
	if price <= 0 {
		price = pos.EntryPrice
	}

	var qty float64
	switch {
	case d.Action == decision.ActionCloseLong || d.Action == decision.ActionCloseShort:
		qty = held * d.ClosePercent / 100
	case d.ReducePercent > 0:
		qty = held * d.ReducePercent / 100
	case d.ReduceUSDT > 0 && price > 0:
		qty = d.ReduceUSDT * float64(maxLeverage(pos.Leverage)) / price
	default:
		return fmt.Errorf("no reduce size on %s %s", d.Symbol, d.Action)
	}

	qty = filters.SnapQuantityDown(qty)
	if minQty, _ := filters.MinQty.Float64(); qty < minQty {
		report.note("reduce quantity %.8g raised to lot minimum %.8g", qty, minQty)
		qty = minQty
	}
	if qty > held {
		qty = held
	}
	if qty <= 0 {
		return fmt.Errorf("reduce quantity snapped to zero for %s", d.Symbol)
	}
	report.Quantity = qty
	report.State = StateSized

	side := binance.SideSell
	if pos.PositionAmt < 0 {
		side = binance.SideBuy
	}
	if _, err := e.submit(binance.OrderParams{
		Symbol:           d.Symbol,
		Side:             side,
		Type:             binance.OrderTypeMarket,
		Quantity:         qty,
		ReduceOnly:       true,
		NewClientOrderID: uuid.NewString(),
	}, "reduce", report); err != nil {
		return fmt.Errorf("submit reduce: %w", err)
	}
	report.State = StateEntryResolved

	// When the reduction flattened the position, its protective orders are
	// orphans now; sweep them instead of waiting for the reconciler.
	if e.cfg.DryRun {
		if qty >= held {
			return e.cancelProtective(d.Symbol, report)
		}
		return nil
	}
	after, err := e.client.GetPosition(d.Symbol)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", d.Symbol).Msg("post-reduce position read failed")
		return nil
	}
	if after == nil || after.PositionAmt == 0 {
		return e.cancelProtective(d.Symbol, report)
	}
	return nil
}

func (e *Executor) adjustProtective(d decision.Decision, report *Report) error {
	pos, err := e.position(d.Symbol)
	if err != nil {
		return err
	}
	if pos == nil || pos.PositionAmt == 0 {
		return fmt.Errorf("%w: %s has no position to protect", ErrNoPositionToReduce, d.Symbol)
	}
	if d.StopLoss <= 0 && d.TakeProfit <= 0 {
		return fmt.Errorf("adjust_tp_sl for %s carries no levels", d.Symbol)
	}

	filters, err := e.filters.Get(d.Symbol)
	if err != nil {
		return err
	}
	last := pos.MarkPrice
	if last <= 0 {
		last = pos.EntryPrice
	}

	adjusted := d
	if pos.PositionAmt > 0 {
		adjusted.Action = decision.ActionLong
	} else {
		adjusted.Action = decision.ActionShort
	}
	if err := e.placeProtective(adjusted, math.Abs(pos.PositionAmt), last, filters, report); err != nil {
		return err
	}
	report.State = StateProtectiveSubmitted
	return nil
}

// cancelProtective removes every STOP_MARKET / TAKE_PROFIT_MARKET order
// open on the symbol.
func (e *Executor) cancelProtective(symbol string, report *Report) error {
	orders, err := e.client.GetOpenOrders(symbol)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	for _, o := range orders {
		if !isProtectiveType(o.Type) {
			continue
		}
		if e.cfg.DryRun {
			report.note("dry run: would cancel %s order %d", o.Type, o.OrderID)
			continue
		}
		if err := e.client.CancelOrder(symbol, o.OrderID); err != nil {
			return fmt.Errorf("cancel %s order %d: %w", o.Type, o.OrderID, err)
		}
		report.Orders = append(report.Orders, OrderRecord{
			Purpose: "cancel",
			OrderID: o.OrderID,
			Type:    o.Type,
			Side:    o.Side,
			Status:  string(binance.OrderStatusCanceled),
		})
	}
	return nil
}

// submit sends one order, or simulates it in dry-run mode, and records it
// on the report either way.
func (e *Executor) submit(params binance.OrderParams, purpose string, report *Report) (*binance.OrderResponse, error) {
	if e.cfg.DryRun {
		e.log.Info().
			Str("symbol", params.Symbol).
			Str("purpose", purpose).
			Str("type", string(params.Type)).
			Str("side", string(params.Side)).
			Float64("qty", params.Quantity).
			Float64("price", params.Price).
			Float64("stopPrice", params.StopPrice).
			Msg("dry run: order not sent")
		report.Orders = append(report.Orders, OrderRecord{
			Purpose:       purpose,
			ClientOrderID: params.NewClientOrderID,
			Type:          string(params.Type),
			Side:          string(params.Side),
			Quantity:      params.Quantity,
			Price:         params.Price,
			StopPrice:     params.StopPrice,
			Status:        "SIMULATED",
			Simulated:     true,
		})
		return &binance.OrderResponse{
			Symbol:        params.Symbol,
			Status:        string(binance.OrderStatusFilled),
			ClientOrderID: params.NewClientOrderID,
			Price:         params.Price,
			OrigQty:       params.Quantity,
			ExecutedQty:   params.Quantity,
			Type:          string(params.Type),
			Side:          string(params.Side),
		}, nil
	}

	resp, err := e.client.CreateOrder(params)
	if err != nil {
		return nil, err
	}
	report.Orders = append(report.Orders, OrderRecord{
		Purpose:       purpose,
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Type:          resp.Type,
		Side:          resp.Side,
		Quantity:      resp.OrigQty,
		Price:         resp.Price,
		StopPrice:     resp.StopPrice,
		Status:        resp.Status,
	})
	e.log.Info().
		Str("symbol", params.Symbol).
		Str("purpose", purpose).
		Int64("orderId", resp.OrderID).
		Str("status", resp.Status).
		Msg("order submitted")
	return resp, nil
}

func (e *Executor) setLeverage(symbol string, leverage int, report *Report) error {
	if e.cfg.DryRun {
		report.note("dry run: would set leverage %dx", leverage)
		return nil
	}
	_, err := e.client.SetLeverage(symbol, leverage)
	return err
}

func (e *Executor) position(symbol string) (*binance.Position, error) {
	pos, err := e.client.GetPosition(symbol)
	if err != nil {
		return nil, fmt.Errorf("read position %s: %w", symbol, err)
	}
	return pos, nil
}

func (e *Executor) lastPrice(symbol string, snap *market.Snapshot) float64 {
	if t, err := e.client.GetTicker(symbol); err == nil && t.LastPrice > 0 {
		return t.LastPrice
	}
	if snap != nil {
		if data := snap.Symbols[symbol]; data != nil {
			return data.LastPrice()
		}
	}
	return 0
}

func wrongDirection(action decision.Action, positionAmt float64) bool {
	dir := action.Direction()
	if dir == "" {
		return false
	}
	if positionAmt > 0 {
		return dir != "LONG"
	}
	return dir != "SHORT"
}

func isProtectiveType(t string) bool {
	return t == string(binance.OrderTypeStopMarket) || t == string(binance.OrderTypeTakeProfitMarket)
}

func maxLeverage(l int) int {
	if l < 1 {
		return 1
	}
	return l
}
