package trader

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"futures-llm-trader/internal/binance"
)

// Reconciler sweeps orphaned protective orders at the end of each cycle:
// STOP_MARKET and TAKE_PROFIT_MARKET orders left on symbols whose position
// has gone flat. Orphans otherwise linger as live orders that would open a
// fresh position the moment their trigger price trades.
type Reconciler struct {
	client binance.Client
	dryRun bool
	log    zerolog.Logger
}

// NewReconciler builds a reconciler over the exchange client.
func NewReconciler(client binance.Client, dryRun bool, log zerolog.Logger) *Reconciler {
	return &Reconciler{client: client, dryRun: dryRun, log: log}
}

// Sweep cancels protective orders on flat symbols and returns how many it
// removed. Cancel failures are logged per order and do not stop the sweep.
func (r *Reconciler) Sweep() (int, error) {
	positions, err := r.client.GetPositions()
	if err != nil {
		return 0, fmt.Errorf("reconciler: read positions: %w", err)
	}
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		if math.Abs(p.PositionAmt) > 0 {
			held[p.Symbol] = true
		}
	}

	orders, err := r.client.GetOpenOrders("")
	if err != nil {
		return 0, fmt.Errorf("reconciler: read open orders: %w", err)
	}

	canceled := 0
	for _, o := range orders {
		if !isProtectiveType(o.Type) || held[o.Symbol] {
			continue
		}
		if r.dryRun {
			r.log.Info().Str("symbol", o.Symbol).Int64("orderId", o.OrderID).
				Str("type", o.Type).Msg("dry run: would cancel orphaned protective order")
			canceled++
			continue
		}
		if err := r.client.CancelOrder(o.Symbol, o.OrderID); err != nil {
			r.log.Error().Err(err).Str("symbol", o.Symbol).Int64("orderId", o.OrderID).
				Msg("failed to cancel orphaned protective order")
			continue
		}
		r.log.Info().Str("symbol", o.Symbol).Int64("orderId", o.OrderID).
			Str("type", o.Type).Msg("canceled orphaned protective order")
		canceled++
	}
	return canceled, nil
}
