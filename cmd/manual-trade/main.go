package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"futures-llm-trader/config"
	"futures-llm-trader/internal/binance"
	"futures-llm-trader/internal/cache"
	"futures-llm-trader/internal/decision"
	"futures-llm-trader/internal/logging"
	"futures-llm-trader/internal/market"
	"futures-llm-trader/internal/risk"
	"futures-llm-trader/internal/trader"
)

// manual-trade places a single order through the same sizing, protective
// and safety path the agent uses, without involving the model. Useful for
// smoke-testing credentials and filters against the testnet.
func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file")
	symbol := flag.String("symbol", "", "symbol, e.g. BTCUSDT")
	action := flag.String("action", "", "long, short, close_long, close_short, cancel_tp_sl")
	usdt := flag.Float64("usdt", 0, "margin amount in USDT (open actions)")
	leverage := flag.Int("leverage", 0, "leverage (open actions)")
	entry := flag.Float64("entry", 0, "limit entry price (0 = market)")
	stopLoss := flag.Float64("sl", 0, "stop loss price")
	takeProfit := flag.Float64("tp", 0, "take profit price")
	closePercent := flag.Float64("close-percent", 100, "portion to close (close actions)")
	execute := flag.Bool("execute", false, "send the order for real")
	flag.Parse()

	if *configPath == "" || *symbol == "" || *action == "" {
		fmt.Fprintln(os.Stderr, "manual-trade: --config, --symbol and --action are required")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "manual-trade: %v\n", err)
		return 1
	}
	log, err := logging.New(logging.Options{Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "manual-trade: %v\n", err)
		return 1
	}

	if err := risk.ValidateCredentials(cfg.APIs.Exchange.APIKey, cfg.APIs.Exchange.APISecret,
		cfg.APIs.Exchange.Testnet, log); err != nil {
		log.Error().Err(err).Msg("credential validation failed")
		return 1
	}

	client := binance.NewRESTClient(cfg.APIs.Exchange.APIKey, cfg.APIs.Exchange.APISecret,
		cfg.APIs.Exchange.Testnet, log)
	filters := binance.NewFilterCache(client)

	dryRun := !*execute || !cfg.Trading.Safety.RealTradingEnabled
	if dryRun {
		log.Info().Msg("dry run: order will be simulated")
	}

	d := decision.Decision{
		Symbol:       *symbol,
		Confidence:   100,
		USDTAmount:   *usdt,
		Leverage:     *leverage,
		EntryPrice:   *entry,
		StopLoss:     *stopLoss,
		TakeProfit:   *takeProfit,
		ClosePercent: *closePercent,
		OrderType:    "MARKET",
	}
	if *entry > 0 {
		d.OrderType = "LIMIT"
	}
	if d.Leverage <= 0 {
		d.Leverage = cfg.Trading.Futures.DefaultLeverage
	}

	switch *action {
	case "long":
		d.Action = decision.ActionLong
	case "short":
		d.Action = decision.ActionShort
	case "close_long":
		d.Action = decision.ActionCloseLong
	case "close_short":
		d.Action = decision.ActionCloseShort
	case "adjust_tp_sl":
		d.Action = decision.ActionAdjustTPSL
	case "cancel_tp_sl":
		d.Action = decision.ActionCancelTPSL
	default:
		fmt.Fprintf(os.Stderr, "manual-trade: unsupported action %q\n", *action)
		return 1
	}

	// Manual orders pass through the same pre-trade checks as the agent's.
	ctx := context.Background()
	assembler := market.NewAssembler(client, cache.New("", log), time.Minute, 4, 30*time.Second, log)
	snap := assembler.Assemble(ctx, []string{*symbol}, nil)
	gate := risk.NewGate(cfg.Trading.Safety.PreTradeChecks, log, nil)
	if verdict := gate.Check(d, snap); !verdict.Passed {
		fmt.Fprintf(os.Stderr, "manual-trade: safety rejected: %s\n", verdict.Reason)
		return 1
	}

	executor := trader.NewExecutor(client, filters, trader.Config{
		DryRun:          dryRun,
		MaxWaitTime:     cfg.Trading.OrderSettings.LimitOrder.MaxWaitTime,
		PollInterval:    time.Second,
		MinNotionalUSDT: cfg.Trading.OrderSettings.MinNotionalUSDT,
	}, log)

	report, err := executor.Execute(ctx, d, snap)
	if err != nil {
		log.Error().Err(err).Str("state", string(report.State)).Msg("execution failed")
		return 1
	}

	fmt.Printf("%s %s -> %s\n", report.Symbol, report.Action, report.State)
	for _, o := range report.Orders {
		fmt.Printf("  %-12s %s %s qty %.8g price %.8g stop %.8g (%s)\n",
			o.Purpose, o.Side, o.Type, o.Quantity, o.Price, o.StopPrice, o.Status)
	}
	for _, n := range report.Notes {
		fmt.Printf("  note: %s\n", n)
	}
	return 0
}
