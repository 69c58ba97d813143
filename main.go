package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures-llm-trader/config"
	"futures-llm-trader/internal/ai/llm"
	"futures-llm-trader/internal/api"
	"futures-llm-trader/internal/binance"
	"futures-llm-trader/internal/bot"
	"futures-llm-trader/internal/cache"
	"futures-llm-trader/internal/decision"
	"futures-llm-trader/internal/history"
	"futures-llm-trader/internal/logging"
	"futures-llm-trader/internal/market"
	"futures-llm-trader/internal/risk"
	"futures-llm-trader/internal/store"
	"futures-llm-trader/internal/trader"
	"futures-llm-trader/internal/vault"
)

const (
	exitOK        = 0
	exitError     = 1
	exitInterrupt = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitError
	}

	switch args[0] {
	case "run":
		return runAgent(args[1:])
	case "init-config":
		return initConfig(args[1:])
	case "help", "-h", "--help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return exitError
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `futures-llm-trader - autonomous LLM-driven perpetual futures trading agent

Usage:
  futures-llm-trader run --config PATH [--strategy TAG] [--execute]
  futures-llm-trader init-config [PATH]

Commands:
  run          start the trading session
  init-config  write a commented sample config file (default: config.yaml)

Flags for run:
  --config PATH    path to the YAML configuration file (required)
  --strategy TAG   strategy profile injected into the model prompt
  --execute        allow real orders; without it every order is simulated
`)
}

func initConfig(args []string) int {
	path := "config.yaml"
	if len(args) > 0 {
		path = args[0]
	}
	if err := config.GenerateSample(path); err != nil {
		fmt.Fprintf(os.Stderr, "init-config: %v\n", err)
		return exitError
	}
	fmt.Printf("sample configuration written to %s\n", path)
	return exitOK
}

func runAgent(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	strategy := fs.String("strategy", "", "strategy profile tag")
	execute := fs.Bool("execute", false, "allow real orders")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "run: --config is required")
		return exitError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return exitError
	}

	log, err := logging.New(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Live trading requires all three consents: the --execute flag, the
	// config master switch, and dry-run mode off.
	dryRun := true
	switch {
	case !*execute:
		log.Info().Msg("--execute not set, all orders will be simulated")
	case !cfg.Trading.Safety.RealTradingEnabled:
		log.Warn().Msg("trading.safety.realTradingEnabled is false, all orders will be simulated")
	case cfg.Trading.Mode.DryRun:
		log.Warn().Msg("trading.mode.dryRun is true, all orders will be simulated")
	default:
		dryRun = false
		log.Warn().Msg("LIVE TRADING ENABLED: orders will reach the exchange")
	}

	apiKey, apiSecret := cfg.APIs.Exchange.APIKey, cfg.APIs.Exchange.APISecret
	if cfg.APIs.Exchange.VaultPath != "" {
		vc, err := vault.NewClient(cfg.Vault)
		if err != nil {
			log.Error().Err(err).Msg("vault client setup failed")
			return exitError
		}
		creds, err := vc.ReadCredentials(ctx, cfg.APIs.Exchange.VaultPath)
		if err != nil {
			log.Error().Err(err).Msg("vault credential read failed")
			return exitError
		}
		apiKey, apiSecret = creds.APIKey, creds.SecretKey
		log.Info().Str("path", cfg.APIs.Exchange.VaultPath).Msg("exchange credentials loaded from vault")
	}

	if err := risk.ValidateCredentials(apiKey, apiSecret, cfg.APIs.Exchange.Testnet, log); err != nil {
		log.Error().Err(err).Msg("credential validation failed")
		return exitError
	}

	audit, err := history.NewLogger(cfg.History.Dir, logging.Component(log, "history"))
	if err != nil {
		log.Error().Err(err).Msg("audit trail setup failed")
		return exitError
	}

	client := binance.NewRESTClient(apiKey, apiSecret, cfg.APIs.Exchange.Testnet, logging.Component(log, "binance"))
	client.SetAlarmHook(audit.Alarm)
	filters := binance.NewFilterCache(client)

	cacheStore := cache.New(cfg.Cache.RedisURL, logging.Component(log, "cache"))
	defer cacheStore.Close()

	st, err := store.New(ctx, cfg.Database.URL, logging.Component(log, "store"))
	if err != nil {
		// The store is analytics, not safety: degrade instead of refusing
		// to trade.
		log.Warn().Err(err).Msg("decision store unavailable, continuing without persistence")
		st = nil
	}
	defer st.Close()

	assembler := market.NewAssembler(client, cacheStore, cfg.Cache.KlineTTL,
		cfg.Runtime.SnapshotConcurrency, cfg.Runtime.SnapshotTimeout, logging.Component(log, "market"))

	llmClient := llm.NewClient(llm.ClientConfig{
		BaseURL: cfg.APIs.LLM.BaseURL,
		APIKey:  cfg.APIs.LLM.APIKey,
		Model:   cfg.APIs.LLM.Model,
	}, logging.Component(log, "llm"))

	normalizer := decision.NewNormalizer(decision.Config{
		Symbols:           cfg.Trading.Symbols,
		MinConfidence:     cfg.Trading.Safety.MinConfidence,
		DefaultLeverage:   cfg.Trading.Futures.DefaultLeverage,
		DefaultUSDTAmount: cfg.Trading.PositionManagement.MaxPositionSize,
		StopLossPercent:   cfg.Trading.PositionManagement.StopLossPercent,
		TakeProfitPercent: cfg.Trading.PositionManagement.TakeProfitPercent,
		DefaultOrderType:  cfg.Trading.OrderSettings.DefaultOrderType,
	}, logging.Component(log, "decision"))

	gate := risk.NewGate(cfg.Trading.Safety.PreTradeChecks, logging.Component(log, "risk"), audit.Alarm)

	executor := trader.NewExecutor(client, filters, trader.Config{
		DryRun:          dryRun,
		MaxWaitTime:     cfg.Trading.OrderSettings.LimitOrder.MaxWaitTime,
		PollInterval:    time.Second,
		MinNotionalUSDT: cfg.Trading.OrderSettings.MinNotionalUSDT,
	}, logging.Component(log, "trader"))

	reconciler := trader.NewReconciler(client, dryRun, logging.Component(log, "reconciler"))

	agent := bot.New(bot.Config{
		Symbols:         cfg.Trading.Symbols,
		Timeframes:      market.DefaultTimeframes,
		Strategy:        *strategy,
		Interval:        cfg.Runtime.AnalysisInterval,
		MaxRuntime:      cfg.Runtime.MaxRuntime,
		DryRun:          dryRun,
		MinConfidence:   cfg.Trading.Safety.MinConfidence,
		DefaultLeverage: cfg.Trading.Futures.DefaultLeverage,
	}, assembler, llmClient, normalizer, gate, executor, reconciler, audit, st, logging.Component(log, "bot"))

	if cfg.Dashboard.Enabled {
		dashboard := api.New(agent, st, logging.Component(log, "api"))
		go func() {
			if err := dashboard.Run(ctx, cfg.Dashboard.Listen); err != nil {
				log.Error().Err(err).Msg("dashboard stopped")
			}
		}()
	}

	if err := agent.Run(ctx); err != nil {
		log.Error().Err(err).Msg("trading session failed")
		return exitError
	}

	if ctx.Err() != nil {
		log.Info().Msg("stopped by signal")
		return exitInterrupt
	}
	return exitOK
}
