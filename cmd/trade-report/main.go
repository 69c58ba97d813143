package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"futures-llm-trader/config"
	"futures-llm-trader/internal/logging"
	"futures-llm-trader/internal/store"
)

// trade-report prints the most recent persisted decisions from the decision
// store, grouped by cycle, for a quick look at what the agent has been
// doing without tailing the audit files.
func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file")
	limit := flag.Int("limit", 50, "number of decisions to show")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "trade-report: --config is required")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trade-report: %v\n", err)
		return 1
	}
	if cfg.Database.URL == "" {
		fmt.Fprintln(os.Stderr, "trade-report: database.url is not configured")
		return 1
	}

	log, err := logging.New(logging.Options{Level: "warn"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "trade-report: %v\n", err)
		return 1
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database.URL, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trade-report: %v\n", err)
		return 1
	}
	defer st.Close()

	rows, err := st.RecentDecisions(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trade-report: %v\n", err)
		return 1
	}
	if len(rows) == 0 {
		fmt.Println("no decisions recorded yet")
		return 0
	}

	currentCycle := ""
	for _, r := range rows {
		if r.CycleID != currentCycle {
			currentCycle = r.CycleID
			fmt.Printf("\ncycle %s (%s)\n", shortID(r.CycleID), r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		status := "skipped"
		if r.Executed {
			status = "executed"
		}
		fmt.Printf("  %-10s %-14s conf %5.1f risk %4.1f  %s", r.Symbol, r.Action, r.Confidence, r.RiskScore, status)
		if r.SkipReason != "" {
			fmt.Printf(" (%s)", r.SkipReason)
		}
		fmt.Println()
	}
	return 0
}

func shortID(id string) string {
	if i := strings.Index(id, "-"); i > 0 {
		return id[:i]
	}
	return id
}
