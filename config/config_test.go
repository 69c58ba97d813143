package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
apis:
  exchange:
    apiKey: "test-exchange-key"
    apiSecret: "test-exchange-secret"
  llm:
    apiKey: "test-llm-key"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !cfg.APIs.Exchange.Testnet {
		t.Error("testnet should default to true")
	}
	if cfg.Trading.Futures.DefaultLeverage != 3 {
		t.Errorf("default leverage = %d, want 3", cfg.Trading.Futures.DefaultLeverage)
	}
	if cfg.Trading.Safety.MinConfidence != 60 {
		t.Errorf("min confidence = %v, want 60", cfg.Trading.Safety.MinConfidence)
	}
	if cfg.Runtime.AnalysisInterval != 900*time.Second {
		t.Errorf("analysis interval = %v, want 900s", cfg.Runtime.AnalysisInterval)
	}
	if cfg.Trading.OrderSettings.LimitOrder.MaxWaitTime != 300*time.Second {
		t.Errorf("limit wait = %v, want 300s", cfg.Trading.OrderSettings.LimitOrder.MaxWaitTime)
	}
	if !cfg.Trading.Mode.DryRun {
		t.Error("dry run should default to true")
	}
	if cfg.Trading.Safety.RealTradingEnabled {
		t.Error("real trading should default to off")
	}
	if len(cfg.Trading.Symbols) == 0 {
		t.Error("default symbols missing")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  string
		wantSub string
	}{
		{
			name:    "leverage out of range",
			mutate:  "trading:\n  futures:\n    defaultLeverage: 200\n",
			wantSub: "defaultLeverage",
		},
		{
			name:    "stop loss out of range",
			mutate:  "trading:\n  positionManagement:\n    stopLossPercent: 1.5\n",
			wantSub: "stopLossPercent",
		},
		{
			name:    "confidence out of range",
			mutate:  "trading:\n  safety:\n    minConfidence: 150\n",
			wantSub: "minConfidence",
		},
		{
			name:    "bad order type",
			mutate:  "trading:\n  orderSettings:\n    defaultOrderType: STOP_LIMIT\n",
			wantSub: "defaultOrderType",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, minimalConfig+"\n"+tc.mutate))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), "config invalid") {
				t.Errorf("error not marked invalid: %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestValidateVaultPathRequiresVault(t *testing.T) {
	content := `
apis:
  exchange:
    apiKey: "k"
    vaultPath: "secret/data/trading/binance"
  llm:
    apiKey: "test-llm-key"
`
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "vault.enabled") {
		t.Errorf("expected vault.enabled error, got %v", err)
	}
}

func TestValidateRequiresCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, "apis:\n  llm:\n    apiKey: x\n"))
	if err == nil || !strings.Contains(err.Error(), "apiKey") {
		t.Errorf("expected missing exchange key error, got %v", err)
	}

	_, err = Load(writeConfig(t, "apis:\n  exchange:\n    apiKey: x\n"))
	if err == nil || !strings.Contains(err.Error(), "llm") {
		t.Errorf("expected missing llm key error, got %v", err)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("FUTURES_TRADING_SAFETY_MINCONFIDENCE", "75")
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Trading.Safety.MinConfidence != 75 {
		t.Errorf("min confidence = %v, want env override 75", cfg.Trading.Safety.MinConfidence)
	}
}

func TestGenerateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.yaml")
	if err := GenerateSample(path); err != nil {
		t.Fatalf("generate: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if !cfg.Trading.Mode.DryRun {
		t.Error("sample must default to dry run")
	}

	if err := GenerateSample(path); err == nil {
		t.Error("expected refusal to overwrite existing file")
	}
}
