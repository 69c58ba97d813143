package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration, loaded from a YAML file with
// FUTURES_* environment overrides (e.g. FUTURES_APIS_EXCHANGE_APIKEY).
type Config struct {
	APIs      APIsConfig      `mapstructure:"apis"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	History   HistoryConfig   `mapstructure:"history"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

type APIsConfig struct {
	Exchange ExchangeAPIConfig `mapstructure:"exchange"`
	LLM      LLMAPIConfig      `mapstructure:"llm"`
}

type ExchangeAPIConfig struct {
	APIKey    string `mapstructure:"apiKey"`
	APISecret string `mapstructure:"apiSecret"`
	Testnet   bool   `mapstructure:"testnet"`
	// VaultPath, when set, overrides APIKey/APISecret with a Vault KV lookup.
	VaultPath string `mapstructure:"vaultPath"`
}

type LLMAPIConfig struct {
	APIKey  string `mapstructure:"apiKey"`
	BaseURL string `mapstructure:"baseUrl"`
	Model   string `mapstructure:"model"`
}

type TradingConfig struct {
	Symbols            []string                 `mapstructure:"symbols"`
	Futures            FuturesConfig            `mapstructure:"futures"`
	PositionManagement PositionManagementConfig `mapstructure:"positionManagement"`
	Safety             SafetyConfig             `mapstructure:"safety"`
	OrderSettings      OrderSettingsConfig      `mapstructure:"orderSettings"`
	Mode               ModeConfig               `mapstructure:"mode"`
}

type FuturesConfig struct {
	DefaultLeverage int `mapstructure:"defaultLeverage"`
}

type PositionManagementConfig struct {
	MaxPositionSize   float64 `mapstructure:"maxPositionSize"`
	StopLossPercent   float64 `mapstructure:"stopLossPercent"`
	TakeProfitPercent float64 `mapstructure:"takeProfitPercent"`
}

type SafetyConfig struct {
	RealTradingEnabled bool                 `mapstructure:"realTradingEnabled"`
	MinConfidence      float64              `mapstructure:"minConfidence"`
	PreTradeChecks     PreTradeChecksConfig `mapstructure:"preTradeChecks"`
}

type PreTradeChecksConfig struct {
	CheckBalance      bool `mapstructure:"checkBalance"`
	CheckPriceAnomaly bool `mapstructure:"checkPriceAnomaly"`
	CheckLiquidity    bool `mapstructure:"checkLiquidity"`
}

type OrderSettingsConfig struct {
	DefaultOrderType string           `mapstructure:"defaultOrderType"`
	MinNotionalUSDT  float64          `mapstructure:"minNotionalUsdt"`
	LimitOrder       LimitOrderConfig `mapstructure:"limitOrder"`
}

type LimitOrderConfig struct {
	MaxWaitTime time.Duration `mapstructure:"maxWaitTime"`
}

type ModeConfig struct {
	DryRun bool `mapstructure:"dryRun"`
}

type RuntimeConfig struct {
	MaxRuntime          time.Duration `mapstructure:"maxRuntime"`
	AnalysisInterval    time.Duration `mapstructure:"analysisInterval"`
	SnapshotConcurrency int           `mapstructure:"snapshotConcurrency"`
	SnapshotTimeout     time.Duration `mapstructure:"snapshotTimeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type HistoryConfig struct {
	Dir string `mapstructure:"dir"`
}

type VaultConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
}

type CacheConfig struct {
	RedisURL string        `mapstructure:"redisUrl"`
	KlineTTL time.Duration `mapstructure:"klineTtl"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("FUTURES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("apis.exchange.testnet", true)
	v.SetDefault("apis.llm.baseUrl", "https://api.deepseek.com")
	v.SetDefault("apis.llm.model", "deepseek-reasoner")

	v.SetDefault("trading.symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	v.SetDefault("trading.futures.defaultLeverage", 3)
	v.SetDefault("trading.positionManagement.maxPositionSize", 1000.0)
	v.SetDefault("trading.positionManagement.stopLossPercent", 0.05)
	v.SetDefault("trading.positionManagement.takeProfitPercent", 0.15)
	v.SetDefault("trading.safety.realTradingEnabled", false)
	v.SetDefault("trading.safety.minConfidence", 60.0)
	v.SetDefault("trading.safety.preTradeChecks.checkBalance", true)
	v.SetDefault("trading.safety.preTradeChecks.checkPriceAnomaly", true)
	v.SetDefault("trading.safety.preTradeChecks.checkLiquidity", true)
	v.SetDefault("trading.orderSettings.defaultOrderType", "MARKET")
	v.SetDefault("trading.orderSettings.minNotionalUsdt", 5.0)
	v.SetDefault("trading.orderSettings.limitOrder.maxWaitTime", 300*time.Second)
	v.SetDefault("trading.mode.dryRun", true)

	v.SetDefault("runtime.maxRuntime", 24*time.Hour)
	v.SetDefault("runtime.analysisInterval", 900*time.Second)
	v.SetDefault("runtime.snapshotConcurrency", 8)
	v.SetDefault("runtime.snapshotTimeout", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("history.dir", ".")
	v.SetDefault("cache.klineTtl", 60*time.Second)
	v.SetDefault("dashboard.listen", ":8089")
}

// Validate rejects configurations the agent cannot safely start with.
func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("config invalid: trading.symbols is empty")
	}
	if c.Trading.Futures.DefaultLeverage < 1 || c.Trading.Futures.DefaultLeverage > 125 {
		return fmt.Errorf("config invalid: trading.futures.defaultLeverage %d out of range [1,125]", c.Trading.Futures.DefaultLeverage)
	}
	if c.Trading.PositionManagement.StopLossPercent <= 0 || c.Trading.PositionManagement.StopLossPercent >= 1 {
		return fmt.Errorf("config invalid: trading.positionManagement.stopLossPercent must be in (0,1)")
	}
	if c.Trading.PositionManagement.TakeProfitPercent <= 0 || c.Trading.PositionManagement.TakeProfitPercent >= 1 {
		return fmt.Errorf("config invalid: trading.positionManagement.takeProfitPercent must be in (0,1)")
	}
	if c.Trading.Safety.MinConfidence < 0 || c.Trading.Safety.MinConfidence > 100 {
		return fmt.Errorf("config invalid: trading.safety.minConfidence must be in [0,100]")
	}
	switch strings.ToUpper(c.Trading.OrderSettings.DefaultOrderType) {
	case "MARKET", "LIMIT":
	default:
		return fmt.Errorf("config invalid: trading.orderSettings.defaultOrderType %q", c.Trading.OrderSettings.DefaultOrderType)
	}
	if c.Trading.OrderSettings.LimitOrder.MaxWaitTime <= 0 {
		return fmt.Errorf("config invalid: trading.orderSettings.limitOrder.maxWaitTime must be positive")
	}
	if c.Runtime.AnalysisInterval <= 0 {
		return fmt.Errorf("config invalid: runtime.analysisInterval must be positive")
	}
	if c.Runtime.SnapshotConcurrency < 1 {
		return fmt.Errorf("config invalid: runtime.snapshotConcurrency must be >= 1")
	}
	if c.APIs.Exchange.VaultPath != "" && !c.Vault.Enabled {
		return fmt.Errorf("config invalid: apis.exchange.vaultPath set but vault.enabled is false")
	}
	if c.APIs.Exchange.VaultPath == "" && c.APIs.Exchange.APIKey == "" {
		return fmt.Errorf("config invalid: apis.exchange.apiKey is required")
	}
	if c.APIs.LLM.APIKey == "" {
		return fmt.Errorf("config invalid: apis.llm.apiKey is required")
	}
	return nil
}

const sampleConfig = `# Futures trading agent configuration
apis:
  exchange:
    apiKey: "your-exchange-api-key"
    apiSecret: "your-exchange-api-secret"
    testnet: true
    # vaultPath: "secret/data/trading/binance"   # optional, needs vault.enabled
  llm:
    apiKey: "your-llm-api-key"
    baseUrl: "https://api.deepseek.com"
    model: "deepseek-reasoner"

trading:
  symbols: [BTCUSDT, ETHUSDT, SOLUSDT]
  futures:
    defaultLeverage: 3
  positionManagement:
    maxPositionSize: 1000
    stopLossPercent: 0.05
    takeProfitPercent: 0.15
  safety:
    realTradingEnabled: false
    minConfidence: 60
    preTradeChecks:
      checkBalance: true
      checkPriceAnomaly: true
      checkLiquidity: true
  orderSettings:
    defaultOrderType: MARKET
    minNotionalUsdt: 5
    limitOrder:
      maxWaitTime: 300s
  mode:
    dryRun: true

runtime:
  maxRuntime: 24h
  analysisInterval: 900s
  snapshotConcurrency: 8
  snapshotTimeout: 60s

logging:
  level: info
  file: ""

history:
  dir: "."

vault:
  enabled: false
  address: "http://127.0.0.1:8200"
  token: ""

cache:
  redisUrl: ""
  klineTtl: 60s

database:
  url: ""

dashboard:
  enabled: false
  listen: ":8089"
`

// GenerateSample writes a commented sample configuration file.
func GenerateSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing file %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
