package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for HIVEMIND.
type Config struct {
	General   GeneralConfig    `yaml:"general"`
	Solana    SolanaConfig     `yaml:"solana"`
	Wallets   []WalletConfig   `yaml:"wallets"`
	Providers []ProviderConfig `yaml:"providers"`
	Market    MarketConfig     `yaml:"market"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Risk      RiskConfig       `yaml:"risk"`
	Strategy  StrategyConfig   `yaml:"strategy"`
	Executor  ExecutorConfig   `yaml:"executor"`
	Storage   StorageConfig    `yaml:"storage"`
	Kafka     KafkaConfig      `yaml:"kafka"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	DryRun      bool   `yaml:"dry_run"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type SolanaConfig struct {
	RPCEndpoint   string  `yaml:"rpc_endpoint"`
	WSEndpoint    string  `yaml:"ws_endpoint"`
	RateLimitRPS  float64 `yaml:"rate_limit_rps"`
	FeeReserveSOL float64 `yaml:"fee_reserve_sol"`
	WatchActivity bool    `yaml:"watch_activity"`
}

// WalletConfig registers a managed wallet. The secret key is read from the
// named environment variable; storage of keys at rest is handled elsewhere.
type WalletConfig struct {
	Address        string  `yaml:"address"`
	SecretKeyEnv   string  `yaml:"secret_key_env"`
	TotalBudgetSOL float64 `yaml:"total_budget_sol"`
	Enabled        bool    `yaml:"enabled"`
	BypassDrawdown bool    `yaml:"bypass_drawdown"`
	BuybackEnabled bool    `yaml:"buyback_enabled"`
	BuybackPercent float64 `yaml:"buyback_percent"`
}

// ProviderConfig describes one AI completion provider. Order in the list is
// the fallback order.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Tier    string        `yaml:"tier"` // fast|full
	Timeout time.Duration `yaml:"timeout"`
}

type MarketConfig struct {
	DexScreenerURL  string             `yaml:"dexscreener_url"`
	JupiterTokenURL string             `yaml:"jupiter_token_url"`
	SourceTimeout   time.Duration      `yaml:"source_timeout"`
	CandidateTTL    time.Duration      `yaml:"candidate_ttl"`
	PriceTTL        time.Duration      `yaml:"price_ttl"`
	Blacklist       []string           `yaml:"blacklist"`
	ScoreWeights    ScoreWeightsConfig `yaml:"score_weights"`
}

// ScoreWeightsConfig mirrors market.ScoreWeights. Zero values fall back to
// the package defaults.
type ScoreWeightsConfig struct {
	BuyPressure     float64 `yaml:"buy_pressure"`
	Activity        float64 `yaml:"activity"`
	Turnover        float64 `yaml:"turnover"`
	Liquidity       float64 `yaml:"liquidity"`
	Volume          float64 `yaml:"volume"`
	Momentum        float64 `yaml:"momentum"`
	Holders         float64 `yaml:"holders"`
	SourceBlendRate float64 `yaml:"source_blend_rate"`
}

type SchedulerConfig struct {
	QuickScanInterval time.Duration `yaml:"quick_scan_interval"`
	DeepScanInterval  time.Duration `yaml:"deep_scan_interval"`
	MonitorInterval   time.Duration `yaml:"monitor_interval"`
	RebalanceInterval time.Duration `yaml:"rebalance_interval"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queue_size"`
	Queue             string        `yaml:"queue"` // local|kafka
	StateIdleTTL      time.Duration `yaml:"state_idle_ttl"`
	QuickScanTopN     int           `yaml:"quick_scan_top_n"`
	DeepScanTopN      int           `yaml:"deep_scan_top_n"`
}

type RiskConfig struct {
	MaxConcentrationPct float64 `yaml:"max_concentration_pct"`
	DrawdownPausePct    float64 `yaml:"drawdown_pause_pct"`
	DrawdownResumePct   float64 `yaml:"drawdown_resume_pct"`
	MinTradeSOL         float64 `yaml:"min_trade_sol"`
	MaxSellFailures     int     `yaml:"max_sell_failures"`
	IlliquidUSD         float64 `yaml:"illiquid_usd"`
	SlippageBps         int     `yaml:"slippage_bps"`
}

type StrategyConfig struct {
	Generator         string        `yaml:"generator"` // ai|rules
	Validity          time.Duration `yaml:"validity"`
	RegenerateAfter   time.Duration `yaml:"regenerate_after"`
	MinOrganicScore   float64       `yaml:"min_organic_score"`
	MaxBudgetPerTrade float64       `yaml:"max_budget_per_trade_sol"`
	PerformanceWindow time.Duration `yaml:"performance_window"`
}

type ExecutorConfig struct {
	PrimaryQuoteURL   string        `yaml:"primary_quote_url"`
	SecondaryQuoteURL string        `yaml:"secondary_quote_url"`
	Timeout           time.Duration `yaml:"timeout"`
	PriorityFeeLamps  uint64        `yaml:"priority_fee_lamports"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory|postgres
	PostgresDSN string `yaml:"postgres_dsn"`
	ClickHouse  string `yaml:"clickhouse_dsn"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	Enabled     bool     `yaml:"enabled"`
	TopicPrefix string   `yaml:"topic_prefix"`
	GroupID     string   `yaml:"group_id"`
}

type MetricsConfig struct {
	Port    int  `yaml:"port"`
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "hivemind-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	if cfg.Solana.RPCEndpoint == "" {
		cfg.Solana.RPCEndpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.WSEndpoint == "" {
		cfg.Solana.WSEndpoint = "wss://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.RateLimitRPS == 0 {
		cfg.Solana.RateLimitRPS = 10
	}
	if cfg.Solana.FeeReserveSOL == 0 {
		cfg.Solana.FeeReserveSOL = 0.02
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Tier == "" {
			p.Tier = "full"
		}
		if p.Timeout == 0 {
			p.Timeout = 20 * time.Second
		}
	}

	if cfg.Market.DexScreenerURL == "" {
		cfg.Market.DexScreenerURL = "https://api.dexscreener.com"
	}
	if cfg.Market.JupiterTokenURL == "" {
		cfg.Market.JupiterTokenURL = "https://lite-api.jup.ag/tokens/v2"
	}
	if cfg.Market.SourceTimeout == 0 {
		cfg.Market.SourceTimeout = 10 * time.Second
	}
	if cfg.Market.CandidateTTL == 0 {
		cfg.Market.CandidateTTL = 15 * time.Minute
	}
	if cfg.Market.PriceTTL == 0 {
		cfg.Market.PriceTTL = time.Minute
	}

	s := &cfg.Scheduler
	if s.QuickScanInterval == 0 {
		s.QuickScanInterval = 3 * time.Minute
	}
	if s.DeepScanInterval == 0 {
		s.DeepScanInterval = 15 * time.Minute
	}
	if s.MonitorInterval == 0 {
		s.MonitorInterval = 2 * time.Minute
	}
	if s.RebalanceInterval == 0 {
		s.RebalanceInterval = 30 * time.Minute
	}
	if s.CleanupInterval == 0 {
		s.CleanupInterval = time.Hour
	}
	if s.Workers == 0 {
		s.Workers = 4
	}
	if s.QueueSize == 0 {
		s.QueueSize = 256
	}
	if s.Queue == "" {
		s.Queue = "local"
	}
	if s.StateIdleTTL == 0 {
		s.StateIdleTTL = 24 * time.Hour
	}
	if s.QuickScanTopN == 0 {
		s.QuickScanTopN = 5
	}
	if s.DeepScanTopN == 0 {
		s.DeepScanTopN = 10
	}

	r := &cfg.Risk
	if r.MaxConcentrationPct == 0 {
		r.MaxConcentrationPct = 25
	}
	if r.DrawdownPausePct == 0 {
		r.DrawdownPausePct = 80
	}
	if r.DrawdownResumePct == 0 {
		r.DrawdownResumePct = 85
	}
	if r.MinTradeSOL == 0 {
		r.MinTradeSOL = 0.01
	}
	if r.MaxSellFailures == 0 {
		r.MaxSellFailures = 3
	}
	if r.IlliquidUSD == 0 {
		r.IlliquidUSD = 1000
	}
	if r.SlippageBps == 0 {
		r.SlippageBps = 300
	}

	st := &cfg.Strategy
	if st.Generator == "" {
		st.Generator = "ai"
	}
	if st.Validity == 0 {
		st.Validity = 6 * time.Hour
	}
	if st.RegenerateAfter == 0 {
		st.RegenerateAfter = 3 * time.Hour
	}
	if st.MinOrganicScore == 0 {
		st.MinOrganicScore = 70
	}
	if st.MaxBudgetPerTrade == 0 {
		st.MaxBudgetPerTrade = 1
	}
	if st.PerformanceWindow == 0 {
		st.PerformanceWindow = 24 * time.Hour
	}

	if cfg.Executor.PrimaryQuoteURL == "" {
		cfg.Executor.PrimaryQuoteURL = "https://quote-api.jup.ag/v6"
	}
	if cfg.Executor.SecondaryQuoteURL == "" {
		cfg.Executor.SecondaryQuoteURL = "https://lite-api.jup.ag/swap/v1"
	}
	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = 60 * time.Second
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.TopicPrefix == "" {
		cfg.Kafka.TopicPrefix = "hivemind"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "hivemind-workers"
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Wallets) == 0 {
		errs = append(errs, errors.New("at least one wallet must be configured"))
	}
	seen := make(map[string]bool, len(c.Wallets))
	for i, w := range c.Wallets {
		if w.Address == "" {
			errs = append(errs, fmt.Errorf("wallets[%d]: address is required", i))
		}
		if seen[w.Address] {
			errs = append(errs, fmt.Errorf("wallets[%d]: duplicate address %s", i, w.Address))
		}
		seen[w.Address] = true
		if w.TotalBudgetSOL <= 0 {
			errs = append(errs, fmt.Errorf("wallets[%d]: total_budget_sol must be positive", i))
		}
		if w.BuybackPercent < 0 || w.BuybackPercent > 100 {
			errs = append(errs, fmt.Errorf("wallets[%d]: buyback_percent must be in [0,100]", i))
		}
		if !c.General.DryRun && w.SecretKeyEnv == "" {
			errs = append(errs, fmt.Errorf("wallets[%d]: secret_key_env is required outside dry run", i))
		}
	}

	for i, p := range c.Providers {
		if p.Name == "" || p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name and base_url are required", i))
		}
		if p.Tier != "fast" && p.Tier != "full" {
			errs = append(errs, fmt.Errorf("providers[%d]: tier must be fast or full, got %q", i, p.Tier))
		}
	}

	if c.Strategy.Generator != "ai" && c.Strategy.Generator != "rules" {
		errs = append(errs, fmt.Errorf("strategy.generator must be ai or rules, got %q", c.Strategy.Generator))
	}
	if c.Strategy.RegenerateAfter >= c.Strategy.Validity {
		errs = append(errs, errors.New("strategy.regenerate_after must be shorter than strategy.validity"))
	}
	if c.Risk.DrawdownResumePct <= c.Risk.DrawdownPausePct {
		errs = append(errs, errors.New("risk.drawdown_resume_pct must exceed risk.drawdown_pause_pct"))
	}
	if c.Storage.Driver != "memory" && c.Storage.Driver != "postgres" {
		errs = append(errs, fmt.Errorf("storage.driver must be memory or postgres, got %q", c.Storage.Driver))
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
	}
	if c.Scheduler.Queue != "local" && c.Scheduler.Queue != "kafka" {
		errs = append(errs, fmt.Errorf("scheduler.queue must be local or kafka, got %q", c.Scheduler.Queue))
	}
	if c.Scheduler.Queue == "kafka" && !c.Kafka.Enabled {
		errs = append(errs, errors.New("scheduler.queue=kafka requires kafka.enabled"))
	}

	return errors.Join(errs...)
}

// FastProviders reports whether any provider is tagged for the fast tier.
func (c *Config) FastProviders() bool {
	for _, p := range c.Providers {
		if p.Tier == "fast" {
			return true
		}
	}
	return false
}
