package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/hivemind/internal/audit"
	"github.com/nexus-trading/hivemind/internal/bus"
	"github.com/nexus-trading/hivemind/internal/clickhouse"
	"github.com/nexus-trading/hivemind/internal/config"
	"github.com/nexus-trading/hivemind/internal/engine"
	"github.com/nexus-trading/hivemind/internal/executor"
	"github.com/nexus-trading/hivemind/internal/intel"
	"github.com/nexus-trading/hivemind/internal/market"
	"github.com/nexus-trading/hivemind/internal/observability"
	"github.com/nexus-trading/hivemind/internal/position"
	"github.com/nexus-trading/hivemind/internal/risk"
	"github.com/nexus-trading/hivemind/internal/rotation"
	"github.com/nexus-trading/hivemind/internal/scheduler"
	"github.com/nexus-trading/hivemind/internal/solana"
	"github.com/nexus-trading/hivemind/internal/storage"
	"github.com/nexus-trading/hivemind/internal/storage/memory"
	"github.com/nexus-trading/hivemind/internal/storage/migrations"
	"github.com/nexus-trading/hivemind/internal/storage/postgres"
	"github.com/nexus-trading/hivemind/internal/strategy"
)

// application holds every long-lived component of the process.
type application struct {
	health    *observability.HealthMonitor
	guard     *risk.Guard
	positions *position.Store
	ai        *intel.Client
	market    *market.Cache
	trail     *audit.Trail
	engine    *engine.Engine
	scheduler *scheduler.Scheduler

	liveRPC    *solana.LiveRPCClient
	pool       *postgres.Pool
	chClient   *clickhouse.Client
	journal    *clickhouse.Journal
	producer   *bus.KafkaProducer
	kafkaQueue *bus.KafkaQueue
	watcher    *solana.ActivityWatcher
}

type repositories struct {
	wallets    storage.WalletRepository
	positions  position.Repository
	strategies strategy.Repository
	trades     storage.TradeLog
}

func build(ctx context.Context, cfg *config.Config, stub bool) (*application, error) {
	app := &application{health: observability.NewHealthMonitor(5 * time.Second)}

	// 1. Solana RPC.
	var rpc solana.RPCClient
	if stub {
		rpc = solana.NewStubRPCClient()
		log.Info().Msg("using stub RPC client")
	} else {
		rpcCfg := solana.DefaultRPCConfig()
		rpcCfg.Endpoint = cfg.Solana.RPCEndpoint
		rpcCfg.WSEndpoint = cfg.Solana.WSEndpoint
		rpcCfg.RateLimitRPS = cfg.Solana.RateLimitRPS
		app.liveRPC = solana.NewLiveRPCClient(rpcCfg)
		rpc = app.liveRPC

		healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Msg("RPC health check failed (continuing)")
		} else {
			log.Info().Str("endpoint", rpcCfg.Endpoint).Msg("RPC connected")
		}
		cancel()
		app.health.Register("solana_rpc", func(ctx context.Context) observability.ComponentHealth {
			return observability.FromError(rpc.Health(ctx), true)
		})
	}

	// 2. Persistence.
	repos, err := app.openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := syncWallets(ctx, repos.wallets, cfg.Wallets, time.Now()); err != nil {
		return nil, err
	}
	app.positions = position.NewStore(repos.positions)

	// 3. Event bus and job queue.
	topics := bus.TopicNaming{Prefix: cfg.Kafka.TopicPrefix}
	var queue bus.JobQueue = bus.NewLocalQueue(cfg.Scheduler.QueueSize)
	if cfg.Kafka.Enabled {
		app.producer, err = bus.NewProducer(cfg.Kafka.Brokers, bus.WithInstanceID(cfg.General.InstanceID))
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		if cfg.Scheduler.Queue == "kafka" {
			consumer, err := bus.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, []string{topics.Jobs()})
			if err != nil {
				return nil, fmt.Errorf("kafka consumer: %w", err)
			}
			app.kafkaQueue = bus.NewKafkaQueue(app.producer, consumer, topics.Jobs(), cfg.Scheduler.QueueSize)
			queue = app.kafkaQueue
		}
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("queue", cfg.Scheduler.Queue).Msg("kafka enabled")
	}

	// 4. Audit trail with optional analytics journal.
	trailOpts := []audit.Option{}
	if app.producer != nil {
		trailOpts = append(trailOpts, audit.WithProducer(app.producer, topics))
	}
	if cfg.Storage.ClickHouse != "" {
		app.chClient, err = clickhouse.NewClient(cfg.Storage.ClickHouse)
		if err != nil {
			return nil, err
		}
		if err := app.chClient.EnsureSchema(ctx, ""); err != nil {
			return nil, err
		}
		app.journal = clickhouse.NewJournal(app.chClient, "", 500, 10*time.Second)
		trailOpts = append(trailOpts, audit.WithJournal(app.journal))
		app.health.Register("clickhouse", func(ctx context.Context) observability.ComponentHealth {
			return observability.FromError(app.chClient.Ping(ctx), true)
		})
	}
	app.trail = audit.NewTrail(repos.trades, 10_000, trailOpts...)

	// 5. AI providers.
	var providers []intel.Provider
	if stub {
		providers = append(providers, intel.NewStubProvider("stub", intel.TierFull,
			`{"action":"hold","confidence":50,"reasoning":"stub provider"}`))
	}
	for _, p := range cfg.Providers {
		providers = append(providers, intel.NewOpenAIProvider(p))
	}
	if len(providers) == 0 {
		log.Warn().Msg("no AI providers configured, every analysis will be a hold")
	} else if !stub && !cfg.FastProviders() {
		log.Info().Msg("no fast-tier providers, fast analyses use the full tier")
	}
	aiCfg := intel.DefaultClientConfig()
	aiCfg.CacheTTL = cfg.Market.CandidateTTL * 2
	app.ai = intel.NewClient(aiCfg, providers...)

	// 6. Market data.
	cache := market.NewCache(market.CacheConfig{
		SourceTimeout: cfg.Market.SourceTimeout,
		CandidateTTL:  cfg.Market.CandidateTTL,
		PriceTTL:      cfg.Market.PriceTTL,
		Blacklist:     cfg.Market.Blacklist,
		Weights:       market.WeightsFromConfig(cfg.Market.ScoreWeights),
	},
		market.NewDexScreenerSource(cfg.Market.DexScreenerURL, cfg.Market.SourceTimeout),
		market.NewJupiterTokenSource(cfg.Market.JupiterTokenURL, cfg.Market.SourceTimeout),
	)
	app.market = cache

	// 7. Strategy store.
	var generator strategy.Generator = strategy.RuleGenerator{}
	if cfg.Strategy.Generator == "ai" {
		generator = strategy.NewAIGenerator(app.ai)
	}
	strategies := strategy.NewService(strategy.ServiceConfig{
		Validity:          cfg.Strategy.Validity,
		RegenerateAfter:   cfg.Strategy.RegenerateAfter,
		PerformanceWindow: cfg.Strategy.PerformanceWindow,
		MinOrganicScore:   cfg.Strategy.MinOrganicScore,
		MaxBudgetPerTrade: decimal.NewFromFloat(cfg.Strategy.MaxBudgetPerTrade),
	}, repos.strategies, generator, repos.trades)

	// 8. Risk.
	app.guard = risk.New(risk.Config{
		MaxConcentrationPct: cfg.Risk.MaxConcentrationPct,
		DrawdownPausePct:    cfg.Risk.DrawdownPausePct,
		DrawdownResumePct:   cfg.Risk.DrawdownResumePct,
		MinTradeSOL:         decimal.NewFromFloat(cfg.Risk.MinTradeSOL),
	})

	// 9. Execution.
	var (
		trader   executor.TradeExecutor
		balances engine.BalanceReader
	)
	if cfg.General.DryRun {
		trader = executor.NewPaperExecutor(cache, cfg.Risk.SlippageBps)
	} else {
		router, err := buildRouter(cfg, rpc)
		if err != nil {
			return nil, err
		}
		trader = router
		balances = rpc
	}

	// 10. Engine and scheduler.
	app.engine = engine.New(engine.Config{
		QuickScanTopN:   cfg.Scheduler.QuickScanTopN,
		DeepScanTopN:    cfg.Scheduler.DeepScanTopN,
		SlippageBps:     cfg.Risk.SlippageBps,
		MaxSellFailures: cfg.Risk.MaxSellFailures,
		IlliquidUSD:     cfg.Risk.IlliquidUSD,
		FeeReserveSOL:   decimal.NewFromFloat(cfg.Solana.FeeReserveSOL),
		StateIdleTTL:    cfg.Scheduler.StateIdleTTL,
	}, engine.Deps{
		Wallets:    repos.wallets,
		Positions:  app.positions,
		Strategies: strategies,
		Market:     cache,
		Advisor:    app.ai,
		Risk:       app.guard,
		Rotation:   rotation.New(rotation.DefaultConfig()),
		Executor:   trader,
		Audit:      app.trail,
		Balances:   balances,
	})

	app.scheduler = scheduler.New(scheduler.Config{
		Intervals: map[bus.Cycle]time.Duration{
			bus.CycleQuickScan: cfg.Scheduler.QuickScanInterval,
			bus.CycleDeepScan:  cfg.Scheduler.DeepScanInterval,
			bus.CycleMonitor:   cfg.Scheduler.MonitorInterval,
			bus.CycleRebalance: cfg.Scheduler.RebalanceInterval,
			bus.CycleCleanup:   cfg.Scheduler.CleanupInterval,
		},
		Workers: cfg.Scheduler.Workers,
	}, app.engine, queue)

	// 11. On-chain activity. Paper holdings never appear on-chain.
	if cfg.Solana.WatchActivity && !cfg.General.DryRun {
		wcfg := solana.DefaultWatcherConfig()
		wcfg.WSEndpoint = cfg.Solana.WSEndpoint
		app.watcher = solana.NewActivityWatcher(wcfg, pubkeys(cfg.Wallets))
	}

	return app, nil
}

func (app *application) openStorage(ctx context.Context, cfg config.StorageConfig) (repositories, error) {
	if cfg.Driver != "postgres" {
		log.Warn().Msg("using in-memory storage, state is lost on restart")
		return repositories{
			wallets:    memory.NewWalletStore(),
			positions:  memory.NewPositionStore(),
			strategies: memory.NewStrategyStore(),
			trades:     memory.NewTradeLog(),
		}, nil
	}

	if err := migrations.RunPostgres(cfg.PostgresDSN); err != nil {
		return repositories{}, err
	}
	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return repositories{}, err
	}
	app.pool = pool
	app.health.Register("postgres", func(ctx context.Context) observability.ComponentHealth {
		return observability.FromError(pool.Health(ctx), false)
	})
	return repositories{
		wallets:    postgres.NewWalletStore(pool),
		positions:  postgres.NewPositionStore(pool),
		strategies: postgres.NewStrategyStore(pool),
		trades:     postgres.NewTradeLog(pool),
	}, nil
}

// buildRouter creates the primary and secondary Jupiter routes and registers
// a signer for every enabled wallet on both.
func buildRouter(cfg *config.Config, rpc solana.RPCClient) (*executor.Router, error) {
	primary := executor.NewJupiterRoute(executor.JupiterConfig{
		Name:        "jupiter-primary",
		BaseURL:     cfg.Executor.PrimaryQuoteURL,
		Timeout:     cfg.Executor.Timeout,
		PriorityFee: cfg.Executor.PriorityFeeLamps,
	}, rpc)
	secondary := executor.NewJupiterRoute(executor.JupiterConfig{
		Name:        "jupiter-secondary",
		BaseURL:     cfg.Executor.SecondaryQuoteURL,
		Timeout:     cfg.Executor.Timeout,
		PriorityFee: cfg.Executor.PriorityFeeLamps,
	}, rpc)

	for _, w := range cfg.Wallets {
		if !w.Enabled {
			continue
		}
		secret := os.Getenv(w.SecretKeyEnv)
		if secret == "" {
			return nil, fmt.Errorf("wallet %s: env %s is empty", w.Address, w.SecretKeyEnv)
		}
		signer, err := solana.NewKeypairSigner(secret)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", w.Address, err)
		}
		if string(signer.Pubkey()) != w.Address {
			return nil, fmt.Errorf("wallet %s: secret key belongs to %s", w.Address, signer.Pubkey())
		}
		primary.AddSigner(signer)
		secondary.AddSigner(signer)
	}
	return executor.NewRouter(primary, secondary), nil
}

// close releases external resources. The scheduler must be stopped first.
func (app *application) close() {
	if app.journal != nil {
		if err := app.journal.Close(); err != nil {
			log.Error().Err(err).Msg("journal close failed")
		}
	}
	if app.chClient != nil {
		_ = app.chClient.Close()
	}
	if app.producer != nil {
		if err := app.producer.Flush(5 * time.Second); err != nil {
			log.Warn().Err(err).Msg("kafka flush failed")
		}
		app.producer.Close()
	}
	if app.pool != nil {
		app.pool.Close()
	}
	if app.liveRPC != nil {
		app.liveRPC.Close()
	}
}
