package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/hivemind/internal/bus"
	"github.com/nexus-trading/hivemind/internal/config"
	"github.com/nexus-trading/hivemind/internal/solana"
)

func main() {
	configPath := flag.String("config", "config/hivemind.yaml", "path to config file")
	stubMode := flag.Bool("stub", false, "use the stub RPC client and AI provider; implies dry run")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *stubMode {
		cfg.General.DryRun = true
	}

	setupLogging(cfg.General)

	log.Info().
		Str("instance", cfg.General.InstanceID).
		Str("env", cfg.General.Environment).
		Bool("dry_run", cfg.General.DryRun).
		Bool("stub", *stubMode).
		Int("wallets", len(cfg.Wallets)).
		Msg("HIVEMIND trading engine starting")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := build(ctx, cfg, *stubMode)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	// Components that run until ctx is cancelled.
	if app.kafkaQueue != nil {
		app.kafkaQueue.Start(ctx)
	}
	if app.journal != nil {
		app.journal.Start(ctx)
	}
	if err := app.scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("scheduler start failed")
	}
	if app.watcher != nil {
		go watchActivity(ctx, app)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           app.routes(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server started (metrics + health + control)")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Kick off the first scans without waiting a full interval.
	app.scheduler.Tick(ctx, bus.CycleMonitor)
	app.scheduler.Tick(ctx, bus.CycleDeepScan)

	log.Info().Msg("HIVEMIND running")
	<-ctx.Done()

	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = server.Shutdown(shutdownCtx)
	shutdownCancel()

	// In-flight cycles finish before the stores they write to are closed.
	app.scheduler.Stop()
	app.close()

	st := app.scheduler.Stats()
	log.Info().
		Int64("enqueued", st.Enqueued).
		Int64("completed", st.Completed).
		Int64("failed", st.Failed).
		Int64("skipped", st.Skipped).
		Int64("panics", st.Panics).
		Msg("HIVEMIND - final statistics")
	log.Info().Msg("HIVEMIND - shutdown complete")
}

// watchActivity runs a monitor cycle for every wallet touched by a landed
// transaction, so positions sold or transferred outside the engine are
// reconciled without waiting for the next tick.
func watchActivity(ctx context.Context, app *application) {
	for act := range app.watcher.Start(ctx) {
		if act.Failed {
			continue
		}
		log.Debug().
			Str("wallet", string(act.Wallet)).
			Str("sig", string(act.Signature)).
			Uint64("slot", act.Slot).
			Msg("wallet activity detected")
		if err := app.scheduler.Trigger(ctx, bus.CycleMonitor, string(act.Wallet)); err != nil {
			log.Warn().Err(err).Str("wallet", string(act.Wallet)).Msg("monitor trigger dropped")
		}
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "hivemind").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "hivemind").
			Str("instance", general.InstanceID).Logger()
	}
}

func pubkeys(wallets []config.WalletConfig) []solana.Pubkey {
	out := make([]solana.Pubkey, 0, len(wallets))
	for _, w := range wallets {
		if w.Enabled {
			out = append(out, solana.Pubkey(w.Address))
		}
	}
	return out
}
