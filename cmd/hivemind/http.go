package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/hivemind/internal/config"
	"github.com/nexus-trading/hivemind/internal/observability"
)

func (app *application) routes(cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", observability.Handler())
	}
	mux.Handle("/health", app.health.Handler())

	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"scheduler": app.scheduler.Stats(),
			"ai":        app.ai.Stats(),
			"market":    app.market.Stats(),
			"risk":      app.guard.Stats(),
			"dry_run":   cfg.General.DryRun,
		})
	})

	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		all, err := app.positions.ListAll(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, all)
	})

	mux.HandleFunc("/audit", func(w http.ResponseWriter, r *http.Request) {
		if wallet := r.URL.Query().Get("wallet"); wallet != "" {
			writeJSON(w, app.trail.Query(wallet))
			return
		}
		writeJSON(w, app.trail.Entries())
	})

	// ── Control plane ──
	mux.HandleFunc("/control/pause", app.post(func() {
		app.guard.Freeze("operator")
	}))
	mux.HandleFunc("/control/resume", app.post(func() {
		app.guard.Resume()
	}))
	mux.HandleFunc("/control/kill", app.post(func() {
		app.guard.Kill()
	}))
	mux.HandleFunc("/control/status", func(w http.ResponseWriter, r *http.Request) {
		wallets, err := app.engine.EnabledWallets(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		daily := make(map[string]int, len(wallets))
		for _, wallet := range wallets {
			daily[wallet] = app.engine.DailyTrades(wallet)
		}
		writeJSON(w, map[string]any{
			"buys_active":  app.guard.IsActive(),
			"dry_run":      cfg.General.DryRun,
			"instance_id":  cfg.General.InstanceID,
			"daily_trades": daily,
		})
	})

	return mux
}

// post wraps a control action: POST only, answers with the resulting state.
func (app *application) post(action func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		action()
		log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("control action")
		writeJSON(w, app.guard.Stats())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}
