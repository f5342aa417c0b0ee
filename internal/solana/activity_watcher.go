package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Wallet activity watcher: logsSubscribe with mentions=[wallet]
// Any transaction touching a managed wallet is reported so the engine can
// reconcile tracked positions with what is actually on-chain.
// ---------------------------------------------------------------------------

// WatcherConfig configures the activity watcher.
type WatcherConfig struct {
	WSEndpoint       string        `yaml:"ws_endpoint"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	MaxReconnectWait time.Duration `yaml:"max_reconnect_wait"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

// DefaultWatcherConfig returns mainnet defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		WSEndpoint:       "wss://api.mainnet-beta.solana.com",
		ReconnectDelay:   time.Second,
		MaxReconnectWait: 30 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// ActivityWatcher streams WalletActivity for a fixed set of wallets.
type ActivityWatcher struct {
	config  WatcherConfig
	wallets []Pubkey

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	pending map[int64]Pubkey // request id -> wallet
	subs    map[int64]Pubkey // subscription id -> wallet

	out    chan WalletActivity
	closed atomic.Bool

	nextReqID atomic.Int64

	messagesRecv atomic.Int64
	events       atomic.Int64
	reconnects   atomic.Int64
	connected    atomic.Bool
}

// NewActivityWatcher creates a watcher for the given wallets.
func NewActivityWatcher(config WatcherConfig, wallets []Pubkey) *ActivityWatcher {
	def := DefaultWatcherConfig()
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = def.ReconnectDelay
	}
	if config.MaxReconnectWait == 0 {
		config.MaxReconnectWait = def.MaxReconnectWait
	}
	if config.PingInterval == 0 {
		config.PingInterval = def.PingInterval
	}
	return &ActivityWatcher{
		config:  config,
		wallets: wallets,
		pending: make(map[int64]Pubkey),
		subs:    make(map[int64]Pubkey),
		out:     make(chan WalletActivity, 256),
	}
}

// Start runs the watcher until ctx is cancelled. The returned channel is
// closed when the watcher stops.
func (w *ActivityWatcher) Start(ctx context.Context) <-chan WalletActivity {
	go w.runLoop(ctx)
	return w.out
}

func (w *ActivityWatcher) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: watcher panic recovered")
		}
		w.mu.Lock()
		if w.closed.CompareAndSwap(false, true) {
			close(w.out)
		}
		w.mu.Unlock()
		w.disconnect()
	}()

	delay := w.config.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.connect(ctx); err != nil {
			log.Warn().Err(err).Dur("retry_in", delay).Msg("ws: connection failed")
			w.reconnects.Add(1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
			if delay > w.config.MaxReconnectWait {
				delay = w.config.MaxReconnectWait
			}
			continue
		}
		delay = w.config.ReconnectDelay

		for _, wallet := range w.wallets {
			if err := w.subscribe(wallet); err != nil {
				log.Warn().Err(err).Str("wallet", string(wallet)).Msg("ws: subscribe failed")
			}
		}

		w.readLoop(ctx)
		w.disconnect()
	}
}

func (w *ActivityWatcher) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.config.WSEndpoint, nil)
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.pending = make(map[int64]Pubkey)
	w.subs = make(map[int64]Pubkey)
	w.mu.Unlock()
	w.connected.Store(true)

	log.Info().Str("endpoint", w.config.WSEndpoint).Int("wallets", len(w.wallets)).Msg("ws: connected")
	return nil
}

func (w *ActivityWatcher) disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected.Store(false)
}

func (w *ActivityWatcher) subscribe(wallet Pubkey) error {
	w.mu.Lock()
	conn := w.conn
	id := w.nextReqID.Add(1)
	w.pending[id] = wallet
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ws: not connected")
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{string(wallet)}},
			map[string]any{"commitment": "confirmed"},
		},
	}

	w.writeMu.Lock()
	err := conn.WriteJSON(req)
	w.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("ws: write subscribe: %w", err)
	}
	return nil
}

func (w *ActivityWatcher) readLoop(ctx context.Context) {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return
	}

	// Close the socket on cancellation so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(w.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				w.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				w.writeMu.Unlock()
				if err != nil {
					log.Debug().Err(err).Msg("ws: ping failed")
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(2 * w.config.PingInterval))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("ws: read error, reconnecting")
			}
			w.connected.Store(false)
			return
		}
		w.messagesRecv.Add(1)
		w.handleMessage(message)
	}
}

type logsEnvelope struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params struct {
		Result struct {
			Value struct {
				Signature string `json:"signature"`
				Err       any    `json:"err"`
			} `json:"value"`
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
		} `json:"result"`
		Subscription int64 `json:"subscription"`
	} `json:"params"`
}

func (w *ActivityWatcher) handleMessage(data []byte) {
	var env logsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	// Subscription confirmation: map the server subscription id to a wallet.
	if env.ID != nil && env.Method == "" {
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err != nil {
			return
		}
		w.mu.Lock()
		if wallet, ok := w.pending[*env.ID]; ok {
			w.subs[subID] = wallet
			delete(w.pending, *env.ID)
			log.Debug().Int64("sub_id", subID).Str("wallet", string(wallet)).Msg("ws: subscription confirmed")
		}
		w.mu.Unlock()
		return
	}

	if env.Method != "logsNotification" {
		return
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	wallet, ok := w.subs[env.Params.Subscription]
	if !ok || w.closed.Load() {
		return
	}

	event := WalletActivity{
		Wallet:     wallet,
		Signature:  Signature(env.Params.Result.Value.Signature),
		Slot:       env.Params.Result.Context.Slot,
		Failed:     env.Params.Result.Value.Err != nil,
		DetectedAt: time.Now(),
	}

	select {
	case w.out <- event:
		w.events.Add(1)
	default:
		log.Warn().Str("wallet", string(wallet)).Msg("ws: activity channel full, dropping event")
	}
}

// WatcherStats returns watcher counters.
type WatcherStats struct {
	Connected    bool  `json:"connected"`
	MessagesRecv int64 `json:"messages_recv"`
	Events       int64 `json:"events"`
	Reconnects   int64 `json:"reconnects"`
}

func (w *ActivityWatcher) Stats() WatcherStats {
	return WatcherStats{
		Connected:    w.connected.Load(),
		MessagesRecv: w.messagesRecv.Load(),
		Events:       w.events.Load(),
		Reconnects:   w.reconnects.Load(),
	}
}
