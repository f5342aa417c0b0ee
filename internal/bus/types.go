package bus

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BaseEvent contains fields common to all events.
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	Producer      string    `json:"producer"`
	TraceID       string    `json:"trace_id,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with generated IDs.
func NewBaseEvent(producer, schemaVersion string) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now(),
		SchemaVersion: schemaVersion,
		Producer:      producer,
		TraceID:       uuid.New().String()[:16],
	}
}

// --- Trading Events ---

// TradeEvent mirrors one trade log entry.
type TradeEvent struct {
	BaseEvent
	Wallet         string          `json:"wallet"`
	Mint           string          `json:"mint"`
	Symbol         string          `json:"symbol"`
	Action         string          `json:"action"` // buy|rebuy|sell|force_close|sync_close|buyback
	Reason         string          `json:"reason"`
	AmountSOL      decimal.Decimal `json:"amount_sol"`
	TokenAmountRaw uint64          `json:"token_amount_raw"`
	PriceSOL       decimal.Decimal `json:"price_sol"`
	ProfitPercent  float64         `json:"profit_percent"`
	RealizedPnLSOL decimal.Decimal `json:"realized_pnl_sol"`
	Confidence     float64         `json:"confidence"`
	Mode           string          `json:"mode,omitempty"`
	Signature      string          `json:"signature,omitempty"`
	Route          string          `json:"route,omitempty"`
}

// --- Risk Events ---

type RiskDecision struct {
	BaseEvent
	Wallet      string          `json:"wallet"`
	Mint        string          `json:"mint"`
	Decision    string          `json:"decision"` // allow|deny
	SizeSOL     decimal.Decimal `json:"size_sol"`
	ReasonCodes []string        `json:"reason_codes"`
}

// DrawdownChange is emitted when a wallet's breaker pauses or resumes.
type DrawdownChange struct {
	BaseEvent
	Wallet       string          `json:"wallet"`
	Paused       bool            `json:"paused"`
	PortfolioSOL decimal.Decimal `json:"portfolio_sol"`
	PeakSOL      decimal.Decimal `json:"peak_sol"`
}

// --- Strategy Events ---

type StrategyUpdate struct {
	BaseEvent
	Wallet        string  `json:"wallet"`
	Version       int     `json:"version"`
	Source        string  `json:"source"`
	Sentiment     string  `json:"sentiment"`
	MinConfidence float64 `json:"min_confidence"`
	Reasoning     string  `json:"reasoning"`
}

// --- Heartbeat ---

type Heartbeat struct {
	BaseEvent
	Component string             `json:"component"`
	Status    string             `json:"status"` // healthy|degraded|unhealthy
	Uptime    time.Duration      `json:"uptime_seconds"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}
