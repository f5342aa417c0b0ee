package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ComponentStatus represents the health status of a component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the health report for a single component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	LatencyMs   int64           `json:"latency_ms"`
}

// SystemHealth is the aggregate health of the process.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	UptimeSec  int64                      `json:"uptime_sec"`
}

// HealthMonitor runs registered checks on demand. Status transitions are
// logged so a degraded provider or RPC endpoint shows up in the log stream.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	last      map[string]ComponentStatus
	startTime time.Time
	timeout   time.Duration
}

// NewHealthMonitor creates a monitor whose checks each get timeout.
func NewHealthMonitor(timeout time.Duration) *HealthMonitor {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		last:      make(map[string]ComponentStatus),
		startTime: time.Now(),
		timeout:   timeout,
	}
}

// Register adds a named health check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every registered check concurrently and aggregates the worst
// status.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results = make(map[string]ComponentHealth, len(checks))
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn HealthCheck) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			start := time.Now()
			h := fn(cctx)
			h.Name = name
			h.LastChecked = time.Now()
			h.LatencyMs = time.Since(start).Milliseconds()

			resMu.Lock()
			results[name] = h
			resMu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	worst := StatusHealthy
	m.mu.Lock()
	for name, h := range results {
		if prev, ok := m.last[name]; !ok || prev != h.Status {
			if h.Status != StatusHealthy || ok {
				log.Warn().Str("component", name).Str("status", string(h.Status)).
					Str("message", h.Message).Msg("health: status changed")
			}
			m.last[name] = h.Status
		}
		if severity(h.Status) > severity(worst) {
			worst = h.Status
		}
	}
	m.mu.Unlock()

	return SystemHealth{
		Status:     worst,
		Components: results,
		Timestamp:  time.Now(),
		UptimeSec:  int64(time.Since(m.startTime).Seconds()),
	}
}

// Handler serves the aggregate health as JSON; unhealthy returns 503.
func (m *HealthMonitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if h.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
}

// FromError maps a probe error to a component health.
func FromError(err error, degraded bool) ComponentHealth {
	if err == nil {
		return ComponentHealth{Status: StatusHealthy}
	}
	status := StatusUnhealthy
	if degraded {
		status = StatusDegraded
	}
	return ComponentHealth{Status: status, Message: err.Error()}
}

func severity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}
