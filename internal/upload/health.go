package upload

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/your-org/eventsphere/internal/scanner"
)

const (
	statusUp       = "UP"
	statusDown     = "DOWN"
	statusDegraded = "DEGRADED"
)

// ScannerState reports the virus scanner lifecycle state.
type ScannerState interface {
	State() scanner.State
}

// Check pings one dependency.
type Check func(ctx context.Context) error

// Health aggregates dependency checks for /healthz.
type Health struct {
	Environment string
	Scanner     ScannerState
	Checks      map[string]Check
	Timeout     time.Duration
	started     time.Time
}

func NewHealth(environment string, sc ScannerState, checks map[string]Check) *Health {
	return &Health{Environment: environment, Scanner: sc, Checks: checks, started: time.Now()}
}

type HealthReport struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Uptime      float64           `json:"uptime"`
	Environment string            `json:"environment"`
	Scanner     string            `json:"scanner"`
	Checks      map[string]string `json:"checks"`
}

// Report runs every check. A down dependency or an unavailable scanner
// degrades the service.
func (h *Health) Report(ctx context.Context) HealthReport {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rep := HealthReport{
		Status:      statusUp,
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.started).Seconds(),
		Environment: h.Environment,
		Checks:      map[string]string{},
	}

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.Checks[name](ctx); err != nil {
			rep.Checks[name] = statusDown
			rep.Status = statusDegraded
			continue
		}
		rep.Checks[name] = statusUp
	}

	if h.Scanner != nil {
		state := h.Scanner.State()
		rep.Scanner = state.String()
		if state == scanner.StateUnavailable {
			rep.Status = statusDegraded
		}
	}
	return rep
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Report(r.Context())
	status := http.StatusOK
	if rep.Status != statusUp {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}
