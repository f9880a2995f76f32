package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/fhirlite/fhirlite/server/internal/record"
	"github.com/fhirlite/fhirlite/server/internal/store"
)

// ServiceName is the gRPC health service name reported alongside the
// overall ("") status.
const ServiceName = "fhirlite.Store"

// Status values returned by Monitor.Status.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// Checker probes the document store. *store.Repository implements it.
type Checker interface {
	Check(ctx context.Context) error
}

// Report is the outcome of the latest probe.
type Report struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor probes the store on an interval and mirrors the result into a
// gRPC health server. A corrupt document still serves (reads recover to the
// empty document) but is reported as degraded; a backend that cannot be
// read is NOT_SERVING.
type Monitor struct {
	checker  Checker
	server   *health.Server
	interval time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	last Report
}

// New creates a Monitor. srv may be nil when the gRPC endpoint is disabled.
func New(c Checker, srv *health.Server, interval time.Duration) *Monitor {
	return &Monitor{checker: c, server: srv, interval: interval, now: time.Now}
}

// Run probes immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)

	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if m.server != nil {
				m.server.Shutdown()
			}
			return
		case <-t.C:
			m.Probe(ctx)
		}
	}
}

// Probe checks the store once, records the result and returns it.
func (m *Monitor) Probe(ctx context.Context) Report {
	err := m.checker.Check(ctx)

	r := Report{Status: StatusOK, CheckedAt: m.now().UTC()}
	serving := healthpb.HealthCheckResponse_SERVING
	switch {
	case err == nil:
	case errors.Is(err, store.ErrCorrupt):
		r.Status = StatusDegraded
		r.Error = err.Error()
	default:
		r.Status = StatusUnavailable
		r.Error = record.Message(err)
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}

	m.mu.Lock()
	prev := m.last.Status
	m.last = r
	m.mu.Unlock()

	if prev != r.Status {
		slog.Info("health: status changed", "from", prev, "to", r.Status, "err", r.Error)
	}
	if m.server != nil {
		m.server.SetServingStatus("", serving)
		m.server.SetServingStatus(ServiceName, serving)
	}
	return r
}

// Last returns the most recent probe result.
func (m *Monitor) Last() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
