package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/erazemk/scanfleet/internal/clock"
	"github.com/erazemk/scanfleet/internal/metrics"
	"github.com/erazemk/scanfleet/internal/protocol"
)

// DefaultHeartbeatInterval is how often sessions are pinged.
const DefaultHeartbeatInterval = 10 * time.Second

// Monitor evicts sessions that miss a heartbeat. A session must answer each
// ping before the next tick; one missed cycle is enough to evict it.
type Monitor struct {
	registry *Registry
	clock    clock.Clock
	interval time.Duration
	metrics  *metrics.Metrics
}

// NewMonitor creates a Monitor ticking every interval.
func NewMonitor(reg *Registry, clk clock.Clock, interval time.Duration, m *metrics.Metrics) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Monitor{registry: reg, clock: clk, interval: interval, metrics: m}
}

// Tick runs one heartbeat cycle and returns how many sessions it evicted.
// Pings are sent concurrently and Tick returns once every ping has been
// written or has failed.
func (m *Monitor) Tick(ctx context.Context) int {
	var wg sync.WaitGroup
	evicted := 0
	m.registry.ForEachOpen(nil, func(s *Session) {
		if !s.takeAck() {
			if m.registry.Remove(s) {
				slog.Info("evicting unresponsive session", "session", s.ID, "role", s.Role)
				s.Close("heartbeat timeout")
				m.metrics.SessionEvicted()
				evicted++
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Send(ctx, protocol.Message{Type: protocol.TypePing}); err != nil {
				slog.Warn("sending heartbeat", "session", s.ID, "role", s.Role, "error", err)
			}
		}()
	})
	wg.Wait()
	return evicted
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	t := m.clock.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Tick(ctx)
		}
	}
}
