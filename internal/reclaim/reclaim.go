// Package reclaim releases leases held by scanners that stopped scanning.
package reclaim

import (
	"context"
	"log/slog"
	"time"

	"github.com/erazemk/scanfleet/internal/clock"
	"github.com/erazemk/scanfleet/internal/metrics"
	"github.com/erazemk/scanfleet/internal/model"
)

// Defaults for the sweep schedule.
const (
	DefaultInterval = 5 * time.Minute
	DefaultCutoff   = 15 * time.Minute
)

// Store is what the sweeper needs from the backing store.
type Store interface {
	ListScanners(ctx context.Context) ([]model.Scanner, error)
	ReleaseAll(ctx context.Context, domain model.Domain, holder int64) (int64, error)
}

// Report summarizes one sweep.
type Report struct {
	Checked  int                    `json:"checked"`
	Skipped  int                    `json:"skipped"`
	Released map[model.Domain]int64 `json:"released"`
	Failures int                    `json:"failures"`
}

// Sweeper force-releases the leases of stale scanners.
type Sweeper struct {
	store    Store
	clock    clock.Clock
	interval time.Duration
	cutoff   time.Duration
	metrics  *metrics.Metrics
}

// NewSweeper creates a Sweeper. Non-positive durations fall back to the
// defaults.
func NewSweeper(st Store, clk clock.Clock, interval, cutoff time.Duration, m *metrics.Metrics) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	return &Sweeper{store: st, clock: clk, interval: interval, cutoff: cutoff, metrics: m}
}

// exempt reports whether a scanner's leases are never reclaimed. A disabled
// owner is not an exemption.
func exempt(s *model.Scanner) bool {
	return s.Flags.IgnoreMissingScans ||
		s.Flags.SkipPriceInsert ||
		s.UserCapabilities.SkipPriceInsert
}

// Sweep runs one pass. A scanner counts as stale in a domain when its last
// scan there, or its creation if it never scanned, is older than the
// cutoff. A failure on one scanner is logged and the pass moves on.
func (w *Sweeper) Sweep(ctx context.Context) Report {
	rep := Report{Released: make(map[model.Domain]int64, len(model.Domains))}
	w.metrics.ReclaimSwept()

	scanners, err := w.store.ListScanners(ctx)
	if err != nil {
		slog.Error("listing scanners for reclaim", "error", err)
		rep.Failures++
		w.metrics.ReclaimFailed()
		return rep
	}

	threshold := w.clock.Now().Add(-w.cutoff)
	for i := range scanners {
		s := &scanners[i]
		if exempt(s) {
			rep.Skipped++
			continue
		}
		rep.Checked++

		for _, d := range model.Domains {
			ref := s.CreatedAt
			if last := s.LastScanIn(d); last != nil {
				ref = *last
			}
			if !ref.Before(threshold) {
				continue
			}

			n, err := w.store.ReleaseAll(ctx, d, s.ID)
			if err != nil {
				slog.Error("reclaiming leases", "scanner", s.Name, "domain", d, "error", err)
				rep.Failures++
				w.metrics.ReclaimFailed()
				continue
			}
			if n > 0 {
				slog.Info("reclaimed stale leases", "scanner", s.Name, "domain", d, "items", n, "last_scan", ref)
				rep.Released[d] += n
				w.metrics.ReclaimReleased(string(d), n)
			}
		}
	}
	return rep
}

// Run sweeps every interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	t := w.clock.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Sweep(ctx)
		}
	}
}
