// Package lease hands out exclusive batches of work items to scanners and
// takes them back. The backing store row is the only authority on who holds
// what; nothing here caches lease state.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/scanfleet/internal/clock"
	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/metrics"
	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

var (
	// ErrTransient wraps every backing store failure. Callers may retry.
	ErrTransient = errors.New("transient database error")
	// ErrForbidden is returned when the scanner's user lacks the capability
	// for the requested domain.
	ErrForbidden = errors.New("not authorized")
)

// Config tunes claim defaults.
type Config struct {
	DefaultBatch   int
	MaxBatch       int
	TraderCooldown time.Duration
}

// DefaultConfig matches the values scanners were built against.
func DefaultConfig() Config {
	return Config{
		DefaultBatch:   50,
		MaxBatch:       200,
		TraderCooldown: 24 * time.Hour,
	}
}

// Manager claims and releases leases in the backing store.
type Manager struct {
	db      *db.DB
	clock   clock.Clock
	cfg     Config
	metrics *metrics.Metrics
}

// NewManager creates a Manager. Zero config fields fall back to
// DefaultConfig.
func NewManager(d *db.DB, clk clock.Clock, cfg Config, m *metrics.Metrics) *Manager {
	def := DefaultConfig()
	if cfg.DefaultBatch <= 0 {
		cfg.DefaultBatch = def.DefaultBatch
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.TraderCooldown <= 0 {
		cfg.TraderCooldown = def.TraderCooldown
	}
	return &Manager{db: d, clock: clk, cfg: cfg, metrics: m}
}

// ClaimBatch leases up to batchSize eligible items in domain to holder and
// returns everything holder now holds there. An empty pool yields an empty
// batch and no error.
func (m *Manager) ClaimBatch(ctx context.Context, holder int64, domain model.Domain, batchSize int, filter store.ClaimFilter) ([]model.WorkItem, error) {
	items, err := store.ClaimBatch(ctx, m.db, domain, holder, batchSize, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if items == nil {
		items = []model.WorkItem{}
	}
	m.metrics.ItemsClaimed(string(domain), len(items))
	return items, nil
}

// Release clears holder's lease on itemID in domain, or on every item when
// itemID is empty. markScanned stamps freshness and only applies to a
// single item.
func (m *Manager) Release(ctx context.Context, holder int64, domain model.Domain, itemID string, markScanned bool) (int64, error) {
	var (
		n   int64
		err error
	)
	if itemID == "" {
		n, err = store.ReleaseAll(ctx, m.db, domain, holder)
	} else {
		n, err = store.ReleaseItem(ctx, m.db, domain, holder, itemID, markScanned, m.clock.Now())
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	m.metrics.ItemsReleased(string(domain), n)
	return n, nil
}

// skipsPriceInsert reports whether a scanner only dry-runs and must never
// hold work.
func skipsPriceInsert(s *model.Scanner) bool {
	return s.UserCapabilities.SkipPriceInsert || s.Flags.SkipPriceInsert
}

// Checkout serves a scanner's batch request: it normalizes the options,
// checks the user's capability for the chosen domain and claims. A trader
// request that finds nothing falls back to player offers when the scanner
// has flea market access.
func (m *Manager) Checkout(ctx context.Context, s *model.Scanner, opts Options) (Batch, error) {
	plan := m.plan(opts)
	if !s.UserCapabilities.CanScan(plan.Domain) {
		return Batch{}, fmt.Errorf("%w to insert %s prices", ErrForbidden, plan.Domain)
	}

	items, err := m.ClaimBatch(ctx, s.ID, plan.Domain, plan.BatchSize, plan.Filter)
	if err != nil {
		return Batch{}, err
	}

	if len(items) == 0 && plan.Domain == model.DomainTrader && opts.FleaMarketAvailable &&
		s.UserCapabilities.CanScan(model.DomainPlayer) {
		slog.Info("trader pool exhausted, falling back to player offers", "scanner", s.Name)
		opts.OffersFrom = OffersUnset
		plan = m.plan(opts)
		items, err = m.ClaimBatch(ctx, s.ID, plan.Domain, plan.BatchSize, plan.Filter)
		if err != nil {
			return Batch{}, err
		}
	}

	if skipsPriceInsert(s) {
		if _, err := m.Release(ctx, s.ID, plan.Domain, "", false); err != nil {
			return Batch{}, err
		}
	}

	return Batch{Items: items, Domain: plan.Domain, OffersFrom: plan.OffersFrom}, nil
}
