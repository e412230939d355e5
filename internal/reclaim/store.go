package reclaim

import (
	"context"

	"github.com/erazemk/scanfleet/internal/db"
	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

// DBStore adapts the SQL store to Store.
type DBStore struct {
	DB *db.DB
}

func (s DBStore) ListScanners(ctx context.Context) ([]model.Scanner, error) {
	return store.ListScanners(ctx, s.DB)
}

func (s DBStore) ReleaseAll(ctx context.Context, domain model.Domain, holder int64) (int64, error) {
	return store.ReleaseAll(ctx, s.DB, domain, holder)
}
