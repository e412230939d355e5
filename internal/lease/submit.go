package lease

import (
	"context"
	"fmt"

	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

// Submission is one scanned item's prices.
type Submission struct {
	ItemID     string        `json:"itemId"`
	Prices     []model.Price `json:"itemPrices"`
	OffersFrom OffersFrom    `json:"offersFrom"`

	// TrustTraderUnlocks asks for the trader offers' level and quest
	// requirements to be stored. It only takes effect for users with the
	// trust-trader-unlocks capability.
	TrustTraderUnlocks bool `json:"trustTraderUnlocks"`
}

// SubmitResult reports what a submission stored. Errors and warnings are
// user-facing strings for the scanner API envelope.
type SubmitResult struct {
	PlayerPrices int
	TraderPrices int
	Released     int64
	Errors       []string
	Warnings     []string
}

// SubmitPrices stores an item's prices for scanner s and, when nothing went
// wrong, releases the item with its freshness stamped. Prices for an item
// the scanner does not hold are still stored but draw a warning.
func (m *Manager) SubmitPrices(ctx context.Context, s *model.Scanner, sub Submission) (SubmitResult, error) {
	var res SubmitResult
	if sub.ItemID == "" {
		res.Errors = append(res.Errors, "no item id specified")
	}
	if len(sub.Prices) == 0 {
		res.Errors = append(res.Errors, "no prices to insert")
	}
	if len(res.Errors) > 0 {
		return res, nil
	}

	var player, trader []model.Price
	for _, p := range sub.Prices {
		switch {
		case p.IsPlayerOffer():
			player = append(player, p)
		case p.Seller != model.PlayerSeller:
			trader = append(trader, p)
		default:
			res.Warnings = append(res.Warnings, fmt.Sprintf("ignored player price in %s", p.Currency))
		}
	}

	caps := s.UserCapabilities
	if len(player) > 0 && !caps.InsertPlayerPrices {
		res.Errors = append(res.Errors, "user not authorized to insert player prices")
		player = nil
	}
	if len(trader) > 0 && !caps.InsertTraderPrices {
		res.Errors = append(res.Errors, "user not authorized to insert trader prices")
		trader = nil
	}
	if !sub.TrustTraderUnlocks || !caps.TrustTraderUnlocks {
		for i := range trader {
			trader[i].MinLevel = nil
			trader[i].Quest = nil
		}
	}

	domain := sub.OffersFrom.Domain()
	item, err := store.GetWorkItem(ctx, m.db, sub.ItemID)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if item == nil {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown item %s", sub.ItemID))
		return res, nil
	}
	if h := item.Holder(domain); h == nil || *h != s.ID {
		res.Warnings = append(res.Warnings, fmt.Sprintf("item %s is not checked out by %s", sub.ItemID, s.Name))
	}

	if skipsPriceInsert(s) {
		if len(player) > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Skipped insert of %d player prices", len(player)))
		}
		if len(trader) > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Skipped insert of %d trader prices", len(trader)))
		}
		n, err := m.Release(ctx, s.ID, domain, sub.ItemID, false)
		if err != nil {
			return res, err
		}
		res.Released = n
		return res, nil
	}

	res.PlayerPrices, res.TraderPrices, err = store.InsertPrices(ctx, m.db, sub.ItemID, s.ID,
		append(player, trader...), m.clock.Now())
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	m.metrics.PricesInserted("player", res.PlayerPrices)
	m.metrics.PricesInserted("trader", res.TraderPrices)

	if len(res.Errors) == 0 {
		res.Released, err = m.Release(ctx, s.ID, domain, sub.ItemID, true)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}
