package model

import (
	"fmt"
	"time"
)

// Domain is one of the two independent lease categories on a work item.
type Domain string

// Lease domains.
const (
	DomainPlayer Domain = "player"
	DomainTrader Domain = "trader"
)

// Domains lists every lease domain.
var Domains = []Domain{DomainPlayer, DomainTrader}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, error) {
	switch Domain(s) {
	case DomainPlayer, DomainTrader:
		return Domain(s), nil
	}
	return "", fmt.Errorf("unknown lease domain %q", s)
}

// WorkItem is one priceable entity. Eligibility flags are owned by the data
// jobs; this service only reads them.
type WorkItem struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	ShortName      string     `json:"shortName"`
	Disabled       bool       `json:"-"`
	IsPreset       bool       `json:"-"`
	NoFlea         bool       `json:"-"`
	OnlyFlea       bool       `json:"-"`
	LastScan       *time.Time `json:"lastScan,omitempty"`
	TraderLastScan *time.Time `json:"traderLastScan,omitempty"`
	PlayerHolder   *int64     `json:"-"`
	TraderHolder   *int64     `json:"-"`
}

// Holder returns the lease holder for a domain, or nil when unheld.
func (w *WorkItem) Holder(d Domain) *int64 {
	if d == DomainTrader {
		return w.TraderHolder
	}
	return w.PlayerHolder
}

// Price is a single observed offer submitted by a scanner.
type Price struct {
	Seller   string  `json:"seller"`
	Currency string  `json:"currency"`
	Price    float64 `json:"price"`
	MinLevel *int    `json:"minLevel"`
	Quest    *string `json:"quest"`
}

// PlayerSeller is the seller name used for flea market offers.
const PlayerSeller = "Player"

// IsPlayerOffer reports whether the price is a rouble flea market offer.
func (p Price) IsPlayerOffer() bool {
	return p.Seller == PlayerSeller && p.Currency == "RUB"
}
