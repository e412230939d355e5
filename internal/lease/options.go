package lease

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/erazemk/scanfleet/internal/model"
	"github.com/erazemk/scanfleet/internal/store"
)

// OffersFrom selects which offers a scanner is collecting.
type OffersFrom string

const (
	OffersUnset   OffersFrom = ""
	OffersAny     OffersFrom = "any"
	OffersPlayers OffersFrom = "players"
	OffersTraders OffersFrom = "traders"
)

// UnmarshalJSON accepts the names above as well as the numeric codes older
// scanners send (0 any, 1 traders, 2 players).
func (o *OffersFrom) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = OffersUnset
		return nil
	}

	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		switch n {
		case 0:
			*o = OffersAny
		case 1:
			*o = OffersTraders
		case 2:
			*o = OffersPlayers
		default:
			return fmt.Errorf("unknown offersFrom %d", n)
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("offersFrom must be a string or number: %w", err)
	}
	parsed, err := ParseOffersFrom(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOffersFrom validates an offersFrom name. The empty string is unset.
func ParseOffersFrom(s string) (OffersFrom, error) {
	switch v := OffersFrom(strings.ToLower(strings.TrimSpace(s))); v {
	case OffersUnset, OffersAny, OffersPlayers, OffersTraders:
		return v, nil
	}
	return "", fmt.Errorf("unknown offersFrom %q", s)
}

// Domain is the lease domain that serves these offers.
func (o OffersFrom) Domain() model.Domain {
	if o == OffersTraders {
		return model.DomainTrader
	}
	return model.DomainPlayer
}

// Options is what a scanner asks for when it requests work.
type Options struct {
	BatchSize           int        `json:"batchSize"`
	OffersFrom          OffersFrom `json:"offersFrom"`
	LimitTraderScan     *bool      `json:"limitTraderScan"`
	FleaMarketAvailable bool       `json:"fleaMarketAvailable"`
}

// Batch is the answer to a checkout.
type Batch struct {
	Items      []model.WorkItem `json:"items"`
	Domain     model.Domain     `json:"domain"`
	OffersFrom OffersFrom       `json:"offersFrom"`
}

type plan struct {
	Domain     model.Domain
	OffersFrom OffersFrom
	BatchSize  int
	Filter     store.ClaimFilter
}

func (m *Manager) plan(opts Options) plan {
	p := plan{BatchSize: opts.BatchSize, OffersFrom: opts.OffersFrom}

	if p.BatchSize <= 0 {
		p.BatchSize = m.cfg.DefaultBatch
	}
	if p.BatchSize > m.cfg.MaxBatch {
		p.BatchSize = m.cfg.MaxBatch
	}

	if p.OffersFrom == OffersUnset {
		p.OffersFrom = OffersTraders
		if opts.FleaMarketAvailable {
			p.OffersFrom = OffersPlayers
		}
	}
	p.Domain = p.OffersFrom.Domain()

	switch p.Domain {
	case model.DomainPlayer:
		p.Filter.ExcludeNoFlea = p.OffersFrom == OffersPlayers
	case model.DomainTrader:
		p.Filter.ExcludeOnlyFlea = true
		if opts.LimitTraderScan == nil || *opts.LimitTraderScan {
			before := m.clock.Now().Add(-m.cfg.TraderCooldown)
			p.Filter.ScannedBefore = &before
		}
	}
	return p
}
