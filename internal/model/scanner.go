package model

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// UserCapabilities is the set of things a scanner user is allowed to do.
// It is stored as a bitmask; the bit layout lives only in Bits and
// UserCapabilitiesFromBits.
type UserCapabilities struct {
	InsertPlayerPrices bool `json:"insert_player_prices"`
	InsertTraderPrices bool `json:"insert_trader_prices"`
	TrustTraderUnlocks bool `json:"trust_trader_unlocks"`
	SkipPriceInsert    bool `json:"skip_price_insert"`
	JSONDownload       bool `json:"json_download"`
	OverwriteImages    bool `json:"overwrite_images"`
	SubmitData         bool `json:"submit_data"`
}

const (
	capInsertPlayerPrices = 1 << iota
	capInsertTraderPrices
	capTrustTraderUnlocks
	capSkipPriceInsert
	capJSONDownload
	capOverwriteImages
	capSubmitData
)

// capabilityNames maps CLI/config names to bits.
var capabilityNames = map[string]int64{
	"insert-player-prices": capInsertPlayerPrices,
	"insert-trader-prices": capInsertTraderPrices,
	"trust-trader-unlocks": capTrustTraderUnlocks,
	"skip-price-insert":    capSkipPriceInsert,
	"json-download":        capJSONDownload,
	"overwrite-images":     capOverwriteImages,
	"submit-data":          capSubmitData,
}

// UserCapabilitiesFromBits decodes the stored bitmask.
func UserCapabilitiesFromBits(bits int64) UserCapabilities {
	return UserCapabilities{
		InsertPlayerPrices: bits&capInsertPlayerPrices != 0,
		InsertTraderPrices: bits&capInsertTraderPrices != 0,
		TrustTraderUnlocks: bits&capTrustTraderUnlocks != 0,
		SkipPriceInsert:    bits&capSkipPriceInsert != 0,
		JSONDownload:       bits&capJSONDownload != 0,
		OverwriteImages:    bits&capOverwriteImages != 0,
		SubmitData:         bits&capSubmitData != 0,
	}
}

// Bits encodes the capability set for storage.
func (c UserCapabilities) Bits() int64 {
	var bits int64
	set := func(on bool, bit int64) {
		if on {
			bits |= bit
		}
	}
	set(c.InsertPlayerPrices, capInsertPlayerPrices)
	set(c.InsertTraderPrices, capInsertTraderPrices)
	set(c.TrustTraderUnlocks, capTrustTraderUnlocks)
	set(c.SkipPriceInsert, capSkipPriceInsert)
	set(c.JSONDownload, capJSONDownload)
	set(c.OverwriteImages, capOverwriteImages)
	set(c.SubmitData, capSubmitData)
	return bits
}

// Any reports whether at least one capability is granted. A user with no
// capabilities is treated as disabled.
func (c UserCapabilities) Any() bool {
	return c.Bits() != 0
}

// CanScan reports whether the user may insert prices in the given domain.
func (c UserCapabilities) CanScan(d Domain) bool {
	if d == DomainTrader {
		return c.InsertTraderPrices
	}
	return c.InsertPlayerPrices
}

// ParseCapabilities builds a capability set from names such as
// "insert-player-prices".
func ParseCapabilities(names []string) (UserCapabilities, error) {
	var bits int64
	for _, n := range names {
		bit, ok := capabilityNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return UserCapabilities{}, fmt.Errorf("unknown capability %q (valid: %s)", n, strings.Join(CapabilityNames(), ", "))
		}
		bits |= bit
	}
	return UserCapabilitiesFromBits(bits), nil
}

// CapabilityNames returns the sorted list of capability names.
func CapabilityNames() []string {
	names := make([]string, 0, len(capabilityNames))
	for n := range capabilityNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ScannerFlags are per-scanner switches set by administrators.
type ScannerFlags struct {
	IgnoreMissingScans bool `json:"ignore_missing_scans"`
	SkipPriceInsert    bool `json:"skip_price_insert"`
}

const (
	flagIgnoreMissingScans = 1 << iota
	flagSkipPriceInsert
)

// ScannerFlagsFromBits decodes the stored bitmask.
func ScannerFlagsFromBits(bits int64) ScannerFlags {
	return ScannerFlags{
		IgnoreMissingScans: bits&flagIgnoreMissingScans != 0,
		SkipPriceInsert:    bits&flagSkipPriceInsert != 0,
	}
}

// Bits encodes the flags for storage.
func (f ScannerFlags) Bits() int64 {
	var bits int64
	if f.IgnoreMissingScans {
		bits |= flagIgnoreMissingScans
	}
	if f.SkipPriceInsert {
		bits |= flagSkipPriceInsert
	}
	return bits
}

// ScannerUser owns credentials shared by one or more scanners.
type ScannerUser struct {
	ID           int64            `json:"id"`
	Username     string           `json:"username"`
	PasswordHash string           `json:"-"`
	Capabilities UserCapabilities `json:"capabilities"`
	MaxScanners  int              `json:"max_scanners"`
	Disabled     bool             `json:"disabled"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Scanner is one named scanner process registered under a ScannerUser. Its
// ID is the lease holder identity in the backing store.
type Scanner struct {
	ID             int64        `json:"id"`
	UserID         int64        `json:"user_id"`
	Name           string       `json:"name"`
	Flags          ScannerFlags `json:"flags"`
	LastScan       *time.Time   `json:"last_scan,omitempty"`
	TraderLastScan *time.Time   `json:"trader_last_scan,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`

	// Joined from the owning user (not always populated).
	Username         string           `json:"username,omitempty"`
	UserCapabilities UserCapabilities `json:"-"`
	UserDisabled     bool             `json:"-"`
}

// LastScanIn returns the scanner's freshness timestamp for a domain.
func (s *Scanner) LastScanIn(d Domain) *time.Time {
	if d == DomainTrader {
		return s.TraderLastScan
	}
	return s.LastScan
}

var scannerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateScannerName checks that a scanner name only contains letters,
// numbers, dashes and underscores.
func ValidateScannerName(name string) error {
	if !scannerNamePattern.MatchString(name) {
		return fmt.Errorf("scanner names can only contain letters, numbers, dashes (-) and underscores (_)")
	}
	return nil
}
