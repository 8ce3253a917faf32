package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// SourceTier identifies which lookup tier produced a record.
type SourceTier string

const (
	TierGolden SourceTier = "GOLDEN"
	TierCache  SourceTier = "CACHE"
	TierStore  SourceTier = "STORE"
	TierAPI    SourceTier = "API"
)

// Priority orders tiers for tie-breaking. Higher wins.
func (t SourceTier) Priority() int {
	switch t {
	case TierGolden:
		return 3
	case TierCache:
		return 2
	case TierStore:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is a known tier.
func (t SourceTier) Valid() bool {
	switch t {
	case TierGolden, TierCache, TierStore, TierAPI:
		return true
	default:
		return false
	}
}

// Components holds the parsed postal components of an address.
type Components struct {
	Street      string `json:"street,omitempty" yaml:"street"`
	Street2     string `json:"street2,omitempty" yaml:"street2"`
	City        string `json:"city,omitempty" yaml:"city"`
	StateRegion string `json:"state_region,omitempty" yaml:"state_region"`
	PostalCode  string `json:"postal_code,omitempty" yaml:"postal_code"`
	Country     string `json:"country,omitempty" yaml:"country"` // ISO-2
	CountryLong string `json:"country_long,omitempty" yaml:"country_long"`
}

// AddressRecord is one resolved address.
type AddressRecord struct {
	CompanyNameRaw   string     `json:"company_name_raw"`
	Key              Key        `json:"key"`
	FormattedAddress string     `json:"formatted_address"`
	Latitude         float64    `json:"lat"`
	Longitude        float64    `json:"lng"`
	Confidence       float64    `json:"confidence"`
	SourceTier       SourceTier `json:"source_tier"`
	MatchedAgainst   *Key       `json:"matched_against,omitempty"`
	ResolvedAt       time.Time  `json:"resolved_at"`

	Components   Components `json:"components"`
	PlaceID      string     `json:"place_id,omitempty"`
	LocationType string     `json:"location_type,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// Validate checks the record invariants enforced at the store boundary.
func (r *AddressRecord) Validate() error {
	if r.Key.IsZero() {
		return eris.New("model: record has empty key")
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return eris.Errorf("model: confidence %v out of range", r.Confidence)
	}
	if !r.SourceTier.Valid() {
		return eris.Errorf("model: unknown source tier %q", r.SourceTier)
	}
	if r.SourceTier == TierGolden && r.Confidence != 1.0 {
		return eris.Errorf("model: golden record with confidence %v", r.Confidence)
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
		return eris.Errorf("model: coordinates (%v, %v) out of range", r.Latitude, r.Longitude)
	}
	return nil
}

// Clone returns a deep copy so tiers never share a record.
func (r AddressRecord) Clone() AddressRecord {
	if r.MatchedAgainst != nil {
		k := *r.MatchedAgainst
		r.MatchedAgainst = &k
	}
	return r
}

// GoldenMapping is a curated alias → canonical address override.
type GoldenMapping struct {
	Alias     Key           `json:"alias" yaml:"alias"`
	Canonical Key           `json:"canonical" yaml:"canonical"`
	Record    AddressRecord `json:"record" yaml:"record"`
	UpdatedAt time.Time     `json:"updated_at" yaml:"updated_at"`
}
