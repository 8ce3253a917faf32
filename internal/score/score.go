// Package score computes the confidence of a resolved address.
package score

import (
	"strings"

	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/normalize"
)

const (
	DefaultSiteBoost   = 0.05
	DefaultSitePenalty = 0.20
)

// Input describes one candidate resolution.
type Input struct {
	Tier model.SourceTier

	// NotFound marks a provider miss. It scores 0.
	NotFound bool

	// Confidence is the stored confidence for CACHE and STORE hits, or the
	// provider confidence for API results.
	Confidence float64

	// Similarity is the key similarity of a CACHE or STORE hit. Zero means
	// exact.
	Similarity float64

	// Site is the normalized site token of the query.
	Site string

	// Record supplies the address text checked against Site. For API
	// results its components are also checked by Assess.
	Record *model.AddressRecord
}

// Scorer is pure and safe for concurrent use.
type Scorer struct {
	SiteBoost   float64
	SitePenalty float64
}

// New returns a Scorer with the default site adjustments.
func New() *Scorer {
	return &Scorer{SiteBoost: DefaultSiteBoost, SitePenalty: DefaultSitePenalty}
}

// Score returns the confidence for in, clamped to [0,1].
func (s *Scorer) Score(in Input) float64 {
	if in.NotFound {
		return 0
	}

	var c float64
	siteCheck := false
	switch in.Tier {
	case model.TierGolden:
		return 1
	case model.TierCache, model.TierStore:
		sim := in.Similarity
		if sim <= 0 || sim >= 1 {
			sim = 1
		} else {
			siteCheck = true
		}
		c = in.Confidence * sim
	case model.TierAPI:
		c = in.Confidence
		if in.Record != nil {
			c -= Assess(in.Record.Components).Penalty
		}
		siteCheck = true
	default:
		return 0
	}

	if siteCheck {
		c += s.siteAdjustment(in.Site, in.Record)
	}
	return clamp(c)
}

// siteAdjustment rewards a record whose address mentions every site token
// and penalizes one in another country or mentioning none of them.
func (s *Scorer) siteAdjustment(site string, rec *model.AddressRecord) float64 {
	tokens := strings.Fields(site)
	if len(tokens) == 0 || rec == nil {
		return 0
	}

	if country := siteCountry(tokens); country != "" && rec.Components.Country != "" &&
		!strings.EqualFold(country, rec.Components.Country) {
		return -s.SitePenalty
	}

	haystack := addressTokens(rec)
	present := 0
	for _, t := range tokens {
		if _, ok := haystack[t]; ok {
			present++
		}
	}
	switch present {
	case len(tokens):
		return s.SiteBoost
	case 0:
		return -s.SitePenalty
	default:
		return 0
	}
}

// siteCountry returns the ISO-2 country token of a "city country" site, or
// "" when the site names no country code.
func siteCountry(tokens []string) string {
	if len(tokens) < 2 {
		return ""
	}
	if last := tokens[len(tokens)-1]; len(last) == 2 {
		return last
	}
	return ""
}

func addressTokens(rec *model.AddressRecord) map[string]struct{} {
	c := rec.Components
	text := strings.Join([]string{
		rec.FormattedAddress, c.Street, c.Street2, c.City, c.StateRegion, c.Country, c.CountryLong,
	}, " ")
	set := make(map[string]struct{})
	for _, t := range normalize.Tokens(text) {
		set[t] = struct{}{}
	}
	return set
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
