package lookup

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/pkg/geocode"
)

// Stats summarizes engine activity since start.
type Stats struct {
	TotalLookups   int64   `json:"total_lookups"`
	GoldenHits     int64   `json:"golden_hits"`
	CacheHits      int64   `json:"cache_hits"`
	StoreHits      int64   `json:"store_hits"`
	APIResolutions int64   `json:"api_resolutions"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	StoreHitRate   float64 `json:"store_hit_rate"`
	APICallsToday  int     `json:"api_calls_today"`
	QuotaRemaining int     `json:"quota_remaining"`
	QuotaLimit     int     `json:"quota_limit"`
	ReviewPending  int     `json:"review_pending"`
	CacheEntries   int     `json:"cache_entries"`
	StoreBackend   string  `json:"store_backend,omitempty"`
	StoreCircuit   string  `json:"store_circuit,omitempty"`
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	total := s.total.Load()
	usage := s.geocoder.Usage()
	st := Stats{
		TotalLookups:   total,
		GoldenHits:     s.goldenHits.Load(),
		CacheHits:      s.cacheHits.Load(),
		StoreHits:      s.storeHits.Load(),
		APIResolutions: s.apiHits.Load(),
		APICallsToday:  usage.Used,
		QuotaRemaining: usage.Remaining,
		QuotaLimit:     usage.Limit,
		ReviewPending:  s.review.PendingCount(),
		CacheEntries:   s.cache.Len(),
	}
	if total > 0 {
		st.CacheHitRate = float64(st.CacheHits) / float64(total)
		st.StoreHitRate = float64(st.StoreHits) / float64(total)
	}
	if s.store != nil {
		st.StoreBackend = s.store.Name()
		st.StoreCircuit = s.store.BreakerState().String()
	}
	return st
}

// ListReviewQueue returns pending review items, oldest first.
func (s *Service) ListReviewQueue() []model.ReviewItem {
	return slices.Collect(s.review.Pending())
}

// ResolveReviewItem applies a human correction for key. When the
// correction has coordinates but no address, the address is filled in by
// reverse geocoding.
func (s *Service) ResolveReviewItem(ctx context.Context, key model.Key, corrected model.AddressRecord) error {
	if corrected.FormattedAddress == "" && (corrected.Latitude != 0 || corrected.Longitude != 0) {
		res, err := s.geocoder.Reverse(ctx, corrected.Latitude, corrected.Longitude)
		switch {
		case err != nil:
			zap.L().Warn("lookup: reverse geocode for review failed",
				zap.String("key", key.String()),
				zap.Error(err),
			)
		case res.Matched:
			fillFromReverse(&corrected, res)
		}
	}
	if err := s.review.Resolve(ctx, key, corrected); err != nil {
		return eris.Wrapf(err, "lookup: resolve review item %s", key)
	}
	return nil
}

func fillFromReverse(rec *model.AddressRecord, res *geocode.Result) {
	rec.FormattedAddress = res.FormattedAddress
	if rec.Components == (model.Components{}) {
		rec.Components = res.Components
	}
	if rec.PlaceID == "" {
		rec.PlaceID = res.PlaceID
	}
	if rec.LocationType == "" {
		rec.LocationType = res.LocationType
	}
}
