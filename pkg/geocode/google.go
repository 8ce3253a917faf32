package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	AddressComponents []googleComponent `json:"address_components"`
	FormattedAddress  string            `json:"formatted_address"`
	Geometry          struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	PartialMatch bool     `json:"partial_match"`
	PlaceID      string   `json:"place_id"`
	Types        []string `json:"types"`
}

type googleComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

func (g *google) Geocode(ctx context.Context, q Query) (*Result, error) {
	params := url.Values{"address": {q.Text()}}
	if q.Country != "" {
		params.Set("components", "country:"+strings.ToUpper(q.Country))
	}
	return g.call(ctx, "geocode", params)
}

func (g *google) Reverse(ctx context.Context, lat, lng float64) (*Result, error) {
	params := url.Values{"latlng": {
		strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64),
	}}
	return g.call(ctx, "reverse", params)
}

// call runs one logical request under the retry policy. Each attempt waits
// on the rate limiter and reserves quota before any network activity.
func (g *google) call(ctx context.Context, op string, params url.Values) (*Result, error) {
	if g.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	params.Set("key", g.apiKey)
	reqURL := g.baseURL + "?" + params.Encode()

	res, out, err := resilience.DoVal(ctx, g.policy, func(ctx context.Context) (*Result, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "geocode: rate limit")
		}
		if err := g.quota.Reserve(); err != nil {
			g.record(op, OutcomeRefused)
			return nil, err
		}
		res, err := g.fetch(ctx, reqURL)
		g.record(op, outcomeOf(res, err))
		return res, err
	})
	if err != nil {
		if out.Exhausted {
			return nil, &ExhaustedError{Attempts: out.Attempts, Last: err}
		}
		return nil, err
	}

	zap.L().Debug("geocode: google result",
		zap.String("op", op),
		zap.Bool("matched", res.Matched),
		zap.String("location_type", res.LocationType),
		zap.Float64("confidence", res.ProviderConfidence),
		zap.Int("attempt", out.Attempts),
	)
	return res, nil
}

func (g *google) fetch(ctx context.Context, reqURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: google returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google read body")
	}

	var gr googleGeocodeResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	switch gr.Status {
	case "OK":
		if len(gr.Results) == 0 {
			return &Result{Matched: false}, nil
		}
		return toResult(gr.Results[0]), nil
	case "ZERO_RESULTS":
		return &Result{Matched: false}, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		te := resilience.NewTransientError(&ProviderError{Status: gr.Status, Message: gr.ErrorMessage}, resp.StatusCode)
		te.Reason = gr.Status
		return nil, te
	default:
		return nil, &ProviderError{Status: gr.Status, Message: gr.ErrorMessage}
	}
}

func (g *google) record(op string, outcome Outcome) {
	if g.observe != nil {
		g.observe(op, outcome)
	}
}

func outcomeOf(res *Result, err error) Outcome {
	switch {
	case err == nil && res.Matched:
		return OutcomeOK
	case err == nil:
		return OutcomeNoResult
	case resilience.IsTransient(err):
		return OutcomeTransient
	default:
		return OutcomeError
	}
}

func toResult(r googleResult) *Result {
	return &Result{
		FormattedAddress:   r.FormattedAddress,
		Latitude:           r.Geometry.Location.Lat,
		Longitude:          r.Geometry.Location.Lng,
		LocationType:       r.Geometry.LocationType,
		Types:              r.Types,
		PartialMatch:       r.PartialMatch,
		PlaceID:            r.PlaceID,
		Components:         parseComponents(r.AddressComponents),
		ProviderConfidence: providerConfidence(r),
		Matched:            true,
	}
}

func parseComponents(comps []googleComponent) model.Components {
	var c model.Components
	var premise, streetNumber, route string
	isA := func(gc googleComponent, t string) bool { return slices.Contains(gc.Types, t) }

	for _, gc := range comps {
		switch {
		case isA(gc, "street_number"):
			streetNumber = gc.LongName
		case isA(gc, "route"):
			route = gc.LongName
		case isA(gc, "subpremise"):
			c.Street2 = gc.LongName
		case isA(gc, "premise"):
			premise = gc.LongName
		case isA(gc, "locality"):
			c.City = gc.LongName
		case isA(gc, "postal_town"), isA(gc, "administrative_area_level_2"):
			if c.City == "" {
				c.City = gc.LongName
			}
		case isA(gc, "administrative_area_level_1"):
			c.StateRegion = gc.LongName
		case isA(gc, "country"):
			c.Country = gc.ShortName
			c.CountryLong = gc.LongName
		case isA(gc, "postal_code"):
			c.PostalCode = gc.LongName
		}
	}

	var street []string
	for _, p := range []string{premise, streetNumber, route} {
		if p != "" {
			street = append(street, p)
		}
	}
	c.Street = strings.Join(street, " ")
	return c
}

var (
	preferredTypes = []string{"street_address", "premise", "establishment", "point_of_interest"}
	genericTypes   = []string{"locality", "administrative_area_level_1", "country"}
)

// providerConfidence rates a result from its match quality signals.
func providerConfidence(r googleResult) float64 {
	conf := 1.0
	if r.PartialMatch {
		conf -= 0.20
	}
	hasAny := func(want []string) bool {
		return slices.ContainsFunc(r.Types, func(t string) bool { return slices.Contains(want, t) })
	}
	if !hasAny(preferredTypes) && hasAny(genericTypes) {
		conf -= 0.25
	}
	switch r.Geometry.LocationType {
	case "APPROXIMATE":
		conf -= 0.15
	case "GEOMETRIC_CENTER":
		conf -= 0.05
	case "RANGE_INTERPOLATED":
		conf -= 0.10
	}
	return min(1, max(0, conf))
}
