package score

import (
	"regexp"
	"strings"

	"github.com/sells-group/geolookup/internal/model"
)

const (
	MissingFieldPenalty = 0.30
	PostalCodePenalty   = 0.05
)

// postalPatterns holds the postal code formats checked per ISO-2 country.
// Countries not listed accept any code.
var postalPatterns = map[string]*regexp.Regexp{
	"IN": regexp.MustCompile(`^\d{6}$`),
	"US": regexp.MustCompile(`^\d{5}(-\d{4})?$`),
	"GB": regexp.MustCompile(`^[A-Z]{1,2}\d{1,2}[A-Z]?\s?\d[A-Z]{2}$`),
	"CA": regexp.MustCompile(`^[A-Z]\d[A-Z]\s?\d[A-Z]\d$`),
	"AU": regexp.MustCompile(`^\d{4}$`),
	"DE": regexp.MustCompile(`^\d{5}$`),
	"FR": regexp.MustCompile(`^\d{5}$`),
	"JP": regexp.MustCompile(`^\d{3}-?\d{4}$`),
	"CN": regexp.MustCompile(`^\d{6}$`),
}

// Quality is the component check of a provider result.
type Quality struct {
	Penalty float64
	Issues  []string

	// MissingCritical is set when city or country is absent. Such a
	// record goes to review whatever its confidence.
	MissingCritical bool
}

// Assess checks that c names a city and a country and that its postal
// code fits the country's format.
func Assess(c model.Components) Quality {
	var q Quality
	if strings.TrimSpace(c.City) == "" {
		q.Penalty += MissingFieldPenalty
		q.Issues = append(q.Issues, "missing city")
		q.MissingCritical = true
	}
	if strings.TrimSpace(c.Country) == "" {
		q.Penalty += MissingFieldPenalty
		q.Issues = append(q.Issues, "missing country")
		q.MissingCritical = true
	}
	if c.PostalCode != "" && c.Country != "" && !ValidPostalCode(c.PostalCode, c.Country) {
		q.Penalty += PostalCodePenalty
		q.Issues = append(q.Issues, "postal code "+c.PostalCode+" does not fit "+strings.ToUpper(c.Country))
	}
	return q
}

// ValidPostalCode reports whether code fits the format of country. Empty
// values and unlisted countries pass.
func ValidPostalCode(code, country string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || country == "" {
		return true
	}
	re, ok := postalPatterns[strings.ToUpper(country)]
	if !ok {
		return true
	}
	return re.MatchString(code)
}

// Notes joins the issues for a review note.
func (q Quality) Notes() string {
	return strings.Join(q.Issues, "; ")
}
