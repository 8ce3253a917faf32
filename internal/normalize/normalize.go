// Package normalize canonicalizes raw company and site text into lookup keys.
package normalize

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/geolookup/internal/model"
)

// ErrInvalidInput is returned when a company name is empty after trimming.
var ErrInvalidInput = eris.New("normalize: invalid input")

// legalSuffixes lists trailing legal-entity designators, longest first.
// Each entry is matched as a whole token sequence after punctuation removal.
var legalSuffixes = [][]string{
	{"private", "limited"},
	{"pvt", "ltd"},
	{"pte", "ltd"},
	{"pty", "ltd"},
	{"incorporated"},
	{"corporation"},
	{"limited"},
	{"company"},
	{"gmbh"},
	{"corp"},
	{"inc"},
	{"ltd"},
	{"llc"},
	{"llp"},
	{"pllc"},
	{"plc"},
	{"sas"},
	{"lp"},
	{"sa"},
	{"bv"},
	{"nv"},
	{"ag"},
	{"kk"},
	{"co"},
}

// countryCodes maps normalized country names and codes to ISO-2.
var countryCodes = map[string]string{
	"india":                "in",
	"in":                   "in",
	"usa":                  "us",
	"us":                   "us",
	"united states":        "us",
	"uk":                   "gb",
	"gb":                   "gb",
	"united kingdom":       "gb",
	"great britain":        "gb",
	"england":              "gb",
	"canada":               "ca",
	"ca":                   "ca",
	"australia":            "au",
	"au":                   "au",
	"germany":              "de",
	"deutschland":          "de",
	"de":                   "de",
	"france":               "fr",
	"fr":                   "fr",
	"japan":                "jp",
	"jp":                   "jp",
	"china":                "cn",
	"cn":                   "cn",
	"singapore":            "sg",
	"sg":                   "sg",
	"netherlands":          "nl",
	"nl":                   "nl",
	"ireland":              "ie",
	"ie":                   "ie",
	"uae":                  "ae",
	"united arab emirates": "ae",
}

// Normalize derives the lookup key for a company name and optional site hint.
// The result is deterministic and idempotent: normalizing key.Name again
// yields key.Name.
func Normalize(companyName, siteHint string) (model.Key, error) {
	if strings.TrimSpace(companyName) == "" {
		return model.Key{}, eris.Wrap(ErrInvalidInput, "company name is empty")
	}

	tokens := stripSuffixes(Tokens(companyName))
	if len(tokens) == 0 {
		return model.Key{}, eris.Wrapf(ErrInvalidInput, "company name %q has no usable characters", companyName)
	}

	return model.Key{
		Name: strings.Join(tokens, " "),
		Site: SiteToken(siteHint),
	}, nil
}

// Tokens lower-cases s, strips diacritics and punctuation, and splits it
// into words. Ampersands become "and"; periods and apostrophes are dropped
// so that "L.L.C." and "O'Neil" stay single tokens.
func Tokens(s string) []string {
	// A transform chain carries state, so each call builds its own.
	stripMarks := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	// Fold case after decomposition: compatibility capitals such as
	// mathematical bold letters only become ASCII under NFKD.
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == '&':
			b.WriteString(" and ")
		case r == '.' || r == '\'' || r == '’':
			// dropped
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// stripSuffixes removes trailing legal suffixes (and a dangling "and") while
// more than one token remains.
func stripSuffixes(tokens []string) []string {
	for {
		stripped := false
		for _, suffix := range legalSuffixes {
			if len(tokens) > len(suffix) && hasSuffix(tokens, suffix) {
				tokens = tokens[:len(tokens)-len(suffix)]
				stripped = true
				break
			}
		}
		if len(tokens) > 1 && tokens[len(tokens)-1] == "and" {
			tokens = tokens[:len(tokens)-1]
			stripped = true
		}
		if !stripped {
			return tokens
		}
	}
}

func hasSuffix(tokens, suffix []string) bool {
	offset := len(tokens) - len(suffix)
	for i, s := range suffix {
		if tokens[offset+i] != s {
			return false
		}
	}
	return true
}

// SiteToken extracts a normalized "city country" token from a free-form
// site hint such as "Pune, India". The first comma-separated part is taken
// as the city and the last as the country (mapped to ISO-2 when known).
func SiteToken(siteHint string) string {
	parts := splitHint(siteHint)
	if len(parts) == 0 {
		return ""
	}

	var city, country string
	last := parts[len(parts)-1]
	if code, ok := countryCodes[last]; ok {
		country = code
		if len(parts) > 1 {
			city = parts[0]
		}
	} else {
		city = parts[0]
		if len(parts) > 1 {
			country = last
		}
	}

	return strings.TrimSpace(city + " " + country)
}

// CountryHint returns the ISO-2 code (upper-case) for the country named in
// the last comma-separated part of text, or "" when it is not recognized.
func CountryHint(text string) string {
	parts := splitHint(text)
	if len(parts) == 0 {
		return ""
	}
	return strings.ToUpper(countryCodes[parts[len(parts)-1]])
}

func splitHint(hint string) []string {
	var parts []string
	for _, raw := range strings.Split(hint, ",") {
		if p := strings.Join(Tokens(raw), " "); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
