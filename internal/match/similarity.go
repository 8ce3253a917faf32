package match

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Ratio is the normalized Levenshtein similarity of a and b in [0,1].
func Ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// TokenSetRatio compares the whitespace token sets of a and b. When one set
// contains the other the result is 1. Otherwise it is the best Ratio among
// the shared tokens and each side's shared-plus-remaining tokens, all in
// sorted order.
func TokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var shared, onlyA, onlyB []string
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared = append(shared, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if _, ok := ta[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	if len(shared) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 1
	}

	slices.Sort(shared)
	slices.Sort(onlyA)
	slices.Sort(onlyB)

	sect := strings.Join(shared, " ")
	withA := joinNonEmpty(sect, strings.Join(onlyA, " "))
	withB := joinNonEmpty(sect, strings.Join(onlyB, " "))

	best := Ratio(withA, withB)
	if sect != "" {
		best = max(best, Ratio(sect, withA), Ratio(sect, withB))
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
