// Package match finds the closest known key for a normalized query.
package match

import (
	"iter"

	"github.com/sells-group/geolookup/internal/model"
)

// Source is one tier's candidates.
type Source struct {
	Tier       model.SourceTier
	Candidates iter.Seq2[model.Key, model.AddressRecord]
}

// Match is the winning candidate.
type Match struct {
	Key    model.Key
	Record model.AddressRecord
	Tier   model.SourceTier
	Score  float64
	Exact  bool
}

// Matcher scores candidates against a query by token-set similarity of
// their key text. It holds no state and is safe for concurrent use.
type Matcher struct {
	MinScore float64

	// Similarity replaces Score when set.
	Similarity func(a, b string) float64
}

// New returns a Matcher that rejects candidates scoring below minScore.
func New(minScore float64) *Matcher {
	return &Matcher{MinScore: minScore}
}

// NewStrict returns a Matcher scored by whole-string edit similarity. A
// query that only shares a subset of a candidate's words scores by its
// edit distance rather than 1, so "bank" does not match "hdfc bank".
func NewStrict(minScore float64) *Matcher {
	return &Matcher{MinScore: minScore, Similarity: Ratio}
}

// Best returns the best candidate across sources. An exact key match
// scores 1 and ends the scan. Equal scores prefer the higher tier, then the
// candidate seen first.
func (m *Matcher) Best(query model.Key, sources ...Source) (Match, bool) {
	var (
		best  Match
		found bool
	)
	text := query.Text()
	similarity := m.Similarity
	if similarity == nil {
		similarity = Score
	}

	for _, src := range sources {
		if src.Candidates == nil {
			continue
		}
		for key, rec := range src.Candidates {
			if key == query {
				return Match{Key: key, Record: rec, Tier: src.Tier, Score: 1, Exact: true}, true
			}

			score := similarity(text, key.Text())
			if score < m.MinScore {
				continue
			}
			if !found || better(score, src.Tier, best) {
				best = Match{Key: key, Record: rec, Tier: src.Tier, Score: score}
				found = true
			}
		}
	}
	return best, found
}

// Score is the similarity used for ranking, in [0,1].
func Score(a, b string) float64 {
	if a == b {
		return 1
	}
	return TokenSetRatio(a, b)
}

func better(score float64, tier model.SourceTier, cur Match) bool {
	if score != cur.Score {
		return score > cur.Score
	}
	return tier.Priority() > cur.Tier.Priority()
}

// FromMap adapts a key-indexed record map to a candidate sequence.
func FromMap(m map[model.Key]model.AddressRecord) iter.Seq2[model.Key, model.AddressRecord] {
	return func(yield func(model.Key, model.AddressRecord) bool) {
		for k, r := range m {
			if !yield(k, r) {
				return
			}
		}
	}
}

// FromRecords adapts a record slice, keyed by each record's Key.
func FromRecords(recs []model.AddressRecord) iter.Seq2[model.Key, model.AddressRecord] {
	return func(yield func(model.Key, model.AddressRecord) bool) {
		for _, r := range recs {
			if !yield(r.Key, r) {
				return
			}
		}
	}
}
