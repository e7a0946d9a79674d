package retrieval

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/textnorm"
)

// indexed is a record with its composite search index: tokens from every
// field name and non-empty value, plus each whole normalized value.
type indexed struct {
	rec     domain.DynamicRecord
	tokens  []string
	entries map[string]bool
}

// Match is a scored record. Score is a distance in [0,1]; 0 is exact.
type Match struct {
	Record domain.DynamicRecord
	Score  float64
}

func buildIndex(records []domain.DynamicRecord) []indexed {
	out := make([]indexed, 0, len(records))
	for _, rec := range records {
		ix := indexed{rec: rec, entries: make(map[string]bool)}
		seen := make(map[string]bool)
		add := func(s string) {
			if n := textnorm.Normalize(s); n != "" {
				ix.entries[n] = true
			}
			for _, tok := range textnorm.Tokens(s) {
				if !seen[tok] {
					seen[tok] = true
					ix.tokens = append(ix.tokens, tok)
				}
			}
		}
		for _, fv := range rec.NonEmpty() {
			add(fv.Name)
			add(fv.Value.String())
		}
		out = append(out, ix)
	}
	return out
}

// tokenDistance compares two normalized tokens.
func tokenDistance(a, b string) float64 {
	if a == b {
		return 0
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if min(la, lb) >= 3 && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return 0.1
	}
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}

func (ix indexed) score(queryTokens []string, queryNorm string) float64 {
	if queryNorm != "" && ix.entries[queryNorm] {
		return 0
	}
	if len(queryTokens) == 0 || len(ix.tokens) == 0 {
		return 1
	}
	total := 0.0
	for _, qt := range queryTokens {
		best := 1.0
		for _, syn := range textnorm.Expand(qt) {
			for _, it := range ix.tokens {
				if d := tokenDistance(syn, it); d < best {
					best = d
				}
			}
			if best == 0 {
				break
			}
		}
		total += best
	}
	return total / float64(len(queryTokens))
}

// search scores every record and returns up to k matches within
// threshold, best first. Ties keep catalog order.
func search(index []indexed, queryTokens []string, queryNorm string, threshold float64, k int) []Match {
	matches := make([]Match, 0, len(index))
	for _, ix := range index {
		if s := ix.score(queryTokens, queryNorm); s <= threshold {
			matches = append(matches, Match{Record: ix.rec, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score < matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// rankByOverlap orders records by how many query tokens (synonyms
// included) appear in their index, keeping catalog order on ties. When
// nothing overlaps the first limit records are returned.
func rankByOverlap(index []indexed, queryTokens []string, limit int) []domain.DynamicRecord {
	type ranked struct {
		rec     domain.DynamicRecord
		overlap int
	}
	rs := make([]ranked, 0, len(index))
	anyOverlap := false
	for _, ix := range index {
		set := make(map[string]bool, len(ix.tokens))
		for _, t := range ix.tokens {
			set[t] = true
		}
		n := 0
		for _, qt := range queryTokens {
			for _, syn := range textnorm.Expand(qt) {
				if set[syn] {
					n++
					break
				}
			}
		}
		if n > 0 {
			anyOverlap = true
		}
		rs = append(rs, ranked{rec: ix.rec, overlap: n})
	}

	if anyOverlap {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].overlap > rs[j].overlap })
		kept := rs[:0]
		for _, r := range rs {
			if r.overlap > 0 {
				kept = append(kept, r)
			}
		}
		rs = kept
	}
	if limit > 0 && len(rs) > limit {
		rs = rs[:limit]
	}
	out := make([]domain.DynamicRecord, len(rs))
	for i, r := range rs {
		out[i] = r.rec
	}
	return out
}
