package catalog

import (
	"cmp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"tripc-agent/internal/domain"
)

const (
	weightNoun      = 3
	weightQualifier = 1
	exactMultiplier = 2

	// Keywords shorter than this only count on exact matches.
	minPartialRunes = 3
)

// Index is an immutable snapshot of the category catalog. A refresh builds a
// new Index rather than editing an existing one.
type Index struct {
	Version   uint64
	FetchedAt time.Time

	entries []indexEntry
}

type indexEntry struct {
	category domain.Category
	terms    []string
}

func NewIndex(version uint64, fetchedAt time.Time, categories []domain.Category) *Index {
	ix := &Index{Version: version, FetchedAt: fetchedAt, entries: make([]indexEntry, 0, len(categories))}
	for _, c := range categories {
		c.Synonyms = slices.Clone(c.Synonyms)
		terms := make([]string, 0, 1+len(c.Synonyms))
		for _, t := range append([]string{c.Name}, c.Synonyms...) {
			if t = normalizeTerm(t); t != "" && !slices.Contains(terms, t) {
				terms = append(terms, t)
			}
		}
		ix.entries = append(ix.entries, indexEntry{category: c, terms: terms})
	}
	return ix
}

func (ix *Index) Len() int {
	return len(ix.entries)
}

// Categories returns a copy of the indexed categories.
func (ix *Index) Categories() []domain.Category {
	out := make([]domain.Category, len(ix.entries))
	for i, e := range ix.entries {
		e.category.Synonyms = slices.Clone(e.category.Synonyms)
		out[i] = e.category
	}
	return out
}

type scored struct {
	category domain.Category
	score    int
}

// Match ranks categories against kw and returns up to topK identifiers.
// Ties go to higher priority, then lower identifier.
func (ix *Index) Match(kw domain.KeywordSet, topK int) []int {
	if kw.IsEmpty() || topK <= 0 {
		return nil
	}

	var tiers []weighted
	tiers = appendTier(tiers, kw.ProperNouns, weightNoun)
	tiers = appendTier(tiers, kw.CommonNouns, weightNoun)
	tiers = appendTier(tiers, kw.Qualifiers, weightQualifier)

	var hits []scored
	for _, e := range ix.entries {
		total := 0
		for _, w := range tiers {
			total += termScore(w.keyword, e.terms) * w.weight
		}
		if total > 0 {
			hits = append(hits, scored{category: e.category, score: total})
		}
	}

	slices.SortFunc(hits, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.category.Priority, a.category.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.category.ID, b.category.ID)
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	ids := make([]int, len(hits))
	for i, h := range hits {
		ids[i] = h.category.ID
	}
	return ids
}

type weighted struct {
	keyword string
	weight  int
}

func appendTier(dst []weighted, keywords []string, weight int) []weighted {
	for _, k := range keywords {
		if k = normalizeTerm(k); k != "" {
			dst = append(dst, weighted{keyword: k, weight: weight})
		}
	}
	return dst
}

// termScore is the best score of keyword against any of terms.
func termScore(keyword string, terms []string) int {
	best := 0
	for _, t := range terms {
		switch {
		case t == keyword:
			return exactMultiplier
		case utf8.RuneCountInString(keyword) >= minPartialRunes &&
			(strings.Contains(t, keyword) || strings.Contains(keyword, t)):
			best = 1
		}
	}
	return best
}

func normalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(norm.NFC.String(s))), " ")
}
