package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tripc-agent/internal/domain"
)

func sampleCategories() []domain.Category {
	return []domain.Category{
		{ID: 1, Name: "Restaurant", Synonyms: []string{"nhà hàng", "seafood", "dining"}},
		{ID: 2, Name: "Hotel", Synonyms: []string{"khách sạn", "resort"}},
		{ID: 3, Name: "Tour", Synonyms: []string{"excursion"}},
		{ID: 4, Name: "Seafood Market", Synonyms: []string{"chợ hải sản"}},
		{ID: 5, Name: "Spa", Synonyms: []string{"massage"}, Priority: 1},
		{ID: 6, Name: "Spa & Wellness", Synonyms: []string{"massage"}},
	}
}

func TestIndexMatch_EmptyKeywords(t *testing.T) {
	ix := NewIndex(1, time.Now(), sampleCategories())
	require.Empty(t, ix.Match(domain.KeywordSet{}, 3))
}

func TestIndexMatch_ExactNameRanksFirst(t *testing.T) {
	ix := NewIndex(1, time.Now(), sampleCategories())
	for _, c := range sampleCategories() {
		got := ix.Match(domain.KeywordSet{CommonNouns: []string{c.Name}}, 3)
		require.NotEmpty(t, got, c.Name)
		require.Equal(t, c.ID, got[0], c.Name)
	}
}

func TestIndexMatch_CaseAndNormalization(t *testing.T) {
	ix := NewIndex(1, time.Now(), sampleCategories())

	got := ix.Match(domain.KeywordSet{ProperNouns: []string{"  HOTEL "}}, 3)
	require.Equal(t, []int{2}, got)

	// Decomposed "khách sạn" must match the precomposed synonym.
	decomposed := "kha\u0301ch sa\u0323n"
	got = ix.Match(domain.KeywordSet{CommonNouns: []string{decomposed}}, 3)
	require.Equal(t, []int{2}, got)
}

func TestIndexMatch_NounsOutweighQualifiers(t *testing.T) {
	ix := NewIndex(1, time.Now(), sampleCategories())
	got := ix.Match(domain.KeywordSet{
		Qualifiers:  []string{"resort"},
		CommonNouns: []string{"excursion"},
	}, 3)
	require.Equal(t, []int{3, 2}, got)
}

func TestIndexMatch_PartialMatches(t *testing.T) {
	ix := NewIndex(1, time.Now(), sampleCategories())
	got := ix.Match(domain.KeywordSet{CommonNouns: []string{"seafood"}, Qualifiers: []string{"fresh"}}, 3)
	// Exact synonym on Restaurant beats the partial hit on Seafood Market.
	require.Equal(t, []int{1, 4}, got)
}

func TestIndexMatch_TieBreaks(t *testing.T) {
	ix := NewIndex(1, time.Now(), sampleCategories())
	got := ix.Match(domain.KeywordSet{CommonNouns: []string{"massage"}}, 3)
	require.Equal(t, []int{5, 6}, got)

	same := NewIndex(1, time.Now(), []domain.Category{
		{ID: 9, Name: "Cafe"},
		{ID: 7, Name: "Cafe Bar"},
		{ID: 8, Name: "cafe"},
	})
	got = same.Match(domain.KeywordSet{CommonNouns: []string{"cafe"}}, 5)
	require.Equal(t, []int{8, 9, 7}, got)
}

func TestIndexMatch_TopK(t *testing.T) {
	cats := []domain.Category{
		{ID: 1, Name: "beach bar"},
		{ID: 2, Name: "beach club"},
		{ID: 3, Name: "beach resort"},
		{ID: 4, Name: "beach tour"},
	}
	ix := NewIndex(1, time.Now(), cats)
	require.Equal(t, []int{1, 2}, ix.Match(domain.KeywordSet{CommonNouns: []string{"beach"}}, 2))
}

func TestIndexMatch_ShortKeywordsNeedExactMatch(t *testing.T) {
	ix := NewIndex(1, time.Now(), sampleCategories())
	require.Empty(t, ix.Match(domain.KeywordSet{Qualifiers: []string{"a"}}, 3))
}

func TestIndex_CategoriesIsACopy(t *testing.T) {
	ix := NewIndex(1, time.Now(), sampleCategories())
	cats := ix.Categories()
	cats[0].Synonyms[0] = "mutated"
	require.Equal(t, "nhà hàng", ix.Categories()[0].Synonyms[0])
}
