package knowledge

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tripc-agent/internal/domain"
)

const testDims = 64

// bagOfWords is a deterministic embedding: one hashed bucket per word plus a
// constant bias dimension so no vector is zero.
func bagOfWords(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, testDims)
	vec[0] = 1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,?!")))
		vec[1+int(h.Sum32()%(testDims-1))] += 1
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []domain.ChatRequest
}

func (f *fakeLLM) Chat(_ context.Context, req domain.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

func seedDocs() []Document {
	return []Document{
		{ID: "danang-beaches", Title: "Bãi biển Đà Nẵng", URL: "https://tripc.ai/blog/danang-beaches", Content: "My Khe beach in Da Nang is famous for soft sand and calm water."},
		{ID: "hoian-lanterns", Title: "Phố cổ Hội An", URL: "https://tripc.ai/blog/hoian", ImageURL: "https://cdn.tripc.ai/hoian.jpg", Content: "Hoi An old town lights lanterns every full moon night."},
		{ID: "hoian-food", Title: "Ẩm thực Hội An", URL: "https://tripc.ai/blog/hoian", Content: "Hoi An food includes cao lau and white rose dumplings."},
	}
}

// ---------------------------------------------------------------------------
// Seed parsing

func TestParseSeed(t *testing.T) {
	docs, err := ParseSeed(strings.NewReader(`
documents:
  - id: " a "
    title: Title A
    url: https://example.com/a
    image_url: https://example.com/a.jpg
    language: vi
    content: |
      Nội dung A
`))
	require.NoError(t, err)
	require.Equal(t, []Document{{
		ID: "a", Title: "Title A", URL: "https://example.com/a", ImageURL: "https://example.com/a.jpg",
		Language: "vi", Content: "Nội dung A",
	}}, docs)
}

func TestParseSeed_Rejects(t *testing.T) {
	_, err := ParseSeed(strings.NewReader("documents:\n  - id: a\n"))
	require.ErrorContains(t, err, "needs id and content")

	_, err = ParseSeed(strings.NewReader("documents:\n  - {id: a, content: x}\n  - {id: a, content: y}\n"))
	require.ErrorContains(t, err, "duplicate")

	_, err = ParseSeed(strings.NewReader("documents: [unterminated"))
	require.Error(t, err)
}

func TestParseSeed_Empty(t *testing.T) {
	docs, err := ParseSeed(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestLoadSeed_MissingFile(t *testing.T) {
	_, err := LoadSeed(t.TempDir() + "/missing.yaml")
	require.Error(t, err)
}

func TestLoadSeed_BundledSeedParses(t *testing.T) {
	docs, err := LoadSeed("../../data/knowledge.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, docs)
}

// ---------------------------------------------------------------------------
// Searcher

func TestNewSearcher_ValidatesDeps(t *testing.T) {
	_, err := NewSearcher(context.Background(), nil, nil, &fakeLLM{}, "m")
	require.Error(t, err)
	_, err = NewSearcher(context.Background(), nil, bagOfWords, nil, "m")
	require.Error(t, err)
}

func TestSearch_ComposesAnswerWithSources(t *testing.T) {
	llm := &fakeLLM{reply: "  Hội An thắp đèn lồng vào đêm rằm.  "}
	s, err := NewSearcher(context.Background(), seedDocs(), bagOfWords, llm, "m", WithResults(3), WithMinSimilarity(0))
	require.NoError(t, err)
	require.Equal(t, 3, s.Count())

	got, err := s.Search(context.Background(), "When does Hoi An light lanterns?", domain.LanguageVI, []domain.Turn{
		{Role: domain.RoleUser, Text: "Hội An có gì?"},
		{Role: domain.RoleAssistant, Text: " "},
	})
	require.NoError(t, err)
	require.Equal(t, "Hội An thắp đèn lồng vào đêm rằm.", got.Answer)

	// Two Hoi An documents share one URL, so it is listed once.
	require.Len(t, got.Sources, 2)
	require.Equal(t, "https://tripc.ai/blog/hoian", got.Sources[0].URL)

	req := llm.reqs[0]
	require.Contains(t, req.Messages[0].Content, "Vietnamese")
	require.Contains(t, req.Messages[1].Content, "lanterns")
	require.Len(t, req.Messages, 4)
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "Hội An có gì?"}, req.Messages[2])
}

func TestSearch_ResultsClampedToCollectionSize(t *testing.T) {
	s, err := NewSearcher(context.Background(), seedDocs()[:1], bagOfWords, &fakeLLM{reply: "ok"}, "m", WithResults(10), WithMinSimilarity(0))
	require.NoError(t, err)

	got, err := s.Search(context.Background(), "beach", domain.LanguageEN, nil)
	require.NoError(t, err)
	require.Len(t, got.Sources, 1)
}

func TestSearch_NoRelevantDocuments(t *testing.T) {
	llm := &fakeLLM{reply: "General guidance."}
	s, err := NewSearcher(context.Background(), seedDocs(), bagOfWords, llm, "m", WithMinSimilarity(0.99))
	require.NoError(t, err)

	got, err := s.Search(context.Background(), "visa requirements", domain.LanguageEN, nil)
	require.NoError(t, err)
	require.Empty(t, got.Sources)
	require.Contains(t, llm.reqs[0].Messages[1].Content, "(none)")
}

func TestSearch_EmptyCollection(t *testing.T) {
	s, err := NewSearcher(context.Background(), nil, bagOfWords, &fakeLLM{reply: "ok"}, "m")
	require.NoError(t, err)

	got, err := s.Search(context.Background(), "anything", domain.LanguageEN, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", got.Answer)
	require.Empty(t, got.Sources)
}

func TestSearch_Errors(t *testing.T) {
	s, err := NewSearcher(context.Background(), seedDocs(), bagOfWords, &fakeLLM{err: errors.New("down")}, "m")
	require.NoError(t, err)
	_, err = s.Search(context.Background(), "beach", domain.LanguageEN, nil)
	require.ErrorContains(t, err, "down")

	s, err = NewSearcher(context.Background(), seedDocs(), bagOfWords, &fakeLLM{reply: " "}, "m")
	require.NoError(t, err)
	_, err = s.Search(context.Background(), "beach", domain.LanguageEN, nil)
	require.ErrorIs(t, err, ErrEmptyAnswer)
}
