package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/philippgille/chromem-go"

	"tripc-agent/internal/domain"
)

const (
	collectionName       = "tripc_knowledge"
	defaultResults       = 3
	defaultMinSimilarity = 0.35
)

var ErrEmptyAnswer = errors.New("knowledge: model returned an empty answer")

type LLM interface {
	Chat(ctx context.Context, req domain.ChatRequest) (string, error)
}

// Searcher answers travel questions from a vector collection of curated
// documents. Sources are the documents the answer was grounded on.
type Searcher struct {
	collection    *chromem.Collection
	llm           LLM
	model         string
	results       int
	minSimilarity float32
	logger        *slog.Logger
}

type Option func(*Searcher)

func WithResults(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.results = n
		}
	}
}

func WithMinSimilarity(v float32) Option {
	return func(s *Searcher) {
		s.minSimilarity = v
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSearcher embeds docs into an in-memory collection.
func NewSearcher(ctx context.Context, docs []Document, embed chromem.EmbeddingFunc, llm LLM, model string, opts ...Option) (*Searcher, error) {
	if embed == nil {
		return nil, errors.New("knowledge: embedding func must not be nil")
	}
	if llm == nil {
		return nil, errors.New("knowledge: llm must not be nil")
	}

	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("knowledge: create collection: %w", err)
	}

	s := &Searcher{
		collection:    col,
		llm:           llm,
		model:         model,
		results:       defaultResults,
		minSimilarity: defaultMinSimilarity,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if len(docs) > 0 {
		chromemDocs := make([]chromem.Document, 0, len(docs))
		for _, d := range docs {
			chromemDocs = append(chromemDocs, chromem.Document{
				ID:      d.ID,
				Content: d.Content,
				Metadata: map[string]string{
					"title":     d.Title,
					"url":       d.URL,
					"image_url": d.ImageURL,
					"language":  d.Language,
				},
			})
		}
		if err := col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("knowledge: add documents: %w", err)
		}
	}
	s.logger.Info("knowledge collection ready", "documents", col.Count())
	return s, nil
}

func (s *Searcher) Count() int {
	return s.collection.Count()
}

// Search retrieves the closest documents and has the model compose an answer
// from them. history is replayed to the model but never used for retrieval.
func (s *Searcher) Search(ctx context.Context, query string, lang domain.Language, history []domain.Turn) (domain.KnowledgeAnswer, error) {
	hits, err := s.retrieve(ctx, query)
	if err != nil {
		return domain.KnowledgeAnswer{}, err
	}

	messages := []domain.ChatMessage{
		{Role: "system", Content: answerPrompt(lang)},
		{Role: "system", Content: contextPrompt(hits)},
	}
	for _, t := range history {
		if text := strings.TrimSpace(t.Text); text != "" {
			messages = append(messages, domain.ChatMessage{Role: string(t.Role), Content: text})
		}
	}
	messages = append(messages, domain.ChatMessage{Role: "user", Content: strings.TrimSpace(query)})

	temp := 0.3
	raw, err := s.llm.Chat(ctx, domain.ChatRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   700,
	})
	if err != nil {
		return domain.KnowledgeAnswer{}, fmt.Errorf("knowledge: Search: %w", err)
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return domain.KnowledgeAnswer{}, ErrEmptyAnswer
	}
	return domain.KnowledgeAnswer{Answer: answer, Sources: sourcesOf(hits)}, nil
}

func (s *Searcher) retrieve(ctx context.Context, query string) ([]chromem.Result, error) {
	n := min(s.results, s.collection.Count())
	if n == 0 {
		return nil, nil
	}
	results, err := s.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("knowledge: query collection: %w", err)
	}
	hits := results[:0]
	for _, r := range results {
		if r.Similarity >= s.minSimilarity {
			hits = append(hits, r)
		}
	}
	s.logger.Debug("knowledge retrieval", "candidates", len(results), "hits", len(hits))
	return hits, nil
}

func sourcesOf(hits []chromem.Result) []domain.Source {
	var out []domain.Source
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		url := h.Metadata["url"]
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, domain.Source{
			Title:    h.Metadata["title"],
			URL:      url,
			ImageURL: h.Metadata["image_url"],
		})
	}
	return out
}

func answerPrompt(lang domain.Language) string {
	language := "English"
	if lang == domain.LanguageVI {
		language = "Vietnamese"
	}
	return strings.Join([]string{
		"Role:",
		"You are TripC's travel assistant for Vietnam.",
		"",
		"Behavior Rules:",
		"1) Prefer the reference documents provided in this request.",
		"2) Keep the answer under 150 words.",
		"3) Never invent prices, opening hours or phone numbers.",
		"4) If the documents do not cover the question, give brief general guidance.",
		"5) Answer in " + language + ".",
	}, "\n")
}

func contextPrompt(hits []chromem.Result) string {
	if len(hits) == 0 {
		return "Reference Documents:\n(none)"
	}
	var b strings.Builder
	b.WriteString("Reference Documents:")
	for i, h := range hits {
		fmt.Fprintf(&b, "\n\n[%d] %s\n%s", i+1, h.Metadata["title"], h.Content)
	}
	return b.String()
}
