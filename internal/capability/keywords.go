package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tripc-agent/internal/domain"
)

type KeywordExtractor struct {
	llm   LLM
	model string
}

func NewKeywordExtractor(llm LLM, model string) (*KeywordExtractor, error) {
	if llm == nil {
		return nil, errors.New("capability: llm must not be nil")
	}
	return &KeywordExtractor{llm: llm, model: model}, nil
}

// Extract splits text into the three keyword tiers used by the category
// matcher.
func (e *KeywordExtractor) Extract(ctx context.Context, text string) (domain.KeywordSet, error) {
	zero := 0.0
	raw, err := e.llm.Chat(ctx, domain.ChatRequest{
		Model: e.model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: keywordPrompt()},
			{Role: "user", Content: normalizeInput(text)},
		},
		Schema:      keywordSchema,
		Temperature: &zero,
		MaxTokens:   200,
	})
	if err != nil {
		return domain.KeywordSet{}, fmt.Errorf("capability: Extract: %w", err)
	}
	kw, err := decodeStrict[domain.KeywordSet](raw)
	if err != nil {
		return domain.KeywordSet{}, fmt.Errorf("capability: Extract: %w", err)
	}
	return domain.KeywordSet{
		ProperNouns: cleanWords(kw.ProperNouns),
		Qualifiers:  cleanWords(kw.Qualifiers),
		CommonNouns: cleanWords(kw.CommonNouns),
	}, nil
}

func cleanWords(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, w := range in {
		w = normalizeInput(w)
		if w == "" {
			continue
		}
		key := strings.ToLower(w)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, w)
	}
	return out
}
