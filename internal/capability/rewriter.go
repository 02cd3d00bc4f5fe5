package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tripc-agent/internal/domain"
)

var ErrEmptyRewrite = errors.New("capability: rewrite returned empty text")

type Rewriter struct {
	llm   LLM
	model string
}

func NewRewriter(llm LLM, model string) (*Rewriter, error) {
	if llm == nil {
		return nil, errors.New("capability: llm must not be nil")
	}
	return &Rewriter{llm: llm, model: model}, nil
}

func (r *Rewriter) Rewrite(ctx context.Context, text string, lang domain.Language) (string, error) {
	temp := 0.7
	out, err := r.llm.Chat(ctx, domain.ChatRequest{
		Model: r.model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: rewritePrompt(lang)},
			{Role: "user", Content: text},
		},
		Temperature: &temp,
		MaxTokens:   600,
	})
	if err != nil {
		return "", fmt.Errorf("capability: Rewrite: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyRewrite
	}
	return out, nil
}
