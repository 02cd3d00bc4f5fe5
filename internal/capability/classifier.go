package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tripc-agent/internal/domain"
)

var (
	bookingKeywords = []string{
		"đặt bàn", "đặt chỗ", "đặt phòng", "đặt tour", "giữ chỗ",
		"book", "booking", "booked", "reserve", "reservation", "reserved",
	}
	serviceKeywords = []string{
		"nhà hàng", "quán", "khách sạn", "homestay", "resort", "hải sản", "món", "ăn", "tìm", "gợi ý",
		"restaurant", "hotel", "cafe", "coffee", "seafood", "food", "eat", "find", "recommend", "nearby",
	}
)

type Classifier struct {
	llm      LLM
	model    string
	fallback bool
	logger   *slog.Logger
}

type ClassifierOption func(*Classifier)

// WithKeywordFallback labels messages from a fixed keyword table when the
// model call fails instead of returning the error.
func WithKeywordFallback(enabled bool) ClassifierOption {
	return func(c *Classifier) {
		c.fallback = enabled
	}
}

func WithClassifierLogger(l *slog.Logger) ClassifierOption {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClassifier(llm LLM, model string, opts ...ClassifierOption) (*Classifier, error) {
	if llm == nil {
		return nil, errors.New("capability: llm must not be nil")
	}
	c := &Classifier{llm: llm, model: model, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify labels text with one intent of the closed set. Output the model
// cannot be decoded into a known label becomes IntentKnowledge.
func (c *Classifier) Classify(ctx context.Context, text string) (domain.Intent, error) {
	zero := 0.0
	raw, err := c.llm.Chat(ctx, domain.ChatRequest{
		Model: c.model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: classifierPrompt()},
			{Role: "user", Content: normalizeInput(text)},
		},
		Schema:      intentSchema,
		Temperature: &zero,
		MaxTokens:   20,
	})
	if err != nil {
		if c.fallback && ctx.Err() == nil {
			intent := KeywordIntent(text)
			c.logger.Warn("intent classifier unavailable, using keyword fallback", "intent", intent, "err", err)
			return intent, nil
		}
		return "", fmt.Errorf("capability: Classify: %w", err)
	}

	out, err := decodeStrict[struct {
		Intent string `json:"intent"`
	}](raw)
	if err != nil {
		c.logger.Warn("unreadable classifier output", "err", err)
		return domain.IntentKnowledge, nil
	}
	return domain.ParseIntent(out.Intent), nil
}

// KeywordIntent is the deterministic classifier used when the model is
// unavailable.
func KeywordIntent(text string) domain.Intent {
	lower := strings.ToLower(text)
	for _, kw := range bookingKeywords {
		if containsWord(lower, kw) {
			return domain.IntentBooking
		}
	}
	for _, kw := range serviceKeywords {
		if containsWord(lower, kw) {
			return domain.IntentService
		}
	}
	return domain.IntentKnowledge
}

func containsWord(text, word string) bool {
	for _, f := range strings.FieldsFunc(text, isSeparator) {
		if f == word {
			return true
		}
	}
	if strings.Contains(word, " ") {
		return strings.Contains(text, word)
	}
	return false
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', ',', '.', '!', '?', ';', ':', '(', ')', '"', '\'':
		return true
	}
	return false
}
