package capability

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"tripc-agent/internal/domain"
)

// LLM is the chat completion surface shared by the openai and gemini clients.
type LLM interface {
	Chat(ctx context.Context, req domain.ChatRequest) (string, error)
}

// RateLimitedLLM throttles every Chat call through a token bucket.
type RateLimitedLLM struct {
	next    LLM
	limiter *rate.Limiter
}

func NewRateLimitedLLM(next LLM, perSecond float64, burst int) (*RateLimitedLLM, error) {
	if next == nil {
		return nil, errors.New("capability: llm must not be nil")
	}
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedLLM{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}, nil
}

func (l *RateLimitedLLM) Chat(ctx context.Context, req domain.ChatRequest) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("capability: rate limit wait: %w", err)
	}
	return l.next.Chat(ctx, req)
}
