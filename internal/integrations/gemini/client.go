package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"tripc-agent/internal/domain"
)

// TokenSource yields the API key. *paramstore.Token satisfies it.
type TokenSource interface {
	Value(ctx context.Context) (string, error)
}

// Client adapts the Gemini API to the same chat and embedding surface as the
// OpenAI client. The underlying genai client is built on first use, once the
// API key has been resolved.
type Client struct {
	token      TokenSource
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	client *genai.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(token TokenSource, opts ...Option) (*Client, error) {
	if token == nil {
		return nil, errors.New("gemini: token source must not be nil")
	}
	c := &Client{token: token}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	apiKey, err := c.token.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve api key: %w", err)
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.client = client
	return client, nil
}

// Chat maps system messages onto the system instruction and assistant turns
// onto the "model" role. A schema request switches the reply to JSON mode and
// spells the schema out in the system instruction.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (string, error) {
	if req.Model == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return "", err
	}

	system, contents := toContents(req.Messages)
	cfg := &genai.GenerateContentConfig{}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		system = strings.TrimSpace(system + "\n\nRespond with JSON only, matching this JSON schema:\n" + string(req.Schema.Schema))
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	res, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	text := responseText(res)
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}

// Embed returns a query embedding for text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if model == "" {
		return nil, errors.New("gemini: embedding model must not be empty")
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}
	res, err := client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_QUERY",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: embed content: %w", err)
	}
	if len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini: no embedding in response")
	}
	return res.Embeddings[0].Values, nil
}

func toContents(messages []domain.ChatMessage) (string, []*genai.Content) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(contents) == 0 {
		contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: ""}}})
	}
	return strings.Join(system, "\n\n"), contents
}

func responseText(res *genai.GenerateContentResponse) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range res.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text == "" || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
		break
	}
	return b.String()
}
