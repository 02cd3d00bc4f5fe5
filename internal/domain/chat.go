package domain

import "encoding/json"

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JSONSchema asks the model for a structured reply. Providers that cannot
// enforce a schema fall back to requesting plain JSON output.
type JSONSchema struct {
	Name   string
	Schema json.RawMessage
}

type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Schema      *JSONSchema
	Temperature *float64
	MaxTokens   int
}
