package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"tripc-agent/internal/domain"
)

var (
	intentSchema = &domain.JSONSchema{
		Name: "intent",
		Schema: json.RawMessage(`{"type":"object","additionalProperties":false,"required":["intent"],` +
			`"properties":{"intent":{"type":"string","enum":["knowledge_question","service_search","booking_intent"]}}}`),
	}
	keywordSchema = &domain.JSONSchema{
		Name: "keywords",
		Schema: json.RawMessage(`{"type":"object","additionalProperties":false,` +
			`"required":["proper_nouns","adjectives","common_nouns"],"properties":{` +
			`"proper_nouns":{"type":"array","items":{"type":"string"}},` +
			`"adjectives":{"type":"array","items":{"type":"string"}},` +
			`"common_nouns":{"type":"array","items":{"type":"string"}}}}`),
	}
)

func classifierPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You label messages sent to a Vietnamese travel assistant.",
		"",
		"Labels:",
		"- knowledge_question: questions about destinations, culture, weather, travel tips or the TripC product.",
		"- service_search: the user wants to find restaurants, hotels, tours or other bookable services.",
		"- booking_intent: the user wants to book, reserve or hand over contact details.",
		"",
		"Output Contract:",
		"Return JSON only with the single key intent.",
	}, "\n")
}

func keywordPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You extract search keywords from a travel request written in Vietnamese or English.",
		"",
		"Rules:",
		"1) proper_nouns: place names, brand names, named dishes.",
		"2) adjectives: descriptive qualifiers such as cheap, romantic, fresh.",
		"3) common_nouns: generic service or food words such as seafood, hotel, hotpot.",
		"4) Keep the words in the language the user wrote them.",
		"5) Use empty arrays when a tier has no words.",
		"",
		"Output Contract:",
		"Return JSON only with keys proper_nouns, adjectives and common_nouns.",
	}, "\n")
}

func rewritePrompt(lang domain.Language) string {
	language := "English"
	if lang == domain.LanguageVI {
		language = "Vietnamese"
	}
	return strings.Join([]string{
		"Rewrite the assistant answer below so it reads friendly and conversational.",
		"Keep every fact, name, number and address unchanged.",
		"Do not add information. Do not add greetings longer than one short sentence.",
		"Answer in " + language + " and return only the rewritten text.",
	}, "\n")
}

// decodeStrict decodes exactly one JSON value into T, rejecting unknown
// fields and trailing data.
func decodeStrict[T any](raw string) (T, error) {
	var out T
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return out, errors.New("decode: multiple JSON values")
		}
		return out, fmt.Errorf("decode trailing data: %w", err)
	}
	return out, nil
}

func normalizeInput(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
