package domain

// Category is one entry of the upstream catalog's product types.
type Category struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Synonyms []string `json:"synonyms,omitempty"`
	Priority int      `json:"priority,omitempty"`
}

// KeywordSet holds the three extraction tiers used for category matching.
type KeywordSet struct {
	ProperNouns []string `json:"proper_nouns"`
	Qualifiers  []string `json:"adjectives"`
	CommonNouns []string `json:"common_nouns"`
}

func (k KeywordSet) IsEmpty() bool {
	return len(k.ProperNouns) == 0 && len(k.Qualifiers) == 0 && len(k.CommonNouns) == 0
}

// Service is a catalog summary. It deliberately carries no per-item link.
type Service struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	ImageURL    string  `json:"imageUrl,omitempty"`
	Address     string  `json:"address,omitempty"`
	City        string  `json:"city,omitempty"`
	Description string  `json:"description,omitempty"`
	PriceRange  string  `json:"priceRange,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
}

type Source struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type Suggestion struct {
	Label  string `json:"label"`
	Detail string `json:"detail"`
	Action string `json:"action"`
}

// KnowledgeAnswer is what the knowledge-search capability returns.
type KnowledgeAnswer struct {
	Answer  string
	Sources []Source
}
