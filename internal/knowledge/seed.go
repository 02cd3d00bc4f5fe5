package knowledge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is one seed entry of the knowledge collection.
type Document struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	URL      string `yaml:"url"`
	ImageURL string `yaml:"image_url"`
	Language string `yaml:"language"`
	Content  string `yaml:"content"`
}

type seedFile struct {
	Documents []Document `yaml:"documents"`
}

func LoadSeed(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: LoadSeed: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseSeed(f)
}

// ParseSeed decodes a YAML seed and rejects documents without an id or
// content, or with a duplicate id.
func ParseSeed(r io.Reader) ([]Document, error) {
	var sf seedFile
	if err := yaml.NewDecoder(r).Decode(&sf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("knowledge: ParseSeed: %w", err)
	}

	seen := make(map[string]struct{}, len(sf.Documents))
	out := make([]Document, 0, len(sf.Documents))
	for i, d := range sf.Documents {
		d.ID = strings.TrimSpace(d.ID)
		d.Content = strings.TrimSpace(d.Content)
		if d.ID == "" || d.Content == "" {
			return nil, fmt.Errorf("knowledge: ParseSeed: document %d needs id and content", i)
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("knowledge: ParseSeed: duplicate document id %q", d.ID)
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}
