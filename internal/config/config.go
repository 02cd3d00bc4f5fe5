// Package config reads startup configuration. Values come from flags bound
// into viper, TRIPC_-prefixed environment variables and an optional .env
// file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "TRIPC"

const (
	ModeLambda = "lambda"
	ModeServe  = "serve"

	SecretsSSM = "ssm"
	SecretsEnv = "env"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	Mode      string
	Addr      string
	LogLevel  string
	LogFormat string

	StateTable    string
	ParamPrefix   string
	SecretsSource string

	LLMProvider          string
	OpenAIModel          string
	OpenAIBaseURL        string
	OpenAIEmbeddingModel string
	GeminiModel          string
	GeminiEmbeddingModel string
	LLMRatePerSecond     float64
	LLMBurst             int

	CatalogBaseURL string
	RegionIDs      []int
	CategoryTTL    time.Duration
	CategoryTopK   int
	ServiceLimit   int
	SnapshotDir    string

	CapabilityTimeout time.Duration
	SessionTTL        time.Duration
	SweepInterval     time.Duration
	MaxTurns          int
	ContextTurns      int
	MaxMessageLength  int

	KnowledgeSeed string
}

// SetDefaults registers every key so AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeLambda)
	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("state_table", "")
	v.SetDefault("param_prefix", "/tripc-agent")
	v.SetDefault("secrets_source", SecretsSSM)
	v.SetDefault("llm_provider", ProviderOpenAI)
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("openai_embedding_model", "text-embedding-3-small")
	v.SetDefault("gemini_model", "gemini-2.0-flash")
	v.SetDefault("gemini_embedding_model", "text-embedding-004")
	v.SetDefault("llm_rate_per_second", 10.0)
	v.SetDefault("llm_burst", 10)
	v.SetDefault("catalog_base_url", "https://api.tripc.ai")
	v.SetDefault("region_ids", "")
	v.SetDefault("category_ttl", time.Hour)
	v.SetDefault("category_top_k", 3)
	v.SetDefault("service_limit", 5)
	v.SetDefault("snapshot_dir", "")
	v.SetDefault("capability_timeout", 8*time.Second)
	v.SetDefault("session_ttl", 30*time.Minute)
	v.SetDefault("sweep_interval", time.Minute)
	v.SetDefault("max_turns", 8)
	v.SetDefault("context_turns", 4)
	v.SetDefault("max_message_length", 1000)
	v.SetDefault("knowledge_seed", "data/knowledge.yaml")
}

// LoadDotEnv loads path into the environment when it exists. Variables
// already set in the environment win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("config: viper must not be nil")
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	regions, err := parseIDs(v.GetString("region_ids"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:                 strings.ToLower(strings.TrimSpace(v.GetString("mode"))),
		Addr:                 v.GetString("addr"),
		LogLevel:             v.GetString("log_level"),
		LogFormat:            v.GetString("log_format"),
		StateTable:           strings.TrimSpace(v.GetString("state_table")),
		ParamPrefix:          strings.TrimRight(strings.TrimSpace(v.GetString("param_prefix")), "/"),
		SecretsSource:        strings.ToLower(strings.TrimSpace(v.GetString("secrets_source"))),
		LLMProvider:          strings.ToLower(strings.TrimSpace(v.GetString("llm_provider"))),
		OpenAIModel:          v.GetString("openai_model"),
		OpenAIBaseURL:        v.GetString("openai_base_url"),
		OpenAIEmbeddingModel: v.GetString("openai_embedding_model"),
		GeminiModel:          v.GetString("gemini_model"),
		GeminiEmbeddingModel: v.GetString("gemini_embedding_model"),
		LLMRatePerSecond:     v.GetFloat64("llm_rate_per_second"),
		LLMBurst:             v.GetInt("llm_burst"),
		CatalogBaseURL:       v.GetString("catalog_base_url"),
		RegionIDs:            regions,
		CategoryTTL:          v.GetDuration("category_ttl"),
		CategoryTopK:         v.GetInt("category_top_k"),
		ServiceLimit:         v.GetInt("service_limit"),
		SnapshotDir:          strings.TrimSpace(v.GetString("snapshot_dir")),
		CapabilityTimeout:    v.GetDuration("capability_timeout"),
		SessionTTL:           v.GetDuration("session_ttl"),
		SweepInterval:        v.GetDuration("sweep_interval"),
		MaxTurns:             v.GetInt("max_turns"),
		ContextTurns:         v.GetInt("context_turns"),
		MaxMessageLength:     v.GetInt("max_message_length"),
		KnowledgeSeed:        strings.TrimSpace(v.GetString("knowledge_seed")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeLambda, ModeServe:
	default:
		errs = append(errs, fmt.Errorf("mode must be %s or %s, got %q", ModeLambda, ModeServe, c.Mode))
	}
	switch c.SecretsSource {
	case SecretsSSM:
		if c.ParamPrefix == "" {
			errs = append(errs, errors.New("param_prefix is required with ssm secrets"))
		}
	case SecretsEnv:
	default:
		errs = append(errs, fmt.Errorf("secrets_source must be %s or %s, got %q", SecretsSSM, SecretsEnv, c.SecretsSource))
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("llm_provider must be %s or %s, got %q", ProviderOpenAI, ProviderGemini, c.LLMProvider))
	}
	if c.KnowledgeSeed == "" {
		errs = append(errs, errors.New("knowledge_seed is required"))
	}

	positive := []struct {
		name string
		ok   bool
	}{
		{"llm_rate_per_second", c.LLMRatePerSecond > 0},
		{"llm_burst", c.LLMBurst > 0},
		{"category_ttl", c.CategoryTTL > 0},
		{"category_top_k", c.CategoryTopK > 0},
		{"service_limit", c.ServiceLimit > 0},
		{"capability_timeout", c.CapabilityTimeout > 0},
		{"session_ttl", c.SessionTTL > 0},
		{"sweep_interval", c.SweepInterval > 0},
		{"max_turns", c.MaxTurns > 0},
		{"context_turns", c.ContextTurns >= 0},
		{"max_message_length", c.MaxMessageLength > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, fmt.Errorf("%s is out of range", p.name))
		}
	}
	if c.ContextTurns > c.MaxTurns {
		errs = append(errs, errors.New("context_turns must not exceed max_turns"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SecretName returns the parameter path of a named secret.
func (c Config) SecretName(name string) string {
	return c.ParamPrefix + "/" + name
}

func parseIDs(raw string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("config: region_ids: invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
