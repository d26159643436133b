// Package config loads and validates application configuration.
//
// Sources, highest priority first:
//  1. Environment variables
//  2. Config file (~/.verity/config.yaml, or ./config.yaml)
//  3. Defaults
//
// Sensitive values (postgres password, API keys) are masked by MarshalJSON
// and String, so logging the config is safe.
//
// All pipeline policy knobs live here: intent thresholds, retrieval depths,
// token budgets and the validation retry bound are configuration, never
// constants in the pipeline code.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidThreshold indicates a pipeline threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrInvalidRetrieval indicates retrieval depth settings are inconsistent.
	ErrInvalidRetrieval = errors.New("invalid retrieval settings")

	// ErrInvalidBudget indicates token budget settings are inconsistent.
	ErrInvalidBudget = errors.New("invalid token budget")

	// ErrInvalidProfile indicates the organization profile is incomplete.
	ErrInvalidProfile = errors.New("invalid organization profile")
)

// Pipeline holds every tunable policy parameter of the answer pipeline.
type Pipeline struct {
	// IntentScopeThreshold is the centroid similarity above which a
	// question is considered in scope without consulting the LLM guard.
	IntentScopeThreshold float64 `mapstructure:"intent_scope_threshold" json:"intent_scope_threshold"`

	// IntentOffTopicThreshold is the centroid similarity below which a
	// question is rejected as off topic without consulting the LLM guard.
	IntentOffTopicThreshold float64 `mapstructure:"intent_offtopic_threshold" json:"intent_offtopic_threshold"`

	// ConfidenceFloor marks classifications below it as ambiguous; the
	// pipeline then proceeds with a hedged framing instead of refusing.
	ConfidenceFloor float64 `mapstructure:"confidence_floor" json:"confidence_floor"`

	// TopK is the number of passages fetched from the vector store.
	TopK int `mapstructure:"top_k" json:"top_k"`

	// RerankTopN is the number of passages kept after reranking.
	RerankTopN int `mapstructure:"rerank_top_n" json:"rerank_top_n"`

	// SimilarityFloor drops passages below this cosine similarity.
	SimilarityFloor float64 `mapstructure:"similarity_floor" json:"similarity_floor"`

	// MaxContextTokens is the total prompt budget.
	MaxContextTokens int `mapstructure:"max_context_tokens" json:"max_context_tokens"`

	// ReservedForAnswer is subtracted from MaxContextTokens before
	// passages and history are fitted.
	ReservedForAnswer int `mapstructure:"reserved_for_answer" json:"reserved_for_answer"`

	// OverlapThreshold is the minimum fraction of a sentence's content
	// words that must appear in the selected passages for the sentence to
	// count as supported.
	OverlapThreshold float64 `mapstructure:"overlap_threshold" json:"overlap_threshold"`

	// MaxValidationRetries bounds regeneration after a failed grounding
	// check. Defaults to one retry.
	MaxValidationRetries int `mapstructure:"max_validation_retries" json:"max_validation_retries"`

	// MaxHistoryMessages caps how many prior turns are loaded.
	MaxHistoryMessages int `mapstructure:"max_history_messages" json:"max_history_messages"`
}

// Reranker configures the external cross-encoder scoring service.
type Reranker struct {
	// URL of the scoring endpoint. Empty disables reranking entirely
	// (every turn degrades to embedding order).
	URL string `mapstructure:"url" json:"url"`

	// TimeoutMS bounds a single scoring call.
	TimeoutMS int `mapstructure:"timeout_ms" json:"timeout_ms"`
}

// CollisionEntity names an unrelated organization that shares the target's
// name, with vocabulary that identifies it.
type CollisionEntity struct {
	Name     string   `mapstructure:"name" json:"name"`
	Keywords []string `mapstructure:"keywords" json:"keywords"`
}

// Profile describes the single organization the assistant answers for.
type Profile struct {
	// Name is the canonical organization name.
	Name string `mapstructure:"name" json:"name"`

	// Aliases are alternative spellings and abbreviations.
	Aliases []string `mapstructure:"aliases" json:"aliases"`

	// DomainKeywords is in-scope vocabulary (products, services, topics).
	DomainKeywords []string `mapstructure:"domain_keywords" json:"domain_keywords"`

	// OffTopicKeywords immediately push a question toward off topic.
	OffTopicKeywords []string `mapstructure:"offtopic_keywords" json:"offtopic_keywords"`

	// CanonicalQuestions seed the intent centroid embedding.
	CanonicalQuestions []string `mapstructure:"canonical_questions" json:"canonical_questions"`

	// IndicatorKeywords strongly signal the target organization when a
	// name collision is possible.
	IndicatorKeywords []string `mapstructure:"indicator_keywords" json:"indicator_keywords"`

	// CollisionEntities are known unrelated organizations with the same
	// or a confusable name.
	CollisionEntities []CollisionEntity `mapstructure:"collision_entities" json:"collision_entities"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; update it when
// adding passwords, keys or tokens.
type Config struct {
	// Model configuration
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve mode
	ServerAddr   string   `mapstructure:"server_addr" json:"server_addr"`
	CORSOrigins  []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy   bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	APIKey       string   `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	RateLimitRPS float64  `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`

	Pipeline     Pipeline `mapstructure:"pipeline" json:"pipeline"`
	Reranker     Reranker `mapstructure:"reranker" json:"reranker"`
	Organization Profile  `mapstructure:"organization" json:"organization"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".verity")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", "gemini-embedding-001")
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("max_tokens", 2048)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "verity")
	viper.SetDefault("postgres_password", "verity_dev_password")
	viper.SetDefault("postgres_db_name", "verity")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("server_addr", ":8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_limit_rps", 5.0)

	viper.SetDefault("pipeline.intent_scope_threshold", 0.7)
	viper.SetDefault("pipeline.intent_offtopic_threshold", 0.3)
	viper.SetDefault("pipeline.confidence_floor", 0.5)
	viper.SetDefault("pipeline.top_k", 10)
	viper.SetDefault("pipeline.rerank_top_n", 5)
	viper.SetDefault("pipeline.similarity_floor", 0.25)
	viper.SetDefault("pipeline.max_context_tokens", 8192)
	viper.SetDefault("pipeline.reserved_for_answer", 1024)
	viper.SetDefault("pipeline.overlap_threshold", 0.25)
	viper.SetDefault("pipeline.max_validation_retries", 1)
	viper.SetDefault("pipeline.max_history_messages", 20)

	viper.SetDefault("reranker.url", "")
	viper.SetDefault("reranker.timeout_ms", 3000)

	// The bundled profile describes a fictional organization so the
	// service runs out of the box; deployments override this block.
	viper.SetDefault("organization.name", "Acme")
	viper.SetDefault("organization.aliases", []string{"acme", "acme corp", "acme corporation"})
	viper.SetDefault("organization.domain_keywords", []string{
		"pricing", "plan", "subscription", "support", "onboarding",
		"integration", "api", "dashboard", "account", "billing",
	})
	viper.SetDefault("organization.offtopic_keywords", []string{
		"weather", "recipe", "lyrics", "horoscope", "sports score",
	})
	viper.SetDefault("organization.canonical_questions", []string{
		"What does Acme do?",
		"How much does the Acme platform cost?",
		"How do I integrate Acme with my existing tools?",
		"What support options does Acme offer?",
		"How do I reset my Acme account password?",
	})
	viper.SetDefault("organization.indicator_keywords", []string{
		"platform", "saas", "dashboard", "workspace",
	})
}

// bindEnvVariables binds runtime overrides explicitly. GEMINI_API_KEY is
// read directly by Genkit, not through viper; Validate checks its presence.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "VERITY_MODEL_NAME")
	mustBind("embedder_model", "VERITY_EMBEDDER_MODEL")
	mustBind("api_key", "VERITY_API_KEY")
	mustBind("server_addr", "VERITY_SERVER_ADDR")
	mustBind("cors_origins", "VERITY_CORS_ORIGINS")
	mustBind("trust_proxy", "VERITY_TRUST_PROXY")
	mustBind("reranker.url", "VERITY_RERANKER_URL")
	mustBind("organization.name", "VERITY_ORGANIZATION")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep two characters on each end for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields. Update when adding secrets.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// A name already containing "/" is returned as is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return "googleai/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
