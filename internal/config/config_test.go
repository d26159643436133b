package config

import (
	"errors"
	"strings"
	"testing"
)

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		ModelName:        "gemini-2.5-flash",
		EmbedderModel:    "gemini-embedding-001",
		Temperature:      0.2,
		MaxTokens:        2048,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "verity",
		PostgresPassword: "super_secret_password",
		PostgresDBName:   "verity",
		PostgresSSLMode:  "disable",
		Pipeline: Pipeline{
			IntentScopeThreshold:    0.7,
			IntentOffTopicThreshold: 0.3,
			ConfidenceFloor:         0.5,
			TopK:                    10,
			RerankTopN:              5,
			SimilarityFloor:         0.25,
			MaxContextTokens:        8192,
			ReservedForAnswer:       1024,
			MaxValidationRetries:    1,
			MaxHistoryMessages:      20,
		},
		Organization: Profile{
			Name:               "Acme",
			CanonicalQuestions: []string{"What does Acme do?"},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "empty model name",
			mutate:  func(c *Config) { c.ModelName = "" },
			wantErr: ErrInvalidModelName,
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Temperature = 2.5 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "empty embedder model",
			mutate:  func(c *Config) { c.EmbedderModel = "" },
			wantErr: ErrInvalidEmbedderModel,
		},
		{
			name:    "postgres port out of range",
			mutate:  func(c *Config) { c.PostgresPort = 70000 },
			wantErr: ErrInvalidPostgresPort,
		},
		{
			name:    "deprecated ssl mode",
			mutate:  func(c *Config) { c.PostgresSSLMode = "prefer" },
			wantErr: ErrInvalidPostgresSSLMode,
		},
		{
			name:    "scope threshold above one",
			mutate:  func(c *Config) { c.Pipeline.IntentScopeThreshold = 1.5 },
			wantErr: ErrInvalidThreshold,
		},
		{
			name:    "offtopic threshold above scope threshold",
			mutate:  func(c *Config) { c.Pipeline.IntentOffTopicThreshold = 0.9 },
			wantErr: ErrInvalidThreshold,
		},
		{
			name:    "rerank deeper than retrieval",
			mutate:  func(c *Config) { c.Pipeline.RerankTopN = 20 },
			wantErr: ErrInvalidRetrieval,
		},
		{
			name:    "answer reservation consumes whole budget",
			mutate:  func(c *Config) { c.Pipeline.ReservedForAnswer = 8192 },
			wantErr: ErrInvalidBudget,
		},
		{
			name:    "negative retry bound",
			mutate:  func(c *Config) { c.Pipeline.MaxValidationRetries = -1 },
			wantErr: ErrInvalidThreshold,
		},
		{
			name:    "missing organization name",
			mutate:  func(c *Config) { c.Organization.Name = "" },
			wantErr: ErrInvalidProfile,
		},
		{
			name:    "no canonical questions",
			mutate:  func(c *Config) { c.Organization.CanonicalQuestions = nil },
			wantErr: ErrInvalidProfile,
		},
		{
			name: "collision entity without keywords",
			mutate: func(c *Config) {
				c.Organization.CollisionEntities = []CollisionEntity{{Name: "Acme Tools GmbH"}}
			},
			wantErr: ErrInvalidProfile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	err := validConfig().Validate()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Validate() = %v, want %v", err, ErrMissingAPIKey)
	}
}

func TestValidateNil(t *testing.T) {
	t.Parallel()

	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Fatalf("Validate() = %v, want %v", err, ErrConfigNil)
	}
}

func TestMarshalJSONMasksSecrets(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.APIKey = "serve_mode_api_key_value"

	data, err := cfg.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error: %v", err)
	}

	out := string(data)
	if strings.Contains(out, "super_secret_password") {
		t.Error("postgres password leaked into JSON output")
	}
	if strings.Contains(out, "serve_mode_api_key_value") {
		t.Error("API key leaked into JSON output")
	}
	if !strings.Contains(out, maskedValue) {
		t.Error("expected mask placeholder in JSON output")
	}
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{"empty", "", ""},
		{"short fully masked", "abc123", maskedValue},
		{"long keeps edges", "my_long_secret_key", "my<" + maskedValue + ">ey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := maskSecret(tt.secret); got != tt.want {
				t.Errorf("maskSecret(%q) = %q, want %q", tt.secret, got, tt.want)
			}
		})
	}
}

func TestFullModelName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model string
		want  string
	}{
		{"bare name gets prefix", "gemini-2.5-flash", "googleai/gemini-2.5-flash"},
		{"qualified name unchanged", "googleai/gemini-2.5-pro", "googleai/gemini-2.5-pro"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &Config{ModelName: tt.model}
			if got := cfg.FullModelName(); got != tt.want {
				t.Errorf("FullModelName() = %q, want %q", got, tt.want)
			}
		})
	}
}
