package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate checks configuration values. Returned errors wrap the package
// sentinels so callers can use errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if err := c.validatePostgres(); err != nil {
		return err
	}
	if err := c.Pipeline.validate(); err != nil {
		return err
	}
	if err := c.Organization.validate(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validatePostgres() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "verity_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"hint", "set postgres_password for production deployments")
	}

	// Deprecated allow/prefer modes are excluded, they are MITM-prone.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

func (p Pipeline) validate() error {
	if p.IntentScopeThreshold <= 0 || p.IntentScopeThreshold > 1 {
		return fmt.Errorf("%w: intent_scope_threshold must be in (0, 1], got %.2f",
			ErrInvalidThreshold, p.IntentScopeThreshold)
	}
	if p.IntentOffTopicThreshold < 0 || p.IntentOffTopicThreshold >= p.IntentScopeThreshold {
		return fmt.Errorf("%w: intent_offtopic_threshold must be in [0, intent_scope_threshold), got %.2f",
			ErrInvalidThreshold, p.IntentOffTopicThreshold)
	}
	if p.ConfidenceFloor <= 0 || p.ConfidenceFloor > 1 {
		return fmt.Errorf("%w: confidence_floor must be in (0, 1], got %.2f",
			ErrInvalidThreshold, p.ConfidenceFloor)
	}
	if p.SimilarityFloor < 0 || p.SimilarityFloor >= 1 {
		return fmt.Errorf("%w: similarity_floor must be in [0, 1), got %.2f",
			ErrInvalidThreshold, p.SimilarityFloor)
	}

	if p.TopK < 1 {
		return fmt.Errorf("%w: top_k must be at least 1, got %d", ErrInvalidRetrieval, p.TopK)
	}
	if p.RerankTopN < 1 || p.RerankTopN > p.TopK {
		return fmt.Errorf("%w: rerank_top_n must be in [1, top_k], got %d",
			ErrInvalidRetrieval, p.RerankTopN)
	}

	if p.MaxContextTokens < 1 {
		return fmt.Errorf("%w: max_context_tokens must be positive, got %d",
			ErrInvalidBudget, p.MaxContextTokens)
	}
	if p.ReservedForAnswer < 0 || p.ReservedForAnswer >= p.MaxContextTokens {
		return fmt.Errorf("%w: reserved_for_answer must be in [0, max_context_tokens), got %d",
			ErrInvalidBudget, p.ReservedForAnswer)
	}

	if p.MaxValidationRetries < 0 {
		return fmt.Errorf("%w: max_validation_retries cannot be negative, got %d",
			ErrInvalidThreshold, p.MaxValidationRetries)
	}
	if p.MaxHistoryMessages < 0 {
		return fmt.Errorf("%w: max_history_messages cannot be negative, got %d",
			ErrInvalidThreshold, p.MaxHistoryMessages)
	}

	return nil
}

func (p Profile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: organization.name cannot be empty", ErrInvalidProfile)
	}
	if len(p.CanonicalQuestions) == 0 {
		return fmt.Errorf("%w: organization.canonical_questions cannot be empty", ErrInvalidProfile)
	}
	for i, e := range p.CollisionEntities {
		if e.Name == "" {
			return fmt.Errorf("%w: collision_entities[%d].name cannot be empty", ErrInvalidProfile, i)
		}
		if len(e.Keywords) == 0 {
			return fmt.Errorf("%w: collision_entities[%d] %q needs at least one keyword",
				ErrInvalidProfile, i, e.Name)
		}
	}
	return nil
}
