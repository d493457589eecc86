// Package config loads CollabIQ's runtime configuration from the
// environment (with .env fallback via the secret store), the same
// getEnv/getEnvInt idiom the teacher uses for its worker configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"collabiq/core/domain"
)

// DuplicateBehavior mirrors writer.DuplicateBehavior at the config layer
// to avoid a config->service import.
type DuplicateBehavior string

const (
	DuplicateSkip   DuplicateBehavior = "skip"
	DuplicateUpdate DuplicateBehavior = "update"
)

// Config is CollabIQ's full runtime configuration: workspace connection,
// provider roster, daemon cadence, and the persisted-state directory
// layout (§6).
type Config struct {
	Environment string

	// Data directory layout (§6): data/{state,health,cache,dlq,logs}
	DataDir string

	// Workspace API
	WorkspaceBaseURL     string
	WorkspaceToken       string
	CompaniesDatabaseID  string
	UsersDatabaseID      string
	CollabsDatabaseID    string
	DuplicateBehavior    DuplicateBehavior
	WorkspaceRateLimitRPS int

	// LLM providers, in config-file/env order; Priority must be unique.
	Providers []domain.ProviderConfig

	// Orchestrator
	ExtractionStrategy  domain.Strategy
	QualityRouting      bool
	OrchestratorTimeout time.Duration
	FuzzyThreshold      float64
	AbstentionThreshold float64

	// Daemon
	CycleInterval time.Duration

	// Secrets
	EnvFilePath string

	// Logging
	LogLevel string
}

// Load reads configuration from the environment, applying the same
// defaults the spec calls out (§5, §6).
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "production"),

		DataDir: getEnv("COLLABIQ_DATA_DIR", "data"),

		WorkspaceBaseURL:      getEnv("WORKSPACE_BASE_URL", ""),
		WorkspaceToken:        getEnv("WORKSPACE_TOKEN", ""),
		CompaniesDatabaseID:   getEnv("WORKSPACE_COMPANIES_DB_ID", ""),
		UsersDatabaseID:       getEnv("WORKSPACE_USERS_DB_ID", ""),
		CollabsDatabaseID:     getEnv("WORKSPACE_COLLABS_DB_ID", ""),
		DuplicateBehavior:     DuplicateBehavior(getEnv("DUPLICATE_BEHAVIOR", string(DuplicateSkip))),
		WorkspaceRateLimitRPS: getEnvInt("WORKSPACE_RATE_LIMIT_RPS", 3),

		ExtractionStrategy:  domain.Strategy(getEnv("EXTRACTION_STRATEGY", string(domain.StrategyFailover))),
		QualityRouting:      getEnvBool("QUALITY_ROUTING", false),
		OrchestratorTimeout: time.Duration(getEnvInt("ORCHESTRATOR_TIMEOUT_SEC", 90)) * time.Second,
		FuzzyThreshold:      getEnvFloat("CONSENSUS_FUZZY_THRESHOLD", 0.85),
		AbstentionThreshold: getEnvFloat("CONSENSUS_ABSTENTION_THRESHOLD", 0.25),

		CycleInterval: time.Duration(getEnvInt("CYCLE_INTERVAL_MS", 60000)) * time.Millisecond,

		EnvFilePath: getEnv("COLLABIQ_ENV_FILE", ".env"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	cfg.Providers = loadProviders()

	if cfg.CompaniesDatabaseID == "" || cfg.UsersDatabaseID == "" || cfg.CollabsDatabaseID == "" {
		return nil, fmt.Errorf("config: WORKSPACE_COMPANIES_DB_ID, WORKSPACE_USERS_DB_ID, and WORKSPACE_COLLABS_DB_ID are required")
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("config: no LLM providers enabled")
	}

	return cfg, nil
}

// loadProviders builds the provider roster from env, defaulting to the
// three adapters CollabIQ ships (openai/anthropic/gemini), each
// individually disable-able and price-configurable (§3 "Provider
// config").
func loadProviders() []domain.ProviderConfig {
	defaults := []domain.ProviderConfig{
		{Name: "openai", ModelID: getEnv("OPENAI_MODEL", "gpt-4o-mini"), Priority: 1,
			InputPricePerMTok: getEnvFloat("OPENAI_INPUT_PRICE_PER_MTOK", 0.15),
			OutputPricePerMTok: getEnvFloat("OPENAI_OUTPUT_PRICE_PER_MTOK", 0.60)},
		{Name: "anthropic", ModelID: getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"), Priority: 2,
			InputPricePerMTok: getEnvFloat("ANTHROPIC_INPUT_PRICE_PER_MTOK", 0.80),
			OutputPricePerMTok: getEnvFloat("ANTHROPIC_OUTPUT_PRICE_PER_MTOK", 4.00)},
		{Name: "gemini", ModelID: getEnv("GEMINI_MODEL", "gemini-1.5-flash"), Priority: 3,
			InputPricePerMTok: getEnvFloat("GEMINI_INPUT_PRICE_PER_MTOK", 0.075),
			OutputPricePerMTok: getEnvFloat("GEMINI_OUTPUT_PRICE_PER_MTOK", 0.30)},
	}

	var enabled []domain.ProviderConfig
	for _, p := range defaults {
		envKey := "PROVIDER_" + strings.ToUpper(p.Name) + "_ENABLED"
		p.Enabled = getEnvBool(envKey, true)
		p.TimeoutMS = getEnvInt("PROVIDER_"+strings.ToUpper(p.Name)+"_TIMEOUT_MS", 60000)
		p.MaxRetries = getEnvInt("PROVIDER_"+strings.ToUpper(p.Name)+"_MAX_RETRIES", 3)
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
