package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ModerationPolicy decides the disposition of a flagged envelope.
type ModerationPolicy string

const (
	// PolicyBlock rejects flagged envelopes before they reach memory.
	PolicyBlock ModerationPolicy = "block"

	// PolicyAnnotate records flagged envelopes normally; the flag is only
	// written to the moderation stream.
	PolicyAnnotate ModerationPolicy = "annotate"
)

// Config contains the complete configuration for the relay pipeline.
//
// Example:
//
//	cfg := &core.Config{
//	    Storage: core.StorageConfig{
//	        Provider: "sqlite",
//	        Config:   map[string]interface{}{"db_path": "./relay.db"},
//	    },
//	    LLM: core.LLMConfig{Provider: "openai", APIKey: "sk-...", Model: "gpt-4"},
//	    Moderation: core.ModerationConfig{
//	        Terms:  []string{"hate", "dumb"},
//	        Policy: core.PolicyBlock,
//	    },
//	}
type Config struct {
	// Storage contains aggregate store configuration.
	Storage StorageConfig `json:"storage"`

	// LLM contains configuration for the external model collaborator.
	LLM LLMConfig `json:"llm"`

	// Moderation contains the disallowed-term set and flag disposition.
	Moderation ModerationConfig `json:"moderation"`

	// Retention contains cleanup tuning (optional; defaults applied).
	Retention RetentionConfig `json:"retention"`
}

// StorageConfig selects and configures the aggregate store backend.
type StorageConfig struct {
	// Provider is the backend name: "sqlite", "postgres", "mysql" or "inmemory".
	Provider string `json:"provider"`

	// Config contains provider-specific settings.
	// For SQLite: db_path, table_prefix
	// For PostgreSQL: host, port, user, password, db_name, table_prefix, ssl_mode
	// For MySQL: host, port, user, password, db_name, table_prefix
	Config map[string]interface{} `json:"config"`
}

// LLMConfig configures the external model provider.
type LLMConfig struct {
	// Provider is the model provider name (currently "openai").
	Provider string `json:"provider"`

	// APIKey is the provider API key.
	APIKey string `json:"api_key"`

	// Model is the model name (e.g. "gpt-4").
	Model string `json:"model"`

	// BaseURL overrides the provider endpoint (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Timeout bounds each model call. The dispatcher aborts the forward
	// step when it elapses; the inbound turn stays recorded.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ModerationConfig configures the moderation filter and flag disposition.
type ModerationConfig struct {
	// Terms is the disallowed-term set. Single words match whole tokens;
	// multi-word phrases match as case-insensitive substrings.
	Terms []string `json:"terms"`

	// Policy decides what happens to a flagged envelope: PolicyBlock
	// rejects it, PolicyAnnotate records it and only logs the flag.
	// A moderation evaluation failure always fails OPEN regardless of
	// policy, so a transient scanner fault never blocks all traffic.
	Policy ModerationPolicy `json:"policy"`
}

// RetentionConfig tunes the cleanup policy. The exact decay curve and cap
// are deliberately configuration, not constants.
type RetentionConfig struct {
	// MaxEntries caps the number of entries per aggregate. Default: 200.
	MaxEntries int `json:"max_entries,omitempty"`

	// DecayRate is the staleness decay rate of the retention score
	// (score = importance * exp(-DecayRate * hoursSinceAccess / 24)).
	// Higher values evict stale entries sooner. Default: 0.1.
	DecayRate float64 `json:"decay_rate,omitempty"`

	// ConversationHorizon is the age beyond which never-accessed
	// conversation entries become eligible for removal even above the
	// score cutoff. Default: 30 days.
	ConversationHorizon time.Duration `json:"conversation_horizon,omitempty"`

	// CleanupEvery triggers opportunistic cleanup after this many recorded
	// turns per aggregate. Default: 10.
	CleanupEvery int `json:"cleanup_every,omitempty"`
}

// Defaults for RetentionConfig.
const (
	DefaultMaxEntries          = 200
	DefaultDecayRate           = 0.1
	DefaultConversationHorizon = 30 * 24 * time.Hour
	DefaultCleanupEvery        = 10
	DefaultModelTimeout        = 60 * time.Second
)

// ApplyDefaults fills unset retention fields with their defaults.
func (c *RetentionConfig) ApplyDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.DecayRate <= 0 {
		c.DecayRate = DefaultDecayRate
	}
	if c.ConversationHorizon <= 0 {
		c.ConversationHorizon = DefaultConversationHorizon
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = DefaultCleanupEvery
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Storage.Provider == "" {
		return WrapError("Validate", ErrInvalidConfig)
	}
	switch c.Moderation.Policy {
	case "", PolicyBlock, PolicyAnnotate:
	default:
		return WrapError("Validate", ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// A .env (or .env.example) file is searched for in the current directory and
// up to five levels above it, then loaded if found.
//
// Recognized variables:
//   - DATABASE_PROVIDER (sqlite, postgres, mysql, inmemory)
//   - SQLITE_PATH, SQLITE_TABLE_PREFIX
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_SSLMODE, POSTGRES_TABLE_PREFIX
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE,
//     MYSQL_TABLE_PREFIX
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL, LLM_TIMEOUT_SECONDS
//   - MODERATION_TERMS (comma separated), MODERATION_POLICY (block, annotate)
//   - RETENTION_MAX_ENTRIES, RETENTION_DECAY_RATE, RETENTION_HORIZON_DAYS,
//     RETENTION_CLEANUP_EVERY
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	storageConfig := make(map[string]interface{})
	switch provider {
	case "sqlite":
		storageConfig = map[string]interface{}{
			"db_path":      getEnvOrDefault("SQLITE_PATH", "./agentrelay.db"),
			"table_prefix": getEnvOrDefault("SQLITE_TABLE_PREFIX", "relay"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		storageConfig = map[string]interface{}{
			"host":         getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":         port,
			"user":         getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":     os.Getenv("POSTGRES_PASSWORD"),
			"db_name":      getEnvOrDefault("POSTGRES_DATABASE", "agentrelay"),
			"table_prefix": getEnvOrDefault("POSTGRES_TABLE_PREFIX", "relay"),
			"ssl_mode":     getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		storageConfig = map[string]interface{}{
			"host":         getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":         port,
			"user":         getEnvOrDefault("MYSQL_USER", "root"),
			"password":     os.Getenv("MYSQL_PASSWORD"),
			"db_name":      getEnvOrDefault("MYSQL_DATABASE", "agentrelay"),
			"table_prefix": getEnvOrDefault("MYSQL_TABLE_PREFIX", "relay"),
		}
	}

	timeoutSecs, _ := strconv.Atoi(getEnvOrDefault("LLM_TIMEOUT_SECONDS", "60"))

	var terms []string
	for _, t := range strings.Split(os.Getenv("MODERATION_TERMS"), ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			terms = append(terms, t)
		}
	}

	maxEntries, _ := strconv.Atoi(getEnvOrDefault("RETENTION_MAX_ENTRIES", "0"))
	decayRate, _ := strconv.ParseFloat(getEnvOrDefault("RETENTION_DECAY_RATE", "0"), 64)
	horizonDays, _ := strconv.Atoi(getEnvOrDefault("RETENTION_HORIZON_DAYS", "0"))
	cleanupEvery, _ := strconv.Atoi(getEnvOrDefault("RETENTION_CLEANUP_EVERY", "0"))

	cfg := &Config{
		Storage: StorageConfig{
			Provider: provider,
			Config:   storageConfig,
		},
		LLM: LLMConfig{
			Provider: getEnvOrDefault("LLM_PROVIDER", "openai"),
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    getEnvOrDefault("LLM_MODEL", "gpt-4"),
			BaseURL:  os.Getenv("LLM_BASE_URL"),
			Timeout:  time.Duration(timeoutSecs) * time.Second,
		},
		Moderation: ModerationConfig{
			Terms:  terms,
			Policy: ModerationPolicy(getEnvOrDefault("MODERATION_POLICY", string(PolicyAnnotate))),
		},
		Retention: RetentionConfig{
			MaxEntries:          maxEntries,
			DecayRate:           decayRate,
			ConversationHorizon: time.Duration(horizonDays) * 24 * time.Hour,
			CleanupEvery:        cleanupEvery,
		},
	}
	cfg.Retention.ApplyDefaults()

	return cfg, nil
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError("LoadConfigFromJSON", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, WrapError("LoadConfigFromJSON", err)
	}
	cfg.Retention.ApplyDefaults()

	return &cfg, nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for a .env or .env.example file in the current
// directory and up to five parent directories. Returns the path and whether
// one was found.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
