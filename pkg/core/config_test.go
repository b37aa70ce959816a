package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay-go/pkg/core"
)

func TestRetentionConfigDefaults(t *testing.T) {
	var cfg core.RetentionConfig
	cfg.ApplyDefaults()

	assert.Equal(t, core.DefaultMaxEntries, cfg.MaxEntries)
	assert.Equal(t, core.DefaultDecayRate, cfg.DecayRate)
	assert.Equal(t, core.DefaultConversationHorizon, cfg.ConversationHorizon)
	assert.Equal(t, core.DefaultCleanupEvery, cfg.CleanupEvery)
}

func TestRetentionConfigKeepsExplicitValues(t *testing.T) {
	cfg := core.RetentionConfig{
		MaxEntries:          50,
		DecayRate:           0.3,
		ConversationHorizon: 7 * 24 * time.Hour,
		CleanupEvery:        5,
	}
	cfg.ApplyDefaults()

	assert.Equal(t, 50, cfg.MaxEntries)
	assert.Equal(t, 0.3, cfg.DecayRate)
	assert.Equal(t, 7*24*time.Hour, cfg.ConversationHorizon)
	assert.Equal(t, 5, cfg.CleanupEvery)
}

func TestConfigValidate(t *testing.T) {
	cfg := &core.Config{
		Storage: core.StorageConfig{Provider: "sqlite"},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Moderation.Policy = core.PolicyBlock
	assert.NoError(t, cfg.Validate())

	cfg.Moderation.Policy = "escalate"
	assert.Error(t, cfg.Validate())

	cfg = &core.Config{}
	assert.Error(t, cfg.Validate(), "missing storage provider")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/relay-test.db")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("LLM_MODEL", "gpt-4")
	t.Setenv("LLM_TIMEOUT_SECONDS", "15")
	t.Setenv("MODERATION_TERMS", "hate, dumb , shut up,")
	t.Setenv("MODERATION_POLICY", "block")
	t.Setenv("RETENTION_MAX_ENTRIES", "100")

	cfg, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Provider)
	assert.Equal(t, "/tmp/relay-test.db", cfg.Storage.Config["db_path"])
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, []string{"hate", "dumb", "shut up"}, cfg.Moderation.Terms)
	assert.Equal(t, core.PolicyBlock, cfg.Moderation.Policy)
	assert.Equal(t, 100, cfg.Retention.MaxEntries)
	assert.Equal(t, core.DefaultDecayRate, cfg.Retention.DecayRate, "unset retention fields pick up defaults")
}

func TestLoadConfigFromEnvDefaultPolicy(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "inmemory")
	t.Setenv("MODERATION_POLICY", "")
	t.Setenv("MODERATION_TERMS", "")

	cfg, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, core.PolicyAnnotate, cfg.Moderation.Policy)
	assert.Empty(t, cfg.Moderation.Terms)
}

func TestLoadConfigFromJSON(t *testing.T) {
	content := `{
		"storage": {
			"provider": "postgres",
			"config": {"host": "db.internal", "port": 5432, "db_name": "relay"}
		},
		"llm": {"provider": "openai", "api_key": "k", "model": "gpt-4"},
		"moderation": {"terms": ["spam"], "policy": "annotate"},
		"retention": {"max_entries": 40}
	}`

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := core.LoadConfigFromJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Provider)
	assert.Equal(t, "db.internal", cfg.Storage.Config["host"])
	assert.Equal(t, []string{"spam"}, cfg.Moderation.Terms)
	assert.Equal(t, 40, cfg.Retention.MaxEntries)
	assert.Equal(t, core.DefaultCleanupEvery, cfg.Retention.CleanupEvery)
}

func TestLoadConfigFromJSONMissingFile(t *testing.T) {
	_, err := core.LoadConfigFromJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
