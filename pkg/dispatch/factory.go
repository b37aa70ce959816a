package dispatch

import (
	"fmt"

	"github.com/agentrelay/agentrelay-go/pkg/core"
	"github.com/agentrelay/agentrelay-go/pkg/llm"
	openaiLLM "github.com/agentrelay/agentrelay-go/pkg/llm/openai"
	"github.com/agentrelay/agentrelay-go/pkg/memory"
	"github.com/agentrelay/agentrelay-go/pkg/moderation"
	"github.com/agentrelay/agentrelay-go/pkg/retention"
	"github.com/agentrelay/agentrelay-go/pkg/retrieval"
	"github.com/agentrelay/agentrelay-go/pkg/storage"
	"github.com/agentrelay/agentrelay-go/pkg/storage/inmemory"
	mysqlStore "github.com/agentrelay/agentrelay-go/pkg/storage/mysql"
	postgresStore "github.com/agentrelay/agentrelay-go/pkg/storage/postgres"
	sqliteStore "github.com/agentrelay/agentrelay-go/pkg/storage/sqlite"
)

// NewFromConfig builds a fully wired Dispatcher from configuration: the
// storage backend, memory store, retrieval engine, retention policy,
// moderation filter and model provider, composed in one call.
//
// Example:
//
//	cfg, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	d, err := dispatch.NewFromConfig(cfg)
func NewFromConfig(cfg *core.Config, optFns ...func(o *Options)) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := initStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	provider, err := initLLM(cfg.LLM)
	if err != nil {
		return nil, err
	}

	store, err := memory.NewStore(backend)
	if err != nil {
		return nil, err
	}

	engine := retrieval.NewEngine(store)
	policy := retention.NewPolicy(store, cfg.Retention, nil)
	filter := moderation.NewFilter(cfg.Moderation.Terms)

	base := []func(o *Options){func(o *Options) {
		if cfg.Moderation.Policy != "" {
			o.Policy = cfg.Moderation.Policy
		}
		if cfg.Retention.CleanupEvery > 0 {
			o.CleanupEvery = cfg.Retention.CleanupEvery
		}
		if cfg.LLM.Timeout > 0 {
			o.ModelTimeout = cfg.LLM.Timeout
		}
	}}

	return New(store, engine, policy, filter, provider, append(base, optFns...)...), nil
}

// initStorage initializes the storage backend.
func initStorage(cfg core.StorageConfig) (storage.AggregateStore, error) {
	switch cfg.Provider {
	case "inmemory":
		return inmemory.NewStore(), nil
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:      stringValue(cfg.Config, "db_path"),
			TablePrefix: stringValue(cfg.Config, "table_prefix"),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:        stringValue(cfg.Config, "host"),
			Port:        intValue(cfg.Config, "port"),
			User:        stringValue(cfg.Config, "user"),
			Password:    stringValue(cfg.Config, "password"),
			DBName:      stringValue(cfg.Config, "db_name"),
			TablePrefix: stringValue(cfg.Config, "table_prefix"),
			SSLMode:     stringValue(cfg.Config, "ssl_mode"),
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:        stringValue(cfg.Config, "host"),
			Port:        intValue(cfg.Config, "port"),
			User:        stringValue(cfg.Config, "user"),
			Password:    stringValue(cfg.Config, "password"),
			DBName:      stringValue(cfg.Config, "db_name"),
			TablePrefix: stringValue(cfg.Config, "table_prefix"),
		})
	default:
		return nil, core.WrapError("initStorage", fmt.Errorf("%w: unknown storage provider %q", core.ErrInvalidConfig, cfg.Provider))
	}
}

// initLLM initializes the model provider.
func initLLM(cfg core.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, core.WrapError("initLLM", fmt.Errorf("%w: unknown llm provider %q", core.ErrInvalidConfig, cfg.Provider))
	}
}

func stringValue(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intValue(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
