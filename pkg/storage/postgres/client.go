// Package postgres provides a PostgreSQL implementation of the
// AggregateStore.
//
// Aggregates are stored one row per (user_id, agent_id) with the embedded
// entries JSON-encoded. The composite primary key plus ON CONFLICT handling
// make get-or-create atomic across concurrent connections.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/agentrelay/agentrelay-go/pkg/storage"
)

// Client implements AggregateStore using PostgreSQL as the backend.
type Client struct {
	db          *sql.DB
	tablePrefix string
}

// Config contains configuration for creating a PostgreSQL AggregateStore.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string

	// TablePrefix prefixes the aggregate and moderation tables
	// (default: "relay").
	TablePrefix string

	// SSLMode is the libpq sslmode setting (default: "disable").
	SSLMode string
}

// NewClient creates a new PostgreSQL AggregateStore, creating the tables if
// needed.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = "relay"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{
		db:          db,
		tablePrefix: cfg.TablePrefix,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

func (c *Client) aggregatesTable() string {
	return c.tablePrefix + "_aggregates"
}

func (c *Client) moderationTable() string {
	return c.tablePrefix + "_moderation"
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			entries JSONB NOT NULL DEFAULT '[]',
			summary TEXT NOT NULL DEFAULT '',
			last_updated TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (user_id, agent_id)
		)
	`, c.aggregatesTable())

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	query = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			from_agent TEXT NOT NULL,
			to_agent TEXT NOT NULL,
			matched_terms JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL
		)
	`, c.moderationTable())

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// GetOrCreate returns the aggregate for the key, inserting an empty row if
// none exists. ON CONFLICT DO NOTHING makes the create race safe.
func (c *Client) GetOrCreate(ctx context.Context, userID, agentID string) (*storage.Aggregate, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, agent_id) VALUES ($1, $2)
		ON CONFLICT (user_id, agent_id) DO NOTHING
	`, c.aggregatesTable())

	if _, err := c.db.ExecContext(ctx, query, userID, agentID); err != nil {
		return nil, fmt.Errorf("GetOrCreate: %w", err)
	}

	return c.Get(ctx, userID, agentID)
}

// Get returns the aggregate for the key.
func (c *Client) Get(ctx context.Context, userID, agentID string) (*storage.Aggregate, error) {
	query := fmt.Sprintf(`
		SELECT user_id, agent_id, entries, summary, last_updated
		FROM %s
		WHERE user_id = $1 AND agent_id = $2
	`, c.aggregatesTable())

	var agg storage.Aggregate
	var entriesRaw []byte

	err := c.db.QueryRowContext(ctx, query, userID, agentID).Scan(
		&agg.UserID, &agg.AgentID, &entriesRaw, &agg.Summary, &agg.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	if err := json.Unmarshal(entriesRaw, &agg.Entries); err != nil {
		return nil, fmt.Errorf("Get: parse entries: %w", err)
	}

	return &agg, nil
}

// Save atomically replaces the stored aggregate document.
func (c *Client) Save(ctx context.Context, agg *storage.Aggregate) error {
	entriesJSON, err := json.Marshal(agg.Entries)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, agent_id, entries, summary, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, agent_id) DO UPDATE SET
			entries = EXCLUDED.entries,
			summary = EXCLUDED.summary,
			last_updated = EXCLUDED.last_updated
	`, c.aggregatesTable())

	_, err = c.db.ExecContext(ctx, query,
		agg.UserID,
		agg.AgentID,
		string(entriesJSON),
		agg.Summary,
		agg.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	return nil
}

// AppendModeration appends one record to the moderation stream.
func (c *Client) AppendModeration(ctx context.Context, rec *storage.ModerationRecord) error {
	termsJSON, err := json.Marshal(rec.MatchedTerms)
	if err != nil {
		return fmt.Errorf("AppendModeration: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, from_agent, to_agent, matched_terms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.moderationTable())

	_, err = c.db.ExecContext(ctx, query,
		rec.ID,
		rec.Content,
		rec.From,
		rec.To,
		string(termsJSON),
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("AppendModeration: %w", err)
	}

	return nil
}

// ListModeration reads the moderation stream, newest first.
func (c *Client) ListModeration(ctx context.Context, opts *storage.ListModerationOptions) ([]*storage.ModerationRecord, error) {
	if opts == nil {
		opts = &storage.ListModerationOptions{}
	}

	whereClause := ""
	var args []interface{}
	argPos := 1
	if opts.From != "" {
		whereClause = fmt.Sprintf("WHERE from_agent = $%d", argPos)
		args = append(args, opts.From)
		argPos++
	}
	if opts.To != "" {
		if whereClause == "" {
			whereClause = fmt.Sprintf("WHERE to_agent = $%d", argPos)
		} else {
			whereClause += fmt.Sprintf(" AND to_agent = $%d", argPos)
		}
		args = append(args, opts.To)
		argPos++
	}

	limitClause := ""
	if opts.Limit > 0 {
		limitClause = fmt.Sprintf("LIMIT $%d", argPos)
		args = append(args, opts.Limit)
	}

	query := fmt.Sprintf(`
		SELECT id, content, from_agent, to_agent, matched_terms, created_at
		FROM %s
		%s
		ORDER BY created_at DESC
		%s
	`, c.moderationTable(), whereClause, limitClause)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListModeration: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.ModerationRecord
	for rows.Next() {
		var rec storage.ModerationRecord
		var termsRaw []byte
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.From, &rec.To, &termsRaw, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("ListModeration: %w", err)
		}
		if err := json.Unmarshal(termsRaw, &rec.MatchedTerms); err != nil {
			return nil, fmt.Errorf("ListModeration: parse matched_terms: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
