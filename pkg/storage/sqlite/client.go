// Package sqlite provides a SQLite implementation of the AggregateStore.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-node deployments. Aggregates are stored one row per
// (user_id, agent_id) with the embedded entries JSON-encoded in a TEXT field.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentrelay/agentrelay-go/pkg/storage"
)

// Client implements AggregateStore using SQLite as the backend.
type Client struct {
	db          *sql.DB
	tablePrefix string
}

// Config contains configuration for creating a SQLite AggregateStore.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TablePrefix prefixes the aggregate and moderation tables
	// (default: "relay").
	TablePrefix string
}

// NewClient creates a new SQLite AggregateStore, creating the database file
// and tables if needed.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = "relay"
	}

	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
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
			entries TEXT NOT NULL DEFAULT '[]',
			summary TEXT NOT NULL DEFAULT '',
			last_updated DATETIME DEFAULT CURRENT_TIMESTAMP,
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
			matched_terms TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		)
	`, c.moderationTable())

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// GetOrCreate returns the aggregate for the key, creating an empty row if
// none exists. INSERT OR IGNORE makes the create race safe: the unique
// primary key guarantees a single row per pair and racing creators read back
// the same row.
func (c *Client) GetOrCreate(ctx context.Context, userID, agentID string) (*storage.Aggregate, error) {
	query := fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (user_id, agent_id) VALUES (?, ?)
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
		WHERE user_id = ? AND agent_id = ?
	`, c.aggregatesTable())

	row := c.db.QueryRowContext(ctx, query, userID, agentID)

	agg, err := scanAggregate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return agg, nil
}

// Save atomically replaces the stored aggregate document.
func (c *Client) Save(ctx context.Context, agg *storage.Aggregate) error {
	entriesJSON, err := json.Marshal(agg.Entries)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, agent_id, entries, summary, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, agent_id) DO UPDATE SET
			entries = excluded.entries,
			summary = excluded.summary,
			last_updated = excluded.last_updated
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
		VALUES (?, ?, ?, ?, ?, ?)
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
	if opts.From != "" {
		whereClause = "WHERE from_agent = ?"
		args = append(args, opts.From)
	}
	if opts.To != "" {
		if whereClause == "" {
			whereClause = "WHERE to_agent = ?"
		} else {
			whereClause += " AND to_agent = ?"
		}
		args = append(args, opts.To)
	}

	limitClause := ""
	if opts.Limit > 0 {
		limitClause = "LIMIT ?"
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
		var termsStr string
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.From, &rec.To, &termsStr, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("ListModeration: %w", err)
		}
		if err := json.Unmarshal([]byte(termsStr), &rec.MatchedTerms); err != nil {
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

// scanAggregate scans an aggregate row, decoding the embedded entries.
func scanAggregate(row *sql.Row) (*storage.Aggregate, error) {
	var agg storage.Aggregate
	var entriesStr string

	if err := row.Scan(&agg.UserID, &agg.AgentID, &entriesStr, &agg.Summary, &agg.LastUpdated); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(entriesStr), &agg.Entries); err != nil {
		return nil, fmt.Errorf("parse entries: %w", err)
	}

	return &agg, nil
}
