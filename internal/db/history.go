package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/events"
)

// DefaultHistoryLimit is used by Recent when limit is not positive.
const DefaultHistoryLimit = 50

// HistoryEntry is one executed command.
type HistoryEntry struct {
	ID         int64         `json:"id"`
	Server     string        `json:"server"`
	Command    string        `json:"command"`
	Trigger    string        `json:"trigger"`
	ResponseID int32         `json:"response_id"`
	Response   string        `json:"response"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// HistoryStore records executed commands in SQLite.
type HistoryStore struct {
	db *Database
}

// NewHistoryStore opens the database at dbPath and migrates the schema.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hs := &HistoryStore{db: database}
	if err := hs.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return hs, nil
}

func (hs *HistoryStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS command_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL,
			command TEXT NOT NULL,
			trigger_source TEXT NOT NULL DEFAULT '',
			response_id INTEGER NOT NULL DEFAULT 0,
			response TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			executed_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_command_history_server
			ON command_history(server, executed_at);
	`
	_, err := hs.db.Exec(ctx, schema)
	return err
}

// Close closes the underlying database.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

// Record stores e and returns its row id. A zero ExecutedAt is set to now.
func (hs *HistoryStore) Record(ctx context.Context, e HistoryEntry) (int64, error) {
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now()
	}

	res, err := hs.db.Exec(ctx, `
		INSERT INTO command_history
			(server, command, trigger_source, response_id, response, error, duration_ms, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Server, e.Command, e.Trigger, e.ResponseID, e.Response, e.Error,
		e.Duration.Milliseconds(), e.ExecutedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record command: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first. An empty server
// returns entries for all servers.
func (hs *HistoryStore) Recent(ctx context.Context, server string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
		SELECT id, server, command, trigger_source, response_id, response, error, duration_ms, executed_at
		FROM command_history`
	args := []interface{}{}
	if server != "" {
		query += ` WHERE server = ?`
		args = append(args, server)
	}
	query += ` ORDER BY executed_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := hs.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (hs *HistoryStore) Count(ctx context.Context) (int, error) {
	var n int
	err := hs.db.QueryRow(ctx, `SELECT COUNT(*) FROM command_history`).Scan(&n)
	return n, err
}

// Prune deletes entries executed before cutoff.
func (hs *HistoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := hs.db.Exec(ctx, `DELETE FROM command_history WHERE executed_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(rows *sql.Rows) (HistoryEntry, error) {
	var (
		e          HistoryEntry
		durationMS int64
		executedMS int64
	)
	if err := rows.Scan(&e.ID, &e.Server, &e.Command, &e.Trigger, &e.ResponseID,
		&e.Response, &e.Error, &durationMS, &executedMS); err != nil {
		return HistoryEntry{}, fmt.Errorf("failed to scan history row: %w", err)
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	e.ExecutedAt = time.UnixMilli(executedMS)
	return e, nil
}

// Subscribe records every executed command published on bus.
func (hs *HistoryStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventCommandExecuted, "history", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.CommandExecutedPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}

		_, err := hs.Record(context.WithoutCancel(ctx), HistoryEntry{
			Server:     p.Server,
			Command:    p.Command,
			Trigger:    string(p.Trigger),
			ResponseID: p.ResponseID,
			Response:   p.Response,
			Error:      p.Error,
			Duration:   p.Duration,
			ExecutedAt: e.Time,
		})
		if err != nil {
			return err
		}
		log.Trace().Str("server", p.Server).Msg("command recorded")
		return nil
	})
}
