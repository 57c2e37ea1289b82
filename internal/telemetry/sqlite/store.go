// Package sqlite provides a SQLite-backed telemetry store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/matchbox/internal/telemetry"
	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS telemetry_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	event_name TEXT NOT NULL,
	severity TEXT NOT NULL,
	game_id INTEGER NOT NULL DEFAULT 0,
	game_type TEXT NOT NULL DEFAULT '',
	player TEXT NOT NULL DEFAULT '',
	attrs TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_telemetry_events_game
	ON telemetry_events (game_id, timestamp);
`

// Store persists telemetry events in a SQLite database.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite telemetry store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AppendEvent persists one telemetry record.
func (s *Store) AppendEvent(ctx context.Context, evt telemetry.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.EventName) == "" {
		return fmt.Errorf("event name is required")
	}

	attrs := []byte("{}")
	if len(evt.Attrs) > 0 {
		encoded, err := json.Marshal(evt.Attrs)
		if err != nil {
			return fmt.Errorf("encode attrs: %w", err)
		}
		attrs = encoded
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO telemetry_events (timestamp, event_name, severity, game_id, game_type, player, attrs)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.Timestamp.UTC().Format(timeFormat),
		evt.EventName,
		string(evt.Severity),
		evt.GameID,
		evt.GameType,
		evt.Player,
		string(attrs),
	)
	if err != nil {
		return fmt.Errorf("insert telemetry event: %w", err)
	}
	return nil
}

// EventsForGame returns the recorded events for one game in insertion order.
func (s *Store) EventsForGame(ctx context.Context, gameID int) ([]telemetry.Event, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT timestamp, event_name, severity, game_id, game_type, player, attrs
FROM telemetry_events WHERE game_id = ? ORDER BY id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query telemetry events: %w", err)
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var evt telemetry.Event
		var ts, severity, attrs string
		if err := rows.Scan(&ts, &evt.EventName, &severity, &evt.GameID, &evt.GameType, &evt.Player, &attrs); err != nil {
			return nil, fmt.Errorf("scan telemetry event: %w", err)
		}
		if evt.Timestamp, err = time.Parse(timeFormat, ts); err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		evt.Severity = telemetry.Severity(severity)
		if attrs != "" && attrs != "{}" {
			if err := json.Unmarshal([]byte(attrs), &evt.Attrs); err != nil {
				return nil, fmt.Errorf("decode attrs: %w", err)
			}
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

var _ telemetry.Store = (*Store)(nil)
