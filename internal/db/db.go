package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Event types: process events
const (
	EventProcessStarted = "process.started"
	EventProcessStopped = "process.stopped"
)

// Event types: update handling events
const (
	EventUpdateReceived         = "update.received"
	EventTranscriptionCompleted = "transcription.completed"
	EventTranscriptionFailed    = "transcription.failed"
	EventCompletionCompleted    = "completion.completed"
	EventCompletionFailed       = "completion.failed"
	EventReplySent              = "reply.sent"
	EventReplyFailed            = "reply.failed"
	EventHistoryCleared         = "history.cleared"
	EventHandlerPanicked        = "handler.panicked"
	EventCircuitOpened          = "circuit.opened"
	EventCircuitHalfOpen        = "circuit.half_open"
	EventCircuitClosed          = "circuit.closed"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates the events and inbox tables. Neither table stores
// message text; conversation history lives only in memory.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);

		CREATE TABLE IF NOT EXISTS inbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			update_id INTEGER NOT NULL UNIQUE,
			chat_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			message_date INTEGER NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
	`)
	return err
}

// DeriveOffset returns the next Telegram polling offset derived from the inbox table.
// Returns 0 if inbox is empty.
func DeriveOffset(database *sql.DB) (int64, error) {
	var offset int64
	err := database.QueryRow(`SELECT COALESCE(MAX(update_id) + 1, 0) FROM inbox`).Scan(&offset)
	return offset, err
}

// RecordUpdate stores the metadata of an accepted update. It reports false
// when the update was already recorded, so a redelivered update can be
// skipped.
func RecordUpdate(database *sql.DB, updateID, chatID, userID int64, kind string, messageDate int64) (bool, error) {
	result, err := database.Exec(
		"INSERT OR IGNORE INTO inbox (update_id, chat_id, user_id, kind, message_date) VALUES (?, ?, ?, ?, ?)",
		updateID, chatID, userID, kind, messageDate,
	)
	if err != nil {
		return false, fmt.Errorf("record update %d: %w", updateID, err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}
