package db

import (
	"database/sql"
	"log/slog"
)

// Recorder writes audit events on behalf of long-running components. A nil
// Recorder, or one without a database, records nothing. Failures are logged
// and never surface to callers; the event log must not break message
// handling.
type Recorder struct {
	DB     *sql.DB
	Logger *slog.Logger
}

// NewRecorder returns a Recorder backed by database.
func NewRecorder(database *sql.DB, logger *slog.Logger) *Recorder {
	return &Recorder{DB: database, Logger: logger}
}

// Log records an event under parentID (0 for a root event) and returns the
// new event id, or 0 when nothing was recorded.
func (r *Recorder) Log(parentID int64, eventType string, payload map[string]any) int64 {
	if r == nil || r.DB == nil {
		return 0
	}
	var parent *int64
	if parentID > 0 {
		parent = &parentID
	}
	id, err := LogEvent(r.DB, parent, eventType, payload)
	if err != nil {
		r.logger().Warn("event log write failed", "event_type", eventType, "error", err)
		return 0
	}
	return id
}

// RecordUpdate stores update metadata. Without a database every update is
// treated as new.
func (r *Recorder) RecordUpdate(updateID, chatID, userID int64, kind string, messageDate int64) bool {
	if r == nil || r.DB == nil {
		return true
	}
	fresh, err := RecordUpdate(r.DB, updateID, chatID, userID, kind, messageDate)
	if err != nil {
		r.logger().Warn("inbox write failed", "update_id", updateID, "error", err)
		return true
	}
	return fresh
}

func (r *Recorder) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
