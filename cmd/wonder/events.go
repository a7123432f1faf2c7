package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/wonder/internal/db"
)

// Event represents a row from the events table.
type Event struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	EventType string
	Payload   sql.NullString
	Children  []*Event
}

type treeOptions struct {
	maxDepth  int
	noPayload bool
}

func eventsCmd() *cobra.Command {
	var (
		dbPath  string
		eventID int64
		jsonOut bool
		opts    treeOptions
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the audit event tree of the latest (or a given) run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := sql.Open("sqlite3", dbPath+"?mode=ro&_journal_mode=WAL")
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer database.Close()
			if err := database.Ping(); err != nil {
				return fmt.Errorf("ping db: %w", err)
			}

			rootID := eventID
			if rootID == 0 {
				if rootID, err = latestProcessRoot(database); err != nil {
					return err
				}
			}
			events, err := querySubtree(database, rootID)
			if err != nil {
				return fmt.Errorf("query subtree: %w", err)
			}
			root := buildTree(events, rootID)
			if root == nil {
				return fmt.Errorf("event %d not found", rootID)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), root, opts)
			}
			printTree(cmd.OutOrStdout(), root, "", true, 1, opts)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", envOrDefault("WONDER_DB_PATH", "./wonder.db"), "SQLite database path")
	cmd.Flags().Int64Var(&eventID, "id", 0, "show subtree of a specific event ID")
	cmd.Flags().IntVarP(&opts.maxDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON format")
	cmd.Flags().BoolVar(&opts.noPayload, "no-payload", false, "hide payload details")
	return cmd
}

// latestProcessRoot finds the most recent process.started event.
func latestProcessRoot(database *sql.DB) (int64, error) {
	var id int64
	err := database.QueryRow(
		`SELECT id FROM events WHERE event_type = ? ORDER BY id DESC LIMIT 1`,
		db.EventProcessStarted,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("no process.started event found")
	}
	return id, err
}

// querySubtree returns all events in the subtree rooted at rootID.
func querySubtree(database *sql.DB, rootID int64) ([]*Event, error) {
	rows, err := database.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.ParentID, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// buildTree links a flat list of events into a tree rooted at rootID.
func buildTree(events []*Event, rootID int64) *Event {
	byID := make(map[int64]*Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	for _, ev := range events {
		if ev.ParentID.Valid && ev.ParentID.Int64 != ev.ID {
			if parent, ok := byID[ev.ParentID.Int64]; ok {
				parent.Children = append(parent.Children, ev)
			}
		}
	}
	for _, ev := range events {
		sort.Slice(ev.Children, func(i, j int) bool {
			return ev.Children[i].ID < ev.Children[j].ID
		})
	}
	return byID[rootID]
}

func childPrefix(prefix string, isLast bool, depth int) string {
	if depth <= 1 {
		return prefix
	}
	if isLast {
		return prefix + "    "
	}
	return prefix + "│   "
}

// printTree renders the event tree using box-drawing characters.
func printTree(w io.Writer, ev *Event, prefix string, isLast bool, depth int, opts treeOptions) {
	line := formatEvent(ev, opts.noPayload)
	if depth == 1 {
		fmt.Fprintln(w, line)
	} else {
		connector := "├── "
		if isLast {
			connector = "└── "
		}
		fmt.Fprintln(w, prefix+connector+line)
	}

	next := childPrefix(prefix, isLast, depth)
	if opts.maxDepth > 0 && depth >= opts.maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(w, next+"└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		printTree(w, child, next, i == len(ev.Children)-1, depth+1, opts)
	}
}

// formatEvent formats one line: [id] timestamp  event_type  key=value ...
func formatEvent(ev *Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", ev.ID, ts, ev.EventType)
	if noPayload {
		return line
	}
	m := decodePayload(ev)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf("  %s=%s", k, formatValue(m[k]))
	}
	return line
}

func decodePayload(ev *Event) map[string]any {
	if !ev.Payload.Valid || ev.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ev.Payload.String), &m); err != nil {
		return nil
	}
	return m
}

// formatValue converts a payload value to a display string, truncating long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if r := []rune(val); len(r) > 80 {
			return fmt.Sprintf("%q", string(r[:80])+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	EventType string      `json:"event_type"`
	Payload   any         `json:"payload,omitempty"`
	Children  []jsonEvent `json:"children,omitempty"`
}

func toJSONEvent(ev *Event, depth int, opts treeOptions) jsonEvent {
	je := jsonEvent{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
	}
	if !opts.noPayload {
		if m := decodePayload(ev); m != nil {
			je.Payload = m
		}
	}
	if opts.maxDepth > 0 && depth >= opts.maxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, opts))
	}
	return je
}

func printJSON(w io.Writer, root *Event, opts treeOptions) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toJSONEvent(root, 1, opts)); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
