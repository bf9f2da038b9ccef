package db

import (
	"time"

	"github.com/google/uuid"
)

// CommandRecord is one entry in the audit log of lines written to the node.
type CommandRecord struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordCommand appends a command line to the audit log and returns its
// generated ID. Source names the actor that issued the line ("api",
// "scheduler", "advisor").
func (db *DB) RecordCommand(command, source string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		"INSERT INTO commands (command_id, command, source) VALUES (?, ?, ?)",
		id, command, source)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListCommands returns the most recent audit log entries, newest first.
func (db *DB) ListCommands(limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT command_id, command, source, timestamp
		FROM commands
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		if err := rows.Scan(&rec.ID, &rec.Command, &rec.Source, &rec.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
