package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gian-ai/recommendations/pkg/slogx"
	_ "modernc.org/sqlite"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS queries (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	server_datetime TEXT NOT NULL,
	topic           TEXT NOT NULL,
	request_id      TEXT NOT NULL,
	target          TEXT NOT NULL,
	choice_group    TEXT NOT NULL,
	choices         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queries_request ON queries(request_id);

CREATE TABLE IF NOT EXISTS solutions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	server_datetime TEXT NOT NULL,
	request_id      TEXT NOT NULL,
	target          TEXT NOT NULL,
	choice_group    TEXT NOT NULL,
	choices         TEXT NOT NULL,
	choice          TEXT NOT NULL,
	uncertainty     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_solutions_request ON solutions(request_id);

CREATE TABLE IF NOT EXISTS observations (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	server_datetime TEXT NOT NULL,
	message         TEXT NOT NULL,
	target          TEXT NOT NULL,
	result          TEXT NOT NULL
);
`

var tables = map[string]string{
	KindQuery:   "queries",
	KindSolve:   "solutions",
	KindObserve: "observations",
}

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Ledger stores records in a SQLite database.
type Ledger struct {
	db     *sql.DB
	topics Topics
	logger *slog.Logger
}

// OpenLedger opens or creates the database at path and applies the schema.
func OpenLedger(path string, topics Topics) (*Ledger, error) {
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sink: open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sink: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: migrate ledger: %w", err)
	}
	return &Ledger{
		db:     db,
		topics: topics,
		logger: slogx.Component("mq.sink.ledger"),
	}, nil
}

func (l *Ledger) Record(ctx context.Context, line []byte) {
	rec, err := l.topics.Parse(line)
	if errors.Is(err, ErrNotRecorded) {
		return
	}
	if err != nil {
		l.logger.Warn("skipping line", slogx.Error(err), slogx.ByteString("line", line))
		return
	}
	if err := l.Insert(ctx, rec); err != nil {
		l.logger.Error("insert record", slogx.Error(err), slog.String("kind", rec.Kind()))
	}
}

// Insert stores one record.
func (l *Ledger) Insert(ctx context.Context, rec Record) error {
	var err error
	switch r := rec.(type) {
	case QueryRecord:
		_, err = l.db.ExecContext(ctx,
			`INSERT INTO queries (server_datetime, topic, request_id, target, choice_group, choices) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ServerDatetime, r.Topic, r.RequestID, r.Target, r.Group, r.Choices)
	case SolveRecord:
		_, err = l.db.ExecContext(ctx,
			`INSERT INTO solutions (server_datetime, request_id, target, choice_group, choices, choice, uncertainty) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ServerDatetime, r.RequestID, r.Target, r.Group, r.Choices, r.Choice, r.Uncertainty)
	case ObserveRecord:
		_, err = l.db.ExecContext(ctx,
			`INSERT INTO observations (server_datetime, message, target, result) VALUES (?, ?, ?, ?)`,
			r.ServerDatetime, r.Message, r.Target, r.Result)
	default:
		return fmt.Errorf("sink: unsupported record %T", rec)
	}
	return err
}

// Count returns the number of stored records of kind.
func (l *Ledger) Count(ctx context.Context, kind string) (int, error) {
	table, ok := tables[kind]
	if !ok {
		return 0, fmt.Errorf("sink: unknown kind %q", kind)
	}
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("sink: count %s: %w", table, err)
	}
	return n, nil
}

// Solutions returns the stored solve records for a request, oldest first.
func (l *Ledger) Solutions(ctx context.Context, requestID string) ([]SolveRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT server_datetime, request_id, target, choice_group, choices, choice, uncertainty
		 FROM solutions WHERE request_id = ? ORDER BY id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("sink: query solutions: %w", err)
	}
	defer rows.Close()

	var out []SolveRecord
	for rows.Next() {
		var r SolveRecord
		if err := rows.Scan(&r.ServerDatetime, &r.RequestID, &r.Target, &r.Group, &r.Choices, &r.Choice, &r.Uncertainty); err != nil {
			return nil, fmt.Errorf("sink: scan solution: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
