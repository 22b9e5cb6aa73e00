package capture

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// IndexFileName is the index database name inside the capture directory.
const IndexFileName = "captures.db"

// Entry is one indexed artifact.
type Entry struct {
	RunID      string    `json:"run_id"`
	ReqID      int64     `json:"req_id"`
	Kind       Kind      `json:"kind"`
	Date       string    `json:"date"`
	ReceivedAt time.Time `json:"received_at"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Status     int       `json:"status,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Truncated  bool      `json:"truncated,omitempty"`
}

// Index is a SQLite catalogue of written artifacts, queryable by day.
type Index struct {
	db      *sql.DB
	path    string
	addStmt *sql.Stmt
}

// OpenIndex opens (creating if needed) the index database at path.
func OpenIndex(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("index path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, int((5 * time.Second).Milliseconds()))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	idx := &Index{db: db, path: path}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	idx.addStmt, err = db.Prepare(`
		INSERT OR REPLACE INTO captures
			(run_id, req_id, kind, capture_date, received_at, method, url, status, mode, path, size, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	return idx, nil
}

func (i *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS captures (
		run_id TEXT NOT NULL,
		req_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		capture_date TEXT NOT NULL,
		received_at INTEGER NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		mode TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		truncated INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, req_id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_captures_date ON captures(capture_date);
	`
	_, err := i.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (i *Index) Path() string { return i.path }

// Add inserts or replaces the row for e.
func (i *Index) Add(ctx context.Context, e Entry) error {
	_, err := i.addStmt.ExecContext(ctx,
		e.RunID, e.ReqID, string(e.Kind), e.Date, e.ReceivedAt.UnixMilli(),
		e.Method, e.URL, e.Status, e.Mode, e.Path, e.Size, e.Truncated,
	)
	if err != nil {
		return fmt.Errorf("failed to index %s artifact of request %d: %w", e.Kind, e.ReqID, err)
	}
	return nil
}

// List returns the artifacts captured on date (YYYYMMDD) in arrival order.
func (i *Index) List(ctx context.Context, date string) ([]Entry, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT run_id, req_id, kind, capture_date, received_at, method, url, status, mode, path, size, truncated
		FROM captures
		WHERE capture_date = ?
		ORDER BY received_at, run_id, req_id, kind
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			kind       string
			receivedMs int64
		)
		if err := rows.Scan(&e.RunID, &e.ReqID, &kind, &e.Date, &receivedMs,
			&e.Method, &e.URL, &e.Status, &e.Mode, &e.Path, &e.Size, &e.Truncated); err != nil {
			return nil, fmt.Errorf("failed to scan index row: %w", err)
		}
		e.Kind = Kind(kind)
		e.ReceivedAt = time.UnixMilli(receivedMs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteBefore removes rows for days strictly before date (YYYYMMDD).
func (i *Index) DeleteBefore(ctx context.Context, date string) (int64, error) {
	res, err := i.db.ExecContext(ctx, `DELETE FROM captures WHERE capture_date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("failed to prune index: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database.
func (i *Index) Close() error {
	if i.addStmt != nil {
		_ = i.addStmt.Close()
	}
	return i.db.Close()
}
