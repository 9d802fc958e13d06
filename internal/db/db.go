package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const DefaultURL = "sqlite:///./transition_os.db"

// Path resolves a DATABASE_URL into a filesystem path for SQLite.
// Accepted forms: sqlite:///relative/or/abs, sqlite:////abs, file:path, plain path.
func Path(url string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = DefaultURL
	}
	switch {
	case strings.HasPrefix(url, "sqlite:///"):
		return strings.TrimPrefix(url, "sqlite:///"), nil
	case strings.HasPrefix(url, "sqlite://"):
		return "", fmt.Errorf("invalid sqlite url %q: expected sqlite:///path", url)
	case strings.HasPrefix(url, "file:"):
		p := strings.TrimPrefix(url, "file:")
		if i := strings.Index(p, "?"); i >= 0 {
			p = p[:i]
		}
		return p, nil
	case strings.Contains(url, "://"):
		return "", fmt.Errorf("unsupported database url %q: only sqlite is supported", url)
	default:
		return url, nil
	}
}

// Open opens the SQLite database with foreign keys on, creating the parent directory.
func Open(url string) (*sql.DB, error) {
	path, err := Path(url)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Ping reports whether the database answers a trivial query.
func Ping(ctx context.Context, conn *sql.DB) error {
	var one int
	return conn.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}
