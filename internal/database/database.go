package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Queries holds the statements shared by DB and Tx, so the same calls work
// directly against the connection or inside a batch transaction.
type Queries struct {
	q execer
}

// DB wraps a SQLite database connection.
type DB struct {
	*Queries
	conn *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; also keeps PRAGMAs on a single connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{Queries: &Queries{q: conn}, conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Tx is a batch of writes committed together.
type Tx struct {
	*Queries
	tx *sql.Tx
}

// Begin starts a batch transaction.
func (db *DB) Begin() (*Tx, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{Queries: &Queries{q: tx}, tx: tx}, nil
}

// Commit commits the batch.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback discards the batch. Calling it after Commit is a no-op.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// Item runs fn inside a savepoint. If fn fails, every write it made is
// rolled back while the rest of the batch stays intact.
func (t *Tx) Item(fn func() error) error {
	if _, err := t.tx.Exec("SAVEPOINT item"); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.Exec("ROLLBACK TO item"); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %v (after %w)", rbErr, err)
		}
		if _, relErr := t.tx.Exec("RELEASE item"); relErr != nil {
			return fmt.Errorf("release savepoint: %v (after %w)", relErr, err)
		}
		return err
	}
	if _, err := t.tx.Exec("RELEASE item"); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
