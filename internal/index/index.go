package index

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	//go:embed migrations
	migrationsFS embed.FS

	ErrNotFound = errors.New("upload not recorded")
)

// Entry is the metadata kept for one stored upload.
type Entry struct {
	Filename         string
	OriginalFilename string
	ContentType      string
	Size             int64
	CreatedAt        time.Time
}

// Index records stored uploads in SQLite so they can be listed without
// walking the upload directory.
type Index struct {
	db *sql.DB
}

// initSchema applies all SQL files in the embedded migrations in
// lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// Open opens (creating if needed) the index database at dbPath.
func Open(ctx context.Context, dbPath string) (*Index, error) {
	if dbPath == "" {
		return nil, errors.New("index path must not be empty")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// Request handlers and the sweeper write concurrently; a single
	// connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (i *Index) Close() error {
	return i.db.Close()
}

// Record stores e, replacing any previous entry with the same filename.
func (i *Index) Record(ctx context.Context, e Entry) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT INTO uploads(filename, original_filename, content_type, size, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(filename) DO UPDATE SET
		 	original_filename=excluded.original_filename,
		 	content_type=excluded.content_type,
		 	size=excluded.size,
		 	created_at=excluded.created_at`,
		e.Filename, e.OriginalFilename, e.ContentType, e.Size, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record upload %q: %w", e.Filename, err)
	}
	return nil
}

// Forget drops the entry for name. Forgetting an unknown name is not an
// error.
func (i *Index) Forget(ctx context.Context, name string) error {
	if _, err := i.db.ExecContext(ctx, `DELETE FROM uploads WHERE filename = ?`, name); err != nil {
		return fmt.Errorf("forget upload %q: %w", name, err)
	}
	return nil
}

// Get returns the entry for name, or ErrNotFound.
func (i *Index) Get(ctx context.Context, name string) (Entry, error) {
	var e Entry
	err := i.db.QueryRowContext(ctx,
		`SELECT filename, original_filename, content_type, size, created_at FROM uploads WHERE filename = ?`,
		name,
	).Scan(&e.Filename, &e.OriginalFilename, &e.ContentType, &e.Size, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup upload %q: %w", name, err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (i *Index) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := i.db.QueryContext(ctx,
		`SELECT filename, original_filename, content_type, size, created_at
		 FROM uploads ORDER BY created_at DESC, filename LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Filename, &e.OriginalFilename, &e.ContentType, &e.Size, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
