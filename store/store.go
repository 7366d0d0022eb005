// Package store persists per-disc bookmarks and the directory list of the
// filesystem bridge in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chazu/hdmvplay/hdmv"
	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("hdmvplay.store")

// ErrBookmarkNotFound is returned when a disc has no saved bookmark.
var ErrBookmarkNotFound = errors.New("bookmark not found")

const schema = `
CREATE TABLE IF NOT EXISTS bookmarks (
	disc_id    TEXT PRIMARY KEY,
	disc_name  TEXT NOT NULL,
	resume     BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS directories (
	path     TEXT PRIMARY KEY,
	added_at INTEGER NOT NULL
);
`

// Bookmark is a saved position of one disc.
type Bookmark struct {
	DiscID   string
	DiscName string
	Resume   hdmv.ResumeInfo
	Updated  time.Time
}

// Store is a SQLite-backed store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	log.Debugf("store opened at %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Bookmarks
// ---------------------------------------------------------------------------

// SaveBookmark stores r as the bookmark of disc id, replacing any previous one.
func (s *Store) SaveBookmark(ctx context.Context, discID, discName string, r hdmv.ResumeInfo) error {
	blob, err := cbor.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode bookmark: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bookmarks (disc_id, disc_name, resume, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(disc_id) DO UPDATE SET
			disc_name = excluded.disc_name,
			resume = excluded.resume,
			updated_at = excluded.updated_at`,
		discID, discName, blob, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save bookmark %s: %w", discID, err)
	}
	return nil
}

// LoadBookmark returns the bookmark of disc id.
func (s *Store) LoadBookmark(ctx context.Context, discID string) (hdmv.ResumeInfo, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT resume FROM bookmarks WHERE disc_id = ?`, discID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return hdmv.ResumeInfo{}, fmt.Errorf("disc %s: %w", discID, ErrBookmarkNotFound)
	}
	if err != nil {
		return hdmv.ResumeInfo{}, fmt.Errorf("load bookmark %s: %w", discID, err)
	}
	var r hdmv.ResumeInfo
	if err := cbor.Unmarshal(blob, &r); err != nil {
		return hdmv.ResumeInfo{}, fmt.Errorf("decode bookmark %s: %w", discID, err)
	}
	return r, nil
}

// DeleteBookmark removes the bookmark of disc id.
func (s *Store) DeleteBookmark(ctx context.Context, discID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE disc_id = ?`, discID)
	if err != nil {
		return fmt.Errorf("delete bookmark %s: %w", discID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("disc %s: %w", discID, ErrBookmarkNotFound)
	}
	return nil
}

// Bookmarks lists all bookmarks, most recent first.
func (s *Store) Bookmarks(ctx context.Context) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT disc_id, disc_name, resume, updated_at FROM bookmarks ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		var (
			b    Bookmark
			blob []byte
			ms   int64
		)
		if err := rows.Scan(&b.DiscID, &b.DiscName, &blob, &ms); err != nil {
			return nil, err
		}
		if err := cbor.Unmarshal(blob, &b.Resume); err != nil {
			log.Warningf("skipping unreadable bookmark %s: %s", b.DiscID, err)
			continue
		}
		b.Updated = time.UnixMilli(ms)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Directories
// ---------------------------------------------------------------------------

// AddDirectory remembers a directory discs can be opened from.
func (s *Store) AddDirectory(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO directories (path, added_at) VALUES (?, ?)`,
		abs, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add directory %s: %w", abs, err)
	}
	return nil
}

// RemoveDirectory forgets a directory.
func (s *Store) RemoveDirectory(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM directories WHERE path = ?`, abs); err != nil {
		return fmt.Errorf("remove directory %s: %w", abs, err)
	}
	return nil
}

// Directories lists the remembered directories in the order they were added.
func (s *Store) Directories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM directories ORDER BY added_at, path`)
	if err != nil {
		return nil, fmt.Errorf("list directories: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
