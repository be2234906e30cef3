// Package cache persists computed fingerprints in SQLite so unchanged files
// are never fingerprinted twice. The cache is advisory: every failure mode
// (missing file, locked database, corrupt rows) degrades to a miss and the
// run recomputes. A nil *Cache behaves like a permanently empty cache.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Identity is the cache key: a file is "the same file" only while its path,
// byte size and modification time are all unchanged.
type Identity struct {
	Path    string
	Size    int64
	MtimeNS int64
}

// IdentityFor stats path and builds its Identity.
func IdentityFor(path string) (Identity, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Identity{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Identity{Path: path, Size: st.Size(), MtimeNS: st.ModTime().UnixNano()}, nil
}

// Entry is one fingerprint row awaiting storage.
type Entry struct {
	ID   Identity
	Hash uint64
}

// Cache is a single-writer fingerprint store. Lookups are safe from many
// goroutines (database/sql serializes access to the sqlite connection);
// writes happen only through StoreBatch, called once per file set by the
// coordinator after all workers have finished.
type Cache struct {
	db       *sql.DB
	lock     *flock.Flock
	version  int
	log      zerolog.Logger
	mu       sync.Mutex
	disabled bool
}

const schema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	path     TEXT    NOT NULL PRIMARY KEY,
	size     INTEGER NOT NULL,
	mtime_ns INTEGER NOT NULL,
	version  INTEGER NOT NULL,
	dhash    INTEGER NOT NULL
);`

// Open opens (or creates) the cache database at path. It never fails the
// run: any problem is logged and a disabled cache is returned, which turns
// every lookup into a miss and every store into a no-op.
func Open(path string, version int, log zerolog.Logger) *Cache {
	disabled := func(err error) *Cache {
		log.Warn().Err(err).Str("cache", path).Msg("fingerprint cache unavailable, recomputing everything")
		return &Cache{disabled: true, log: log}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return disabled(fmt.Errorf("lock cache: %w", err))
	}
	if !locked {
		return disabled(fmt.Errorf("cache in use by another run"))
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		lock.Unlock()
		return disabled(fmt.Errorf("open cache: %w", err))
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		lock.Unlock()
		return disabled(fmt.Errorf("init cache schema: %w", err))
	}

	return &Cache{db: db, lock: lock, version: version, log: log}
}

// Lookup returns the cached fingerprint for id, if one exists with a
// matching size, mtime and algorithm version. Any error is treated as a
// miss.
func (c *Cache) Lookup(id Identity) (uint64, bool) {
	if c == nil || c.disabled {
		return 0, false
	}
	var h int64
	err := c.db.QueryRow(
		`SELECT dhash FROM fingerprints WHERE path = ? AND size = ? AND mtime_ns = ? AND version = ?`,
		id.Path, id.Size, id.MtimeNS, c.version,
	).Scan(&h)
	if err != nil {
		if err != sql.ErrNoRows {
			c.log.Debug().Err(err).Str("path", id.Path).Msg("cache lookup failed")
		}
		return 0, false
	}
	return uint64(h), true
}

// StoreBatch upserts freshly computed fingerprints in one transaction.
// A write failure disables the cache for the rest of the run; the
// in-memory results are unaffected.
func (c *Cache) StoreBatch(entries []Entry) {
	if c == nil || len(entries) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return
	}

	if err := c.storeTx(entries); err != nil {
		c.log.Warn().Err(err).Msg("fingerprint cache became unwritable, continuing without persistence")
		c.disabled = true
	}
}

func (c *Cache) storeTx(entries []Entry) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO fingerprints (path, size, mtime_ns, version, dhash) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.ID.Path, e.ID.Size, e.ID.MtimeNS, c.version, int64(e.Hash)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close releases the database and the advisory lock.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	if c.db != nil {
		c.db.Close()
	}
	if c.lock != nil {
		c.lock.Unlock()
	}
}
