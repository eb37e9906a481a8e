package build

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	perrors "github.com/orizon-lang/patlower/internal/errors"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS entries (
		key        TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS files (
		key  TEXT NOT NULL,
		name TEXT NOT NULL,
		size INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (key, name)
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key   TEXT NOT NULL,
		name  TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (key, name)
	)`,
}

// SQLiteCache stores artifacts in a SQLite database. File contents are
// gzip-compressed.
type SQLiteCache struct {
	db    *sql.DB
	mu    sync.RWMutex
	stats CacheStats
	now   func() time.Time
}

// OpenSQLiteCache opens or creates the cache database at path. Use
// ":memory:" for a private in-memory database.
func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryCache, "CACHE_OPEN", "open "+path)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, perrors.Wrap(err, perrors.CategoryCache, "CACHE_SCHEMA", "initialize "+path)
		}
	}
	c := &SQLiteCache{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&c.stats.Entries); err != nil {
		db.Close()
		return nil, perrors.Wrap(err, perrors.CategoryCache, "CACHE_SCHEMA", "count entries")
	}
	return c, nil
}

// Close releases the database.
func (c *SQLiteCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

func (c *SQLiteCache) Get(key CacheKey) (Artifact, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var created int64
	err := c.db.QueryRow(`SELECT created_at FROM entries WHERE key = ?`, string(key)).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		c.stats.Misses++
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, perrors.Wrap(err, perrors.CategoryCache, "CACHE_READ", string(key))
	}

	art := Artifact{}
	if art.Files, err = c.readFiles(key); err != nil {
		return Artifact{}, false, err
	}
	if art.Metadata, err = c.readMetadata(key); err != nil {
		return Artifact{}, false, perrors.Wrap(err, perrors.CategoryCache, "CACHE_READ", string(key))
	}

	c.stats.Hits++
	return art, true, nil
}

// readFiles loads and decompresses the files of key. The pool has a single
// connection, so rows must be closed before the next query.
func (c *SQLiteCache) readFiles(key CacheKey) (map[string][]byte, error) {
	rows, err := c.db.Query(`SELECT name, size, data FROM files WHERE key = ?`, string(key))
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryCache, "CACHE_READ", string(key))
	}
	defer rows.Close()
	files := map[string][]byte{}
	for rows.Next() {
		var name string
		var size int64
		var blob []byte
		if err := rows.Scan(&name, &size, &blob); err != nil {
			return nil, perrors.Wrap(err, perrors.CategoryCache, "CACHE_READ", string(key))
		}
		data, err := gunzip(blob)
		if err != nil {
			return nil, perrors.Wrap(err, perrors.CategoryCache, "CACHE_CORRUPT", string(key)+"/"+name)
		}
		if int64(len(data)) != size {
			return nil, perrors.NewStandardError(perrors.CategoryCache, "CACHE_CORRUPT",
				fmt.Sprintf("size mismatch for %s/%s", key, name), nil)
		}
		files[name] = data
	}
	if err := rows.Err(); err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryCache, "CACHE_READ", string(key))
	}
	return files, nil
}

func (c *SQLiteCache) readMetadata(key CacheKey) (map[string]string, error) {
	rows, err := c.db.Query(`SELECT name, value FROM metadata WHERE key = ?`, string(key))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var md map[string]string
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		if md == nil {
			md = map[string]string{}
		}
		md[name] = value
	}
	return md, rows.Err()
}

func (c *SQLiteCache) Put(key CacheKey, a Artifact) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryCache, "CACHE_WRITE", string(key))
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	replaced, err := deleteEntry(tx, key)
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryCache, "CACHE_WRITE", string(key))
	}
	if _, err = tx.Exec(`INSERT INTO entries (key, created_at) VALUES (?, ?)`, string(key), c.now().Unix()); err != nil {
		return perrors.Wrap(err, perrors.CategoryCache, "CACHE_WRITE", string(key))
	}
	var total int64
	for name, data := range a.Files {
		blob, gzErr := gzipBytes(data)
		if gzErr != nil {
			return perrors.Wrap(gzErr, perrors.CategoryCache, "CACHE_WRITE", string(key)+"/"+name)
		}
		if _, err = tx.Exec(`INSERT INTO files (key, name, size, data) VALUES (?, ?, ?, ?)`,
			string(key), name, len(data), blob); err != nil {
			return perrors.Wrap(err, perrors.CategoryCache, "CACHE_WRITE", string(key)+"/"+name)
		}
		total += int64(len(data))
	}
	for name, value := range a.Metadata {
		if _, err = tx.Exec(`INSERT INTO metadata (key, name, value) VALUES (?, ?, ?)`,
			string(key), name, value); err != nil {
			return perrors.Wrap(err, perrors.CategoryCache, "CACHE_WRITE", string(key))
		}
	}
	if err = tx.Commit(); err != nil {
		return perrors.Wrap(err, perrors.CategoryCache, "CACHE_WRITE", string(key))
	}
	if !replaced {
		c.stats.Entries++
	}
	c.stats.Bytes += total
	return nil
}

func (c *SQLiteCache) Exists(key CacheKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var one int
	return c.db.QueryRow(`SELECT 1 FROM entries WHERE key = ?`, string(key)).Scan(&one) == nil
}

func (c *SQLiteCache) Invalidate(key CacheKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.db.Begin()
	if err != nil {
		return perrors.Wrap(err, perrors.CategoryCache, "CACHE_WRITE", string(key))
	}
	removed, err := deleteEntry(tx, key)
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		tx.Rollback()
		return perrors.Wrap(err, perrors.CategoryCache, "CACHE_WRITE", string(key))
	}
	if removed {
		c.stats.Entries--
	}
	return nil
}

// deleteEntry removes key and its rows, reporting whether it existed.
func deleteEntry(tx *sql.Tx, key CacheKey) (bool, error) {
	for _, q := range []string{`DELETE FROM files WHERE key = ?`, `DELETE FROM metadata WHERE key = ?`} {
		if _, err := tx.Exec(q, string(key)); err != nil {
			return false, err
		}
	}
	res, err := tx.Exec(`DELETE FROM entries WHERE key = ?`, string(key))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c *SQLiteCache) Stats() CacheStats { c.mu.RLock(); defer c.mu.RUnlock(); return c.stats }

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(blob []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
