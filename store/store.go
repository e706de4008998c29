// Package store is a SQLite-backed cache of compiled bytecode files, keyed
// by a hash of the source text and the compiler version.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/prose/pkg/bytecode"
	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("prose.store")

const schema = `CREATE TABLE IF NOT EXISTS artifacts (
	key TEXT PRIMARY KEY,
	source_file TEXT,
	compiler_version TEXT,
	created_at INTEGER NOT NULL,
	payload BLOB NOT NULL
)`

// Store is an open build cache.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex

	now func() time.Time
}

// Entry describes one cached artifact without decoding its payload.
type Entry struct {
	Key             string
	SourceFile      string
	CompilerVersion string
	CreatedAt       time.Time
	Size            int
}

// Key returns the cache key for source compiled by compilerVersion.
func Key(source, compilerVersion string) string {
	sum := xxh3.HashString128(compilerVersion + "\x00" + source)
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo)
}

// Open opens the cache database at path, creating the file, its parent
// directory and the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	// The pragma goes in the DSN so every pooled connection gets it.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the cached file for key. The boolean is false on a miss.
func (s *Store) Get(key string) (*bytecode.File, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM artifacts WHERE key = ?", key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("cache miss %s", key)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying artifact: %w", err)
	}

	f, err := bytecode.UnmarshalFile(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decoding artifact %s: %w", key, err)
	}
	log.Debugf("cache hit %s", key)
	return f, true, nil
}

// Put stores f under key, replacing any previous entry.
func (s *Store) Put(key string, f *bytecode.File) error {
	payload, err := bytecode.MarshalFile(f)
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}

	var source sql.NullString
	if f.Metadata.SourceFile != nil {
		source = sql.NullString{String: *f.Metadata.SourceFile, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO artifacts (key, source_file, compiler_version, created_at, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		key, source, f.Metadata.CompilerVersion, s.now().Unix(), payload,
	)
	if err != nil {
		return fmt.Errorf("saving artifact: %w", err)
	}
	return nil
}

// Entries lists the cached artifacts, newest first.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT key, source_file, compiler_version, created_at, length(payload)
		 FROM artifacts ORDER BY created_at DESC, key`)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			source  sql.NullString
			version sql.NullString
			created int64
		)
		if err := rows.Scan(&e.Key, &source, &version, &created, &e.Size); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		e.SourceFile = source.String
		e.CompilerVersion = version.String
		e.CreatedAt = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries created more than olderThan ago and returns how
// many were removed. A zero duration removes everything.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan).Unix()
	res, err := s.db.Exec("DELETE FROM artifacts WHERE created_at <= ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning artifacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning artifacts: %w", err)
	}
	if n > 0 {
		log.Infof("pruned %d artifacts from %s", n, s.path)
	}
	return n, nil
}
