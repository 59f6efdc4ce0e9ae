// Package store implements SQLite persistence for runs, stage results, and
// context chunks. A single LocalStore backs both the run ledger and the
// vector side of the context store.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"datanerd/internal/logging"
)

// LocalStore wraps a SQLite database holding:
//   - runs + stage_results: the append-only run ledger keyed by run ID
//   - context_chunks: embedded fragments keyed by (file_id, content_hash)
type LocalStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec vec0 available
}

// NewLocalStore initializes the SQLite database at the given path.
// Pass ":memory:" for an ephemeral store.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.StoreDebug("sqlite-vec extension not available; using in-process cosine scan")
	}

	logging.Store("LocalStore initialization complete (runs, stage_results, context_chunks)")
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		question TEXT NOT NULL,
		status TEXT NOT NULL,
		current_stage TEXT,
		error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_file ON runs(file_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	stageResultsTable := `
	CREATE TABLE IF NOT EXISTS stage_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		attempts INTEGER DEFAULT 1,
		output TEXT,
		error TEXT,
		UNIQUE(run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_stage_results_run ON stage_results(run_id);
	`

	chunksTable := `
	CREATE TABLE IF NOT EXISTS context_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		seq INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(file_id, content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON context_chunks(file_id);
	`

	for _, stmt := range []string{runsTable, stageResultsTable, chunksTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// detectVecExtension checks whether the sqlite-vec vec0 extension is loaded.
func (s *LocalStore) detectVecExtension() {
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		s.vectorExt = true
		logging.StoreDebug("sqlite-vec version: %s", version)
	}
}

// HasVectorExtension reports whether ANN search via vec0 is available.
func (s *LocalStore) HasVectorExtension() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectorExt
}

// Path returns the database path.
func (s *LocalStore) Path() string {
	return s.dbPath
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
