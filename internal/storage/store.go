// Package storage persists queue items, suggestions, analysis cache entries,
// feedback weights and catalog data in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the shared durable store. All mutable shared state of the
// pipeline (queue and cache) lives here; scoring and aggregation stay pure.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (and initializes) the SQLite database at dbPath.
// Use ":memory:" for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL mode and busy timeout for better concurrency between the worker
	// loop and HTTP handlers.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS queue_items (
			id TEXT PRIMARY KEY,
			image_id TEXT NOT NULL,
			processing_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			priority INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_pending
			ON queue_items (status, priority DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_terminal
			ON queue_items (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS suggestions (
			id TEXT PRIMARY KEY,
			article_id TEXT NOT NULL,
			image_id TEXT,
			suggestion_type TEXT NOT NULL,
			suggested_value TEXT NOT NULL,
			confidence_score REAL NOT NULL,
			user_feedback TEXT,
			is_accepted INTEGER NOT NULL DEFAULT 0,
			learning_applied INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_suggestions_article
			ON suggestions (article_id)`,
		`CREATE INDEX IF NOT EXISTS idx_suggestions_type
			ON suggestions (suggestion_type, updated_at)`,
		`CREATE TABLE IF NOT EXISTS analysis_cache (
			content_hash TEXT NOT NULL,
			kind TEXT NOT NULL,
			result_json TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			PRIMARY KEY (content_hash, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS feedback_weights (
			suggestion_type TEXT PRIMARY KEY,
			weight REAL NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			keywords TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS price_stats (
			category_id INTEGER NOT NULL,
			condition TEXT NOT NULL,
			avg REAL NOT NULL,
			min REAL NOT NULL,
			max REAL NOT NULL,
			sample_size INTEGER NOT NULL,
			PRIMARY KEY (category_id, condition)
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			article_id TEXT NOT NULL,
			filename TEXT,
			content_hash TEXT NOT NULL,
			data BLOB NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_article ON images (article_id)`,
		`CREATE INDEX IF NOT EXISTS idx_images_hash ON images (content_hash)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
