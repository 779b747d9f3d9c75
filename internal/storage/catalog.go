package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vkoskela/listing-autofill/internal/analysis"
)

// UpsertCategory stores or replaces a category with its keyword list.
func (s *SQLiteStore) UpsertCategory(category analysis.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keywords, err := json.Marshal(category.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO categories (id, name, keywords)
		 VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			keywords = excluded.keywords`,
		category.ID, category.Name, string(keywords),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}
	return nil
}

// Categories implements analysis.CategorySource.
func (s *SQLiteStore) Categories() ([]analysis.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, name, keywords FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []analysis.Category
	for rows.Next() {
		var c analysis.Category
		var keywords string
		if err := rows.Scan(&c.ID, &c.Name, &keywords); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords for category %d: %w", c.ID, err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// UpsertPriceStats stores trailing-window price statistics for one
// (category, condition) pair.
func (s *SQLiteStore) UpsertPriceStats(categoryID int64, condition analysis.Condition, stats analysis.PriceStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO price_stats (category_id, condition, avg, min, max, sample_size)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(category_id, condition) DO UPDATE SET
			avg = excluded.avg,
			min = excluded.min,
			max = excluded.max,
			sample_size = excluded.sample_size`,
		categoryID, condition, stats.Avg, stats.Min, stats.Max, stats.SampleSize,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert price stats: %w", err)
	}
	return nil
}

// PriceStats implements analysis.PriceSource. Returns nil, nil when no
// statistics exist for the pair.
func (s *SQLiteStore) PriceStats(categoryID int64, condition analysis.Condition) (*analysis.PriceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats analysis.PriceStats
	err := s.db.QueryRow(
		`SELECT avg, min, max, sample_size FROM price_stats WHERE category_id = ? AND condition = ?`,
		categoryID, condition,
	).Scan(&stats.Avg, &stats.Min, &stats.Max, &stats.SampleSize)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query price stats: %w", err)
	}
	return &stats, nil
}
