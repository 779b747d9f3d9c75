package storage

import (
	"fmt"
	"time"

	"github.com/vkoskela/listing-autofill/internal/analysis"
)

// LoadWeights implements confidence.WeightStore.
func (s *SQLiteStore) LoadWeights() (map[analysis.SuggestionType]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT suggestion_type, weight FROM feedback_weights`)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback weights: %w", err)
	}
	defer rows.Close()

	weights := make(map[analysis.SuggestionType]float64)
	for rows.Next() {
		var st string
		var weight float64
		if err := rows.Scan(&st, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan feedback weight: %w", err)
		}
		weights[analysis.SuggestionType(st)] = weight
	}
	return weights, rows.Err()
}

// SaveWeight implements confidence.WeightStore.
func (s *SQLiteStore) SaveWeight(st analysis.SuggestionType, weight float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO feedback_weights (suggestion_type, weight, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(suggestion_type) DO UPDATE SET
			weight = excluded.weight,
			updated_at = excluded.updated_at`,
		st, weight, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save feedback weight: %w", err)
	}
	return nil
}
