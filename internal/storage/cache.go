package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vkoskela/listing-autofill/internal/analysis"
)

// Cache entry kinds. Full analysis results live longer than derived category
// lookups, which are cheap to recompute.
const (
	cacheKindAnalysis = "analysis"
	cacheKindCategory = "category"
)

// GetAnalysis implements analysis.ResultCache. Expired entries count as
// misses and are deleted opportunistically.
func (s *SQLiteStore) GetAnalysis(contentHash string) (*analysis.AnalysisResult, error) {
	payload, err := s.getCacheEntry(contentHash, cacheKindAnalysis)
	if err != nil || payload == nil {
		return nil, err
	}

	var result analysis.AnalysisResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached analysis: %w", err)
	}
	return &result, nil
}

// PutAnalysis implements analysis.ResultCache.
func (s *SQLiteStore) PutAnalysis(contentHash string, result *analysis.AnalysisResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis result: %w", err)
	}
	return s.putCacheEntry(contentHash, cacheKindAnalysis, payload, ttl)
}

type categoryCacheEntry struct {
	CategoryID *int64 `json:"categoryId"`
}

// GetCategorySuggestion returns a cached derived category for an image hash.
// found is false on a miss.
func (s *SQLiteStore) GetCategorySuggestion(contentHash string) (categoryID *int64, found bool, err error) {
	payload, err := s.getCacheEntry(contentHash, cacheKindCategory)
	if err != nil || payload == nil {
		return nil, false, err
	}

	var entry categoryCacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached category: %w", err)
	}
	return entry.CategoryID, true, nil
}

// PutCategorySuggestion caches a derived category with the shorter lookup TTL.
func (s *SQLiteStore) PutCategorySuggestion(contentHash string, categoryID *int64) error {
	payload, err := json.Marshal(categoryCacheEntry{CategoryID: categoryID})
	if err != nil {
		return fmt.Errorf("failed to marshal category entry: %w", err)
	}
	return s.putCacheEntry(contentHash, cacheKindCategory, payload, analysis.CategoryLookupTTL)
}

func (s *SQLiteStore) getCacheEntry(contentHash, kind string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload string
	var expiresAt time.Time
	err := s.db.QueryRow(
		`SELECT result_json, expires_at FROM analysis_cache WHERE content_hash = ? AND kind = ?`,
		contentHash, kind,
	).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis cache: %w", err)
	}

	if time.Now().After(expiresAt) {
		_, _ = s.db.Exec(`DELETE FROM analysis_cache WHERE content_hash = ? AND kind = ?`, contentHash, kind)
		return nil, nil
	}
	return []byte(payload), nil
}

func (s *SQLiteStore) putCacheEntry(contentHash, kind string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO analysis_cache (content_hash, kind, result_json, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(content_hash, kind) DO UPDATE SET
			result_json = excluded.result_json,
			expires_at = excluded.expires_at`,
		contentHash, kind, string(payload), time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to write analysis cache: %w", err)
	}
	return nil
}

// PruneExpiredCache deletes expired cache entries of any kind.
func (s *SQLiteStore) PruneExpiredCache() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM analysis_cache WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return res.RowsAffected()
}
