package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

// ProcessingType is the kind of background work a queue item requests.
type ProcessingType string

const (
	ProcessingAnalysis       ProcessingType = "analysis"
	ProcessingSimilarity     ProcessingType = "similarity"
	ProcessingCategorization ProcessingType = "categorization"
	ProcessingTextExtraction ProcessingType = "text_extraction"
)

// DefaultMaxAttempts bounds how many times one item may be claimed.
const DefaultMaxAttempts = 3

// QueueItem is one unit of background work tied to one image and one
// processing type. Mutated only by the queue worker and the periodic sweeps.
type QueueItem struct {
	ID             string
	ImageID        string
	ProcessingType ProcessingType
	Status         QueueStatus
	Attempts       int
	MaxAttempts    int
	Priority       int
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// QueueStats summarize the queue for operators and health endpoints.
type QueueStats struct {
	Pending          int           `json:"pending"`
	Processing       int           `json:"processing"`
	Completed        int           `json:"completed"`
	Failed           int           `json:"failed"`
	OldestPendingAge time.Duration `json:"oldestPendingAgeSeconds"`
}

// Enqueue adds a queue item for (imageID, processingType) unless one is
// already pending or processing. Returns whether an item was added.
func (s *SQLiteStore) Enqueue(imageID string, pt ProcessingType, priority int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM queue_items
		 WHERE image_id = ? AND processing_type = ? AND status IN ('pending', 'processing')`,
		imageID, pt,
	).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("failed to check existing queue items: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	_, err = s.db.Exec(
		`INSERT INTO queue_items (id, image_id, processing_type, status, attempts, max_attempts, priority, created_at)
		 VALUES (?, ?, ?, 'pending', 0, ?, ?, ?)`,
		uuid.NewString(), imageID, pt, DefaultMaxAttempts, priority, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue item: %w", err)
	}
	return true, nil
}

// ClaimPending atomically claims up to limit pending items, oldest first
// (higher priority first). Each claim is a conditional state transition on
// status so two workers can never claim the same item; the attempt counter
// increments as part of the claim.
func (s *SQLiteStore) ClaimPending(limit int) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id FROM queue_items
		 WHERE status = 'pending' AND attempts < max_attempts
		 ORDER BY priority DESC, created_at ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pending item: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var claimed []QueueItem
	for _, id := range ids {
		res, err := s.db.Exec(
			`UPDATE queue_items
			 SET status = 'processing', attempts = attempts + 1, started_at = ?
			 WHERE id = ? AND status = 'pending' AND attempts < max_attempts`,
			now, id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim item %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			// Lost the claim to a concurrent worker.
			continue
		}
		item, err := s.getQueueItem(id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			claimed = append(claimed, *item)
		}
	}
	return claimed, nil
}

// MarkCompleted transitions an item to its terminal completed state.
func (s *SQLiteStore) MarkCompleted(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE queue_items SET status = 'completed', completed_at = ?, error_message = NULL WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark item completed: %w", err)
	}
	return nil
}

// MarkFailed records a processing failure. The item stays failed until the
// retry sweep resets it (if attempts remain) or cleanup purges it.
func (s *SQLiteStore) MarkFailed(id, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE queue_items SET status = 'failed', completed_at = ?, error_message = ? WHERE id = ?`,
		time.Now().UTC(), errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark item failed: %w", err)
	}
	return nil
}

// RetryFailed resets failed items with attempts remaining back to pending,
// limited to items created within the recency window.
func (s *SQLiteStore) RetryFailed(window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE queue_items
		 SET status = 'pending', started_at = NULL, completed_at = NULL
		 WHERE status = 'failed' AND attempts < max_attempts AND created_at > ?`,
		time.Now().UTC().Add(-window),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed items: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStale marks processing items older than maxAge as failed so a worker
// crash mid-item cannot leave work stuck forever. Reclaimed items become
// retry-eligible through the normal sweep.
func (s *SQLiteStore) ReclaimStale(maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE queue_items
		 SET status = 'failed', completed_at = ?, error_message = 'processing timed out'
		 WHERE status = 'processing' AND started_at < ?`,
		time.Now().UTC(), time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale items: %w", err)
	}
	return res.RowsAffected()
}

// PurgeTerminal deletes completed and failed items older than the retention
// window.
func (s *SQLiteStore) PurgeTerminal(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM queue_items
		 WHERE status IN ('completed', 'failed') AND created_at < ?`,
		time.Now().UTC().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal items: %w", err)
	}
	return res.RowsAffected()
}

// QueueStatistics returns per-status counts and the age of the oldest
// pending item.
func (s *SQLiteStore) QueueStatistics() (*QueueStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &QueueStats{}
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch QueueStatus(status) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullTime
	err = s.db.QueryRow(`SELECT MIN(created_at) FROM queue_items WHERE status = 'pending'`).Scan(&oldest)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query oldest pending: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAge = time.Since(oldest.Time)
	}

	return stats, nil
}

// GetQueueItem returns one queue item by ID, or nil, nil if it doesn't exist.
func (s *SQLiteStore) GetQueueItem(id string) (*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getQueueItem(id)
}

func (s *SQLiteStore) getQueueItem(id string) (*QueueItem, error) {
	row := s.db.QueryRow(
		`SELECT id, image_id, processing_type, status, attempts, max_attempts, priority,
		        error_message, created_at, started_at, completed_at
		 FROM queue_items WHERE id = ?`,
		id,
	)
	return scanQueueItem(row)
}

// HasActiveItems reports whether any of the given images still has a pending
// or processing item of the given type. Used to gate per-listing aggregation.
func (s *SQLiteStore) HasActiveItems(imageIDs []string, pt ProcessingType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, imageID := range imageIDs {
		var count int
		err := s.db.QueryRow(
			`SELECT COUNT(*) FROM queue_items
			 WHERE image_id = ? AND processing_type = ? AND status IN ('pending', 'processing')`,
			imageID, pt,
		).Scan(&count)
		if err != nil {
			return false, fmt.Errorf("failed to check active items: %w", err)
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var item QueueItem
	var errorMessage sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.ImageID, &item.ProcessingType, &item.Status,
		&item.Attempts, &item.MaxAttempts, &item.Priority,
		&errorMessage, &item.CreatedAt, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}

	item.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		t := startedAt.Time
		item.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		item.CompletedAt = &t
	}
	return &item, nil
}
