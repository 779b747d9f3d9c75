package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Image is an uploaded listing photo with its content hash precomputed.
type Image struct {
	ID          string
	ArticleID   string
	Filename    string
	ContentHash string
	Data        []byte
	CreatedAt   time.Time
}

// SaveImage stores an uploaded image.
func (s *SQLiteStore) SaveImage(img Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := img.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO images (id, article_id, filename, content_hash, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			article_id = excluded.article_id,
			filename = excluded.filename,
			content_hash = excluded.content_hash,
			data = excluded.data`,
		img.ID, img.ArticleID, img.Filename, img.ContentHash, img.Data, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

// GetImage returns one image by ID, or nil, nil if it doesn't exist.
func (s *SQLiteStore) GetImage(id string) (*Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var img Image
	var filename sql.NullString
	err := s.db.QueryRow(
		`SELECT id, article_id, filename, content_hash, data, created_at FROM images WHERE id = ?`,
		id,
	).Scan(&img.ID, &img.ArticleID, &filename, &img.ContentHash, &img.Data, &img.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}
	img.Filename = filename.String
	return &img, nil
}

// ImagesByArticle returns all images of a listing in upload order.
func (s *SQLiteStore) ImagesByArticle(articleID string) ([]Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, article_id, filename, content_hash, data, created_at
		 FROM images WHERE article_id = ? ORDER BY created_at ASC, id ASC`,
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query article images: %w", err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		var filename sql.NullString
		if err := rows.Scan(&img.ID, &img.ArticleID, &filename, &img.ContentHash, &img.Data, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		img.Filename = filename.String
		images = append(images, img)
	}
	return images, rows.Err()
}

// ImageIDsByHash returns the IDs of all images sharing a content hash,
// excluding the given image. Used by similarity processing.
func (s *SQLiteStore) ImageIDsByHash(contentHash, excludeID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id FROM images WHERE content_hash = ? AND id != ? ORDER BY created_at ASC`,
		contentHash, excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query images by hash: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan image id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
