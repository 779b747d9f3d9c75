package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vkoskela/listing-autofill/internal/analysis"
)

// Suggestion is one proposed listing field with its confidence, subject to
// user accept/reject/modify feedback.
type Suggestion struct {
	ID              string
	ArticleID       string
	ImageID         string
	Type            analysis.SuggestionType
	Value           string
	Confidence      float64
	UserFeedback    string // empty until the user reacts
	IsAccepted      bool
	LearningApplied bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InsertSuggestions stores a batch of suggestions in one transaction.
func (s *SQLiteStore) InsertSuggestions(suggestions []Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, sg := range suggestions {
		createdAt := sg.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err := tx.Exec(
			`INSERT INTO suggestions
			 (id, article_id, image_id, suggestion_type, suggested_value, confidence_score,
			  user_feedback, is_accepted, learning_applied, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)`,
			sg.ID, sg.ArticleID, sg.ImageID, sg.Type, sg.Value, sg.Confidence,
			sg.UserFeedback, sg.IsAccepted, sg.LearningApplied, createdAt, createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert suggestion: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit suggestions: %w", err)
	}
	return nil
}

// GetSuggestion returns one suggestion by ID, or nil, nil if it doesn't
// exist.
func (s *SQLiteStore) GetSuggestion(id string) (*Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(selectSuggestion+` WHERE id = ?`, id)
	return scanSuggestion(row)
}

// SuggestionsByArticle returns all suggestions for a listing, oldest first.
func (s *SQLiteStore) SuggestionsByArticle(articleID string) ([]Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(selectSuggestion+` WHERE article_id = ? ORDER BY created_at ASC, suggestion_type ASC`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, *sg)
	}
	return suggestions, rows.Err()
}

// UpdateFeedback records user feedback on a suggestion. The stored feedback
// value may be overwritten by a resubmission; learning idempotence is handled
// separately via TryMarkLearningApplied. A non-empty modifiedValue replaces
// the suggested value.
func (s *SQLiteStore) UpdateFeedback(id, feedback, modifiedValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	isAccepted := feedback == "accepted"
	var res sql.Result
	var err error
	if modifiedValue != "" {
		res, err = s.db.Exec(
			`UPDATE suggestions
			 SET user_feedback = ?, is_accepted = ?, suggested_value = ?, updated_at = ?
			 WHERE id = ?`,
			feedback, isAccepted, modifiedValue, time.Now().UTC(), id,
		)
	} else {
		res, err = s.db.Exec(
			`UPDATE suggestions
			 SET user_feedback = ?, is_accepted = ?, updated_at = ?
			 WHERE id = ?`,
			feedback, isAccepted, time.Now().UTC(), id,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update feedback: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TryMarkLearningApplied flips the learning flag exactly once per suggestion.
// Returns true only for the call that performed the flip, so the confidence
// calculator's nudge is applied at most once per suggestion.
func (s *SQLiteStore) TryMarkLearningApplied(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE suggestions SET learning_applied = 1 WHERE id = ? AND learning_applied = 0`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark learning applied: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FeedbackCounts implements confidence.HistorySource.
func (s *SQLiteStore) FeedbackCounts(st analysis.SuggestionType, since time.Time) (accepted, rejected, modified int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT user_feedback, COUNT(*) FROM suggestions
		 WHERE suggestion_type = ? AND user_feedback IS NOT NULL AND updated_at > ?
		 GROUP BY user_feedback`,
		st, since,
	)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to query feedback counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var feedback string
		var count int
		if err := rows.Scan(&feedback, &count); err != nil {
			return 0, 0, 0, fmt.Errorf("failed to scan feedback counts: %w", err)
		}
		switch feedback {
		case "accepted":
			accepted = count
		case "rejected":
			rejected = count
		case "modified":
			modified = count
		}
	}
	return accepted, rejected, modified, rows.Err()
}

// AcceptedFraction implements confidence.HistorySource.
func (s *SQLiteStore) AcceptedFraction(st analysis.SuggestionType, since time.Time) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, accepted int
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN user_feedback = 'accepted' THEN 1 ELSE 0 END), 0)
		 FROM suggestions
		 WHERE suggestion_type = ? AND user_feedback IS NOT NULL AND updated_at > ?`,
		st, since,
	).Scan(&total, &accepted)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query accepted fraction: %w", err)
	}
	if total == 0 {
		return 0, false, nil
	}
	return float64(accepted) / float64(total), true, nil
}

const selectSuggestion = `
	SELECT id, article_id, image_id, suggestion_type, suggested_value, confidence_score,
	       user_feedback, is_accepted, learning_applied, created_at, updated_at
	FROM suggestions`

func scanSuggestion(row rowScanner) (*Suggestion, error) {
	var sg Suggestion
	var imageID, feedback sql.NullString

	err := row.Scan(
		&sg.ID, &sg.ArticleID, &imageID, &sg.Type, &sg.Value, &sg.Confidence,
		&feedback, &sg.IsAccepted, &sg.LearningApplied, &sg.CreatedAt, &sg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan suggestion: %w", err)
	}

	sg.ImageID = imageID.String
	sg.UserFeedback = feedback.String
	return &sg, nil
}
