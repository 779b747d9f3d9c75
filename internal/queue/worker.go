// Package queue runs the background processing loop over durable queue
// items: claim a bounded batch, dispatch each to the processor, record the
// outcome, and periodically sweep for retries, stale items and old records.
package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vkoskela/listing-autofill/internal/storage"
)

const (
	// PollInterval is the time between processing cycles.
	PollInterval = 30 * time.Second

	// SweepInterval is how often failed items are reset for retry and
	// stale processing items reclaimed.
	SweepInterval = 5 * time.Minute

	// CleanupInterval is how often terminal items and expired cache
	// entries are purged.
	CleanupInterval = time.Hour

	// DefaultBatchSize bounds how many items one cycle claims.
	DefaultBatchSize = 10

	// RetryWindow limits retries to recently created items.
	RetryWindow = 24 * time.Hour

	// StaleProcessingAge is how long an item may sit in processing before
	// it is reclaimed as failed. Covers worker crashes mid-item.
	StaleProcessingAge = 10 * time.Minute

	// RetentionWindow is how long terminal items are kept for inspection.
	RetentionWindow = 7 * 24 * time.Hour
)

// Processor handles one claimed queue item.
type Processor interface {
	ProcessItem(ctx context.Context, item storage.QueueItem) error
}

// Observer receives processing outcomes. Used for metrics; may be nil.
type Observer interface {
	RecordItemProcessed(pt storage.ProcessingType, duration time.Duration)
	RecordItemFailed(pt storage.ProcessingType)
}

// BatchResult summarizes one processing cycle.
type BatchResult struct {
	Processed int           `json:"processed"`
	Errors    int           `json:"errors"`
	Details   []ItemOutcome `json:"details,omitempty"`
}

// ItemOutcome is the outcome of one item within a batch.
type ItemOutcome struct {
	ItemID  string `json:"itemId"`
	ImageID string `json:"imageId"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Service is the background worker daemon.
type Service struct {
	store     *storage.SQLiteStore
	processor Processor
	observer  Observer
	batchSize int
}

// NewService creates a queue worker. observer may be nil; batchSize <= 0
// uses the default.
func NewService(store *storage.SQLiteStore, processor Processor, observer Observer, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Service{store: store, processor: processor, observer: observer, batchSize: batchSize}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	log.Info().Dur("interval", PollInterval).Int("batchSize", s.batchSize).Msg("starting queue worker")

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	sweepTicker := time.NewTicker(SweepInterval)
	defer sweepTicker.Stop()

	cleanupTicker := time.NewTicker(CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("queue worker stopped")
			return
		case <-ticker.C:
			result, err := s.ProcessBatch(ctx, s.batchSize)
			if err != nil {
				log.Error().Err(err).Msg("processing cycle failed")
			} else if result.Processed > 0 || result.Errors > 0 {
				log.Info().
					Int("processed", result.Processed).
					Int("errors", result.Errors).
					Msg("processing cycle complete")
			}
		case <-sweepTicker.C:
			s.sweep()
		case <-cleanupTicker.C:
			s.cleanup()
		}
	}
}

// ProcessBatch claims up to batchSize pending items and processes each,
// recording success or failure per item. It is the scheduler-independent core
// of the worker: pure with respect to its claimed inputs and their state
// transitions.
func (s *Service) ProcessBatch(ctx context.Context, batchSize int) (*BatchResult, error) {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	items, err := s.store.ClaimPending(batchSize)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for _, item := range items {
		if ctx.Err() != nil {
			// Shutting down: release the claim for the retry sweep by
			// failing fast without burning user-visible work.
			_ = s.store.MarkFailed(item.ID, "worker shutting down")
			continue
		}

		start := time.Now()
		err := s.processor.ProcessItem(ctx, item)
		outcome := ItemOutcome{ItemID: item.ID, ImageID: item.ImageID}

		if err != nil {
			outcome.Status = string(storage.StatusFailed)
			outcome.Error = err.Error()
			result.Errors++
			if markErr := s.store.MarkFailed(item.ID, err.Error()); markErr != nil {
				log.Error().Err(markErr).Str("itemId", item.ID).Msg("failed to record item failure")
			}
			if s.observer != nil {
				s.observer.RecordItemFailed(item.ProcessingType)
			}
			log.Warn().
				Err(err).
				Str("itemId", item.ID).
				Str("imageId", item.ImageID).
				Int("attempts", item.Attempts).
				Int("maxAttempts", item.MaxAttempts).
				Msg("queue item failed")
		} else {
			outcome.Status = string(storage.StatusCompleted)
			result.Processed++
			if markErr := s.store.MarkCompleted(item.ID); markErr != nil {
				log.Error().Err(markErr).Str("itemId", item.ID).Msg("failed to record item completion")
			}
			if s.observer != nil {
				s.observer.RecordItemProcessed(item.ProcessingType, time.Since(start))
			}
		}
		result.Details = append(result.Details, outcome)
	}

	return result, nil
}

// sweep reclaims stale processing items and resets retry-eligible failures.
// Reclaim runs first so a stuck item can re-enter the queue in one pass.
func (s *Service) sweep() {
	reclaimed, err := s.store.ReclaimStale(StaleProcessingAge)
	if err != nil {
		log.Error().Err(err).Msg("failed to reclaim stale items")
	} else if reclaimed > 0 {
		log.Warn().Int64("reclaimed", reclaimed).Msg("reclaimed stale processing items")
	}

	retried, err := s.store.RetryFailed(RetryWindow)
	if err != nil {
		log.Error().Err(err).Msg("failed to reset items for retry")
	} else if retried > 0 {
		log.Info().Int64("retried", retried).Msg("reset failed items for retry")
	}
}

// cleanup purges old terminal items and expired cache entries.
func (s *Service) cleanup() {
	purged, err := s.store.PurgeTerminal(RetentionWindow)
	if err != nil {
		log.Error().Err(err).Msg("failed to purge terminal items")
	} else if purged > 0 {
		log.Info().Int64("purged", purged).Msg("purged old queue items")
	}

	pruned, err := s.store.PruneExpiredCache()
	if err != nil {
		log.Error().Err(err).Msg("failed to prune analysis cache")
	} else if pruned > 0 {
		log.Info().Int64("pruned", pruned).Msg("pruned expired cache entries")
	}
}
