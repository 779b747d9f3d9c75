// Package autofill orchestrates the listing auto-fill pipeline: interactive
// multi-image suggestion, background queue processing, and suggestion
// feedback with confidence learning.
package autofill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vkoskela/listing-autofill/internal/aggregate"
	"github.com/vkoskela/listing-autofill/internal/analysis"
	"github.com/vkoskela/listing-autofill/internal/confidence"
	"github.com/vkoskela/listing-autofill/internal/storage"
)

// MaxInteractiveImages bounds the synchronous auto-fill flow.
const MaxInteractiveImages = 5

var (
	// ErrTooManyImages is returned when the interactive flow receives more
	// than MaxInteractiveImages images.
	ErrTooManyImages = fmt.Errorf("too many images: at most %d allowed", MaxInteractiveImages)

	// ErrSuggestionNotFound is returned for feedback on an unknown
	// suggestion.
	ErrSuggestionNotFound = errors.New("suggestion not found")

	// ErrInvalidFeedback is returned for a feedback value outside
	// accepted/rejected/modified.
	ErrInvalidFeedback = errors.New("invalid feedback value")

	// ErrImageNotFound is returned when a queue item references an image
	// that no longer exists.
	ErrImageNotFound = errors.New("image not found")

	// ErrNoUsableImages mirrors the aggregation error for callers that
	// only import this package.
	ErrNoUsableImages = aggregate.ErrNoUsableImages
)

// ImageInput is one uploaded image in the interactive flow.
type ImageInput struct {
	Data     []byte
	Filename string
}

// AutoFillResult is the interactive flow's response: the merged suggestion
// plus the persisted per-field suggestion records for later feedback.
type AutoFillResult struct {
	Aggregated  *aggregate.AggregatedSuggestion `json:"aggregated"`
	Suggestions []storage.Suggestion            `json:"-"`
}

// Service wires the provider, calculator and store into the operations the
// listing workflow consumes.
type Service struct {
	provider analysis.Provider
	calc     *confidence.Calculator
	store    *storage.SQLiteStore
}

// NewService creates the auto-fill service. provider is expected to be the
// cached, degrading provider chain.
func NewService(provider analysis.Provider, calc *confidence.Calculator, store *storage.SQLiteStore) *Service {
	return &Service{provider: provider, calc: calc, store: store}
}

// SubmitImagesForAutoFill runs the interactive flow: analyze up to
// MaxInteractiveImages images sequentially, merge the per-image results and
// persist one suggestion per listing field. Invalid images are skipped; only
// zero usable images is an error.
func (s *Service) SubmitImagesForAutoFill(ctx context.Context, articleID string, images []ImageInput) (*AutoFillResult, error) {
	if len(images) == 0 {
		return nil, ErrNoUsableImages
	}
	if len(images) > MaxInteractiveImages {
		return nil, ErrTooManyImages
	}
	if articleID == "" {
		articleID = uuid.NewString()
	}

	results := make([]*analysis.AnalysisResult, 0, len(images))
	for i, img := range images {
		imageID := uuid.NewString()
		if err := s.store.SaveImage(storage.Image{
			ID:          imageID,
			ArticleID:   articleID,
			Filename:    img.Filename,
			ContentHash: analysis.ContentHash(img.Data),
			Data:        img.Data,
		}); err != nil {
			log.Error().Err(err).Str("articleId", articleID).Msg("failed to persist uploaded image")
		}

		result, err := s.provider.Analyze(ctx, img.Data, analysis.Options{Filename: img.Filename})
		if err != nil {
			// Invalid bytes are fatal for this image only.
			log.Warn().Err(err).Int("index", i).Str("articleId", articleID).Msg("skipping unusable image")
			continue
		}
		results = append(results, result)
	}

	aggregated, err := aggregate.Aggregate(results)
	if err != nil {
		return nil, err
	}

	suggestions := s.buildSuggestions(articleID, aggregated)
	if err := s.store.InsertSuggestions(suggestions); err != nil {
		return nil, fmt.Errorf("failed to persist suggestions: %w", err)
	}

	log.Info().
		Str("articleId", articleID).
		Int("images", aggregated.ImagesAggregated).
		Float64("overallConfidence", aggregated.OverallConfidence).
		Msg("auto-fill suggestion produced")

	return &AutoFillResult{Aggregated: aggregated, Suggestions: suggestions}, nil
}

// buildSuggestions turns an aggregated suggestion into one persistable record
// per listing field.
func (s *Service) buildSuggestions(articleID string, agg *aggregate.AggregatedSuggestion) []storage.Suggestion {
	now := time.Now().UTC()
	confidenceFor := func(st analysis.SuggestionType) float64 {
		if score, ok := agg.ConfidenceScores[string(st)]; ok {
			return score
		}
		return confidence.MinScore
	}

	suggestions := []storage.Suggestion{
		{Type: analysis.SuggestionTitle, Value: agg.Title},
		{Type: analysis.SuggestionDescription, Value: agg.Description},
		{Type: analysis.SuggestionCondition, Value: string(agg.Condition)},
	}
	if agg.CategoryID != nil {
		suggestions = append(suggestions, storage.Suggestion{
			Type:  analysis.SuggestionCategory,
			Value: fmt.Sprintf("%d", *agg.CategoryID),
		})
	}
	if agg.Price != nil {
		suggestions = append(suggestions, storage.Suggestion{
			Type:  analysis.SuggestionPrice,
			Value: fmt.Sprintf("%.2f", *agg.Price),
		})
	}

	for i := range suggestions {
		suggestions[i].ID = uuid.NewString()
		suggestions[i].ArticleID = articleID
		suggestions[i].Confidence = confidenceFor(suggestions[i].Type)
		suggestions[i].CreatedAt = now
	}
	return suggestions
}

// EnqueueForAnalysis adds background work for the given images. Images that
// don't exist or are already queued are skipped. Returns the number of items
// added.
func (s *Service) EnqueueForAnalysis(imageIDs []string, pt storage.ProcessingType, priority int) (int, error) {
	added := 0
	for _, imageID := range imageIDs {
		img, err := s.store.GetImage(imageID)
		if err != nil {
			return added, err
		}
		if img == nil {
			log.Warn().Str("imageId", imageID).Msg("skipping enqueue for unknown image")
			continue
		}
		ok, err := s.store.Enqueue(imageID, pt, priority)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	log.Info().Int("added", added).Str("processingType", string(pt)).Msg("images enqueued")
	return added, nil
}

// ProcessItem handles one claimed queue item. Called by the queue worker;
// errors are recorded on the item, never propagated to users.
func (s *Service) ProcessItem(ctx context.Context, item storage.QueueItem) error {
	img, err := s.store.GetImage(item.ImageID)
	if err != nil {
		return err
	}
	if img == nil {
		return ErrImageNotFound
	}

	switch item.ProcessingType {
	case storage.ProcessingAnalysis:
		return s.processAnalysis(ctx, img)
	case storage.ProcessingCategorization:
		return s.processCategorization(ctx, img)
	case storage.ProcessingTextExtraction:
		return s.processTextExtraction(ctx, img)
	case storage.ProcessingSimilarity:
		return s.processSimilarity(img)
	default:
		return fmt.Errorf("unknown processing type: %s", item.ProcessingType)
	}
}

func (s *Service) processAnalysis(ctx context.Context, img *storage.Image) error {
	_, err := s.provider.Analyze(ctx, img.Data, analysis.Options{Filename: img.Filename})
	if err != nil {
		return err
	}
	// All analyses of this listing may now be done; the aggregation check
	// is cheap and idempotent.
	s.maybeAggregateArticle(img.ArticleID, img.ID)
	return nil
}

// processCategorization derives only the category, served from the shorter
// lived category cache when possible.
func (s *Service) processCategorization(ctx context.Context, img *storage.Image) error {
	if _, found, err := s.store.GetCategorySuggestion(img.ContentHash); err == nil && found {
		log.Debug().Str("imageId", img.ID).Msg("category cache hit")
		return nil
	}

	result, err := s.provider.Analyze(ctx, img.Data, analysis.Options{Filename: img.Filename})
	if err != nil {
		return err
	}
	if err := s.store.PutCategorySuggestion(img.ContentHash, result.SuggestedCategory); err != nil {
		return err
	}
	return nil
}

func (s *Service) processTextExtraction(ctx context.Context, img *storage.Image) error {
	result, err := s.provider.Analyze(ctx, img.Data, analysis.Options{Filename: img.Filename})
	if err != nil {
		return err
	}
	log.Debug().
		Str("imageId", img.ID).
		Int("fragments", len(result.TextFragments)).
		Msg("text extraction complete")
	return nil
}

// processSimilarity finds byte-identical uploads via the content hash. This
// is a cache-lookup level check, not perceptual duplicate detection.
func (s *Service) processSimilarity(img *storage.Image) error {
	duplicates, err := s.store.ImageIDsByHash(img.ContentHash, img.ID)
	if err != nil {
		return err
	}
	if len(duplicates) > 0 {
		log.Info().
			Str("imageId", img.ID).
			Strs("duplicates", duplicates).
			Msg("found byte-identical images")
	}
	return nil
}

// maybeAggregateArticle produces the listing-level suggestions once every
// image of the article has reached a terminal queue state. The image whose
// item is currently being processed is excluded from the completion check,
// since its item is only marked terminal after processing returns. Listings
// that already have suggestions are left alone.
func (s *Service) maybeAggregateArticle(articleID, currentImageID string) {
	images, err := s.store.ImagesByArticle(articleID)
	if err != nil {
		log.Error().Err(err).Str("articleId", articleID).Msg("failed to load article images")
		return
	}
	if len(images) == 0 {
		return
	}

	imageIDs := make([]string, 0, len(images))
	for _, img := range images {
		if img.ID != currentImageID {
			imageIDs = append(imageIDs, img.ID)
		}
	}
	active, err := s.store.HasActiveItems(imageIDs, storage.ProcessingAnalysis)
	if err != nil {
		log.Error().Err(err).Str("articleId", articleID).Msg("failed to check article completion")
		return
	}
	if active {
		return
	}

	existing, err := s.store.SuggestionsByArticle(articleID)
	if err != nil {
		log.Error().Err(err).Str("articleId", articleID).Msg("failed to check existing suggestions")
		return
	}
	if len(existing) > 0 {
		return
	}

	// Collect whatever the cache has; images whose analysis ultimately
	// failed simply contribute nothing.
	var results []*analysis.AnalysisResult
	for _, img := range images {
		cached, err := s.store.GetAnalysis(img.ContentHash)
		if err != nil {
			log.Warn().Err(err).Str("imageId", img.ID).Msg("failed to read cached analysis")
			continue
		}
		if cached != nil {
			results = append(results, cached)
		}
	}

	aggregated, err := aggregate.Aggregate(results)
	if err != nil {
		log.Warn().Err(err).Str("articleId", articleID).Msg("no usable analyses to aggregate")
		return
	}

	suggestions := s.buildSuggestions(articleID, aggregated)
	if err := s.store.InsertSuggestions(suggestions); err != nil {
		log.Error().Err(err).Str("articleId", articleID).Msg("failed to persist aggregated suggestions")
		return
	}

	log.Info().
		Str("articleId", articleID).
		Int("images", aggregated.ImagesAggregated).
		Float64("overallConfidence", aggregated.OverallConfidence).
		Msg("background aggregation complete")
}

// RecordSuggestionFeedback persists user feedback and applies the confidence
// calculator's learning nudge exactly once per suggestion. Resubmitted
// feedback may update the stored value but never double-counts in learning.
func (s *Service) RecordSuggestionFeedback(suggestionID string, feedback confidence.Feedback, modifiedValue string) error {
	switch feedback {
	case confidence.FeedbackAccepted, confidence.FeedbackRejected, confidence.FeedbackModified:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFeedback, feedback)
	}

	suggestion, err := s.store.GetSuggestion(suggestionID)
	if err != nil {
		return err
	}
	if suggestion == nil {
		return ErrSuggestionNotFound
	}

	if err := s.store.UpdateFeedback(suggestionID, string(feedback), modifiedValue); err != nil {
		return err
	}

	first, err := s.store.TryMarkLearningApplied(suggestionID)
	if err != nil {
		return err
	}
	if !first {
		log.Debug().Str("suggestionId", suggestionID).Msg("duplicate feedback, learning nudge skipped")
		return nil
	}

	weight := s.calc.ApplyFeedback(suggestion.Type, feedback)
	log.Info().
		Str("suggestionId", suggestionID).
		Str("suggestionType", string(suggestion.Type)).
		Str("feedback", string(feedback)).
		Float64("feedbackWeight", weight).
		Msg("suggestion feedback recorded")
	return nil
}

// SuggestionsByArticle exposes persisted suggestions for a listing.
func (s *Service) SuggestionsByArticle(articleID string) ([]storage.Suggestion, error) {
	return s.store.SuggestionsByArticle(articleID)
}
