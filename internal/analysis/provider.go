package analysis

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Options carry per-image context for an analysis call.
type Options struct {
	// Filename of the original upload, used by the fallback's keyword
	// labeling as a last resort.
	Filename string
	// CategoryHint pins suggestion derivation to a known category instead
	// of running keyword matching.
	CategoryHint *int64
}

// Provider analyzes a single image and returns a structured result. Provider
// unavailability is never surfaced as an error: implementations degrade to a
// local fallback instead. Only unreadable image bytes produce ErrInvalidImage.
type Provider interface {
	Analyze(ctx context.Context, image []byte, opts Options) (*AnalysisResult, error)
}

// Scorer computes the confidence score for one suggestion type of a result.
// Implemented by the confidence calculator.
type Scorer interface {
	Score(res *AnalysisResult, st SuggestionType, categoryID *int64) float64
}

// FallbackObserver is notified when the remote provider fails and the local
// fallback takes over. Used for metrics.
type FallbackObserver interface {
	RecordProviderFallback()
}

// Service is the analysis provider: remote vision API first, local fallback
// on any remote failure, then suggestion derivation and confidence scoring on
// whichever detections were produced.
type Service struct {
	remote   *RemoteClient // nil when the external provider is disabled
	deriver  *Deriver
	scorer   Scorer
	observer FallbackObserver
}

// NewService creates the provider. remote may be nil to disable the external
// vision API entirely; observer may be nil.
func NewService(remote *RemoteClient, deriver *Deriver, scorer Scorer, observer FallbackObserver) *Service {
	return &Service{remote: remote, deriver: deriver, scorer: scorer, observer: observer}
}

// Analyze implements Provider.
func (s *Service) Analyze(ctx context.Context, image []byte, opts Options) (*AnalysisResult, error) {
	var result *AnalysisResult

	if s.remote != nil {
		remote, err := s.remote.Annotate(ctx, image)
		if err != nil {
			// Provider failure degrades, it never aborts the pipeline.
			// Retries happen through the processing queue, not inline.
			log.Warn().Err(err).Str("filename", opts.Filename).Msg("remote vision provider failed, using local fallback")
			if s.observer != nil {
				s.observer.RecordProviderFallback()
			}
		} else {
			result = remote
		}
	}

	if result == nil {
		fallback, err := analyzeLocally(image, opts.Filename)
		if err != nil {
			return nil, err
		}
		result = fallback
	}

	if err := s.deriver.Derive(result, opts); err != nil {
		log.Warn().Err(err).Msg("suggestion derivation failed partially")
	}
	s.applyScores(result)

	return result, nil
}

func (s *Service) applyScores(res *AnalysisResult) {
	if s.scorer == nil {
		return
	}
	if res.ConfidenceScores == nil {
		res.ConfidenceScores = make(map[string]float64, len(SuggestionTypes))
	}
	for _, st := range SuggestionTypes {
		res.ConfidenceScores[string(st)] = s.scorer.Score(res, st, res.SuggestedCategory)
	}
}
