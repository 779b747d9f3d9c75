// Package confidence computes 0.1–0.95 confidence scores for listing field
// suggestions and maintains the per-type feedback weights learned from user
// accept/reject history.
package confidence

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vkoskela/listing-autofill/internal/analysis"
)

const (
	// MinScore and MaxScore clamp every calculator output.
	MinScore = 0.1
	MaxScore = 0.95

	// MinWeight and MaxWeight bound the learned feedback weights.
	MinWeight = 0.3
	MaxWeight = 1.5

	defaultWeight = 1.0

	// fallbackScoreCeiling caps every score for results produced by the
	// local fallback, which never claims more certainty than its own
	// labels. Keeps detail-heavy fallback results and learned weights
	// from inflating confidence past what the detections warrant.
	fallbackScoreCeiling = 0.6

	// defaultHistoricalAccuracy is used for category/price scoring when no
	// feedback history exists yet.
	defaultHistoricalAccuracy = 0.5

	// rollingWeightWindow is the trailing window used to seed feedback
	// weights at startup.
	rollingWeightWindow = 90 * 24 * time.Hour

	// historicalAccuracyWindow is the trailing window for the accepted
	// fraction factor.
	historicalAccuracyWindow = 180 * 24 * time.Hour
)

// Feedback is a user's verdict on a suggestion.
type Feedback string

const (
	FeedbackAccepted Feedback = "accepted"
	FeedbackRejected Feedback = "rejected"
	FeedbackModified Feedback = "modified"
)

// Nudge applied to the feedback weight per feedback event. An online
// approximation of the batch rolling average.
var feedbackNudges = map[Feedback]float64{
	FeedbackAccepted: 0.05,
	FeedbackRejected: -0.05,
	FeedbackModified: -0.02,
}

// Seed values for the rolling average that initializes feedback weights.
var feedbackSeeds = map[Feedback]float64{
	FeedbackAccepted: 1.2,
	FeedbackRejected: 0.8,
	FeedbackModified: 1.0,
}

// WeightStore persists feedback weights so they survive restarts.
type WeightStore interface {
	LoadWeights() (map[analysis.SuggestionType]float64, error)
	SaveWeight(st analysis.SuggestionType, weight float64) error
}

// HistorySource exposes aggregated suggestion feedback history.
type HistorySource interface {
	// FeedbackCounts returns accepted/rejected/modified counts for a
	// suggestion type since the given time.
	FeedbackCounts(st analysis.SuggestionType, since time.Time) (accepted, rejected, modified int, err error)
	// AcceptedFraction returns the fraction of suggestions of a type with
	// accepted feedback since the given time. ok is false when there is no
	// history at all.
	AcceptedFraction(st analysis.SuggestionType, since time.Time) (fraction float64, ok bool, err error)
}

// Calculator scores suggestions. It holds the learned per-type feedback
// weights as explicit injected state, recomputed at startup and mutated only
// through ApplyFeedback.
type Calculator struct {
	mu      sync.RWMutex
	weights map[analysis.SuggestionType]float64
	store   WeightStore
	history HistorySource
}

// NewCalculator creates a calculator. Persisted weights are loaded first;
// types without a persisted weight are seeded from the trailing 3-month
// feedback average. Both store and history may be nil (all weights default
// to 1.0), which keeps scoring pure for tests.
func NewCalculator(store WeightStore, history HistorySource) (*Calculator, error) {
	c := &Calculator{
		weights: make(map[analysis.SuggestionType]float64, len(analysis.SuggestionTypes)),
		store:   store,
		history: history,
	}

	var persisted map[analysis.SuggestionType]float64
	if store != nil {
		var err error
		persisted, err = store.LoadWeights()
		if err != nil {
			return nil, fmt.Errorf("failed to load feedback weights: %w", err)
		}
	}

	since := time.Now().Add(-rollingWeightWindow)
	for _, st := range analysis.SuggestionTypes {
		if w, ok := persisted[st]; ok {
			c.weights[st] = clamp(w, MinWeight, MaxWeight)
			continue
		}
		c.weights[st] = c.seedWeight(st, since)
	}

	return c, nil
}

// seedWeight computes the rolling 3-month average weight for a type with no
// persisted value. No history means the neutral default.
func (c *Calculator) seedWeight(st analysis.SuggestionType, since time.Time) float64 {
	if c.history == nil {
		return defaultWeight
	}
	accepted, rejected, modified, err := c.history.FeedbackCounts(st, since)
	if err != nil {
		log.Warn().Err(err).Str("suggestionType", string(st)).Msg("failed to seed feedback weight from history")
		return defaultWeight
	}
	total := accepted + rejected + modified
	if total == 0 {
		return defaultWeight
	}
	sum := float64(accepted)*feedbackSeeds[FeedbackAccepted] +
		float64(rejected)*feedbackSeeds[FeedbackRejected] +
		float64(modified)*feedbackSeeds[FeedbackModified]
	return clamp(sum/float64(total), MinWeight, MaxWeight)
}

// FeedbackWeight returns the current learned weight for a suggestion type.
func (c *Calculator) FeedbackWeight(st analysis.SuggestionType) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if w, ok := c.weights[st]; ok {
		return w
	}
	return defaultWeight
}

// ApplyFeedback nudges the feedback weight for a suggestion type and persists
// the result. Idempotence per suggestion is the caller's responsibility: the
// same feedback event must be applied at most once.
func (c *Calculator) ApplyFeedback(st analysis.SuggestionType, feedback Feedback) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	weight, ok := c.weights[st]
	if !ok {
		weight = defaultWeight
	}
	weight = clamp(weight+feedbackNudges[feedback], MinWeight, MaxWeight)
	c.weights[st] = weight

	if c.store != nil {
		if err := c.store.SaveWeight(st, weight); err != nil {
			log.Error().Err(err).Str("suggestionType", string(st)).Msg("failed to persist feedback weight")
		}
	}

	log.Debug().
		Str("suggestionType", string(st)).
		Str("feedback", string(feedback)).
		Float64("weight", weight).
		Msg("feedback weight updated")

	return weight
}

// Score implements analysis.Scorer: a weighted sum of 2-4 named factors per
// suggestion type, multiplied by the learned feedback weight and clamped.
// Fallback-sourced results are additionally capped at the fallback ceiling.
func (c *Calculator) Score(res *analysis.AnalysisResult, st analysis.SuggestionType, categoryID *int64) float64 {
	var base float64
	switch st {
	case analysis.SuggestionTitle:
		base = c.titleBase(res)
	case analysis.SuggestionDescription:
		base = c.descriptionBase(res)
	case analysis.SuggestionCategory:
		base = c.categoryBase(res, categoryID)
	case analysis.SuggestionPrice:
		base = c.priceBase(res, categoryID)
	case analysis.SuggestionCondition:
		base = c.conditionBase(res)
	default:
		base = MinScore
	}
	score := clamp(base*c.FeedbackWeight(st), MinScore, MaxScore)
	if res.Source == analysis.SourceFallback && score > fallbackScoreCeiling {
		score = fallbackScoreCeiling
	}
	return score
}

// titleBase: object-clarity 0.5, object-count 0.3, detection-consistency 0.2.
func (c *Calculator) titleBase(res *analysis.AnalysisResult) float64 {
	clarity := min1(1.2 * meanTopObjectConfidence(res.Objects, 3))
	count := min1(float64(len(res.Objects)) / 10)
	consistency := 0.0
	if len(res.Objects) > 0 {
		consistency = 1 - uniqueRatio(res.Objects)
	}
	return 0.5*clarity + 0.3*count + 0.2*consistency
}

// descriptionBase: detail-richness 0.4, text-presence 0.3, color-info 0.3.
func (c *Calculator) descriptionBase(res *analysis.AnalysisResult) float64 {
	richness := min1(float64(len(res.Objects)+len(res.Labels)) / 15)
	text := 0.2
	if len(res.TextFragments) > 0 {
		text = 1.0
	}
	color := 0.3
	if len(res.Colors) > 0 {
		color = 1.0
	}
	return 0.4*richness + 0.3*text + 0.3*color
}

// categoryBase: object-clarity 0.4, label-support 0.2, historical-accuracy 0.4.
func (c *Calculator) categoryBase(res *analysis.AnalysisResult, categoryID *int64) float64 {
	clarity := min1(1.2 * meanTopObjectConfidence(res.Objects, 3))
	support := min1(float64(len(res.Labels)) / 10)
	return 0.4*clarity + 0.2*support + 0.4*c.historicalAccuracy(analysis.SuggestionCategory)
}

// priceBase: object-clarity 0.3, category-match 0.3, historical-accuracy 0.4.
func (c *Calculator) priceBase(res *analysis.AnalysisResult, categoryID *int64) float64 {
	clarity := min1(1.2 * meanTopObjectConfidence(res.Objects, 3))
	match := 0.2
	if categoryID != nil {
		match = 1.0
	}
	return 0.3*clarity + 0.3*match + 0.4*c.historicalAccuracy(analysis.SuggestionPrice)
}

// conditionBase: mean object confidence 0.6, object-count 0.4.
func (c *Calculator) conditionBase(res *analysis.AnalysisResult) float64 {
	mean := meanObjectConfidence(res.Objects)
	count := min1(float64(len(res.Objects)) / 10)
	return 0.6*mean + 0.4*count
}

// historicalAccuracy is the accepted fraction of past suggestions of a type
// over the trailing 6 months, defaulting to 0.5 with no history.
func (c *Calculator) historicalAccuracy(st analysis.SuggestionType) float64 {
	if c.history == nil {
		return defaultHistoricalAccuracy
	}
	fraction, ok, err := c.history.AcceptedFraction(st, time.Now().Add(-historicalAccuracyWindow))
	if err != nil {
		log.Warn().Err(err).Str("suggestionType", string(st)).Msg("failed to load historical accuracy")
		return defaultHistoricalAccuracy
	}
	if !ok {
		return defaultHistoricalAccuracy
	}
	return fraction
}

func meanTopObjectConfidence(objects []analysis.DetectedObject, n int) float64 {
	if len(objects) == 0 {
		return 0
	}
	confs := make([]float64, len(objects))
	for i, o := range objects {
		confs[i] = o.Confidence
	}
	// Selection of the top n without a full sort: n is tiny.
	for i := 0; i < n && i < len(confs); i++ {
		max := i
		for j := i + 1; j < len(confs); j++ {
			if confs[j] > confs[max] {
				max = j
			}
		}
		confs[i], confs[max] = confs[max], confs[i]
	}
	count := n
	if len(confs) < n {
		count = len(confs)
	}
	sum := 0.0
	for i := 0; i < count; i++ {
		sum += confs[i]
	}
	return sum / float64(count)
}

func meanObjectConfidence(objects []analysis.DetectedObject) float64 {
	if len(objects) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range objects {
		sum += o.Confidence
	}
	return sum / float64(len(objects))
}

// uniqueRatio is unique object names over total detections. Repeated
// detections of the same object raise consistency.
func uniqueRatio(objects []analysis.DetectedObject) float64 {
	if len(objects) == 0 {
		return 1
	}
	seen := make(map[string]bool, len(objects))
	for _, o := range objects {
		seen[strings.ToLower(o.Name)] = true
	}
	return float64(len(seen)) / float64(len(objects))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
