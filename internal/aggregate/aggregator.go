// Package aggregate merges per-image analysis results for one listing into a
// single suggested listing with an overall confidence.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vkoskela/listing-autofill/internal/analysis"
)

// ErrNoUsableImages is returned when aggregation receives zero usable
// per-image results.
var ErrNoUsableImages = errors.New("no images could be processed")

const (
	// defaultCategoryScore stands in for a missing per-image category
	// confidence during accumulation.
	defaultCategoryScore = 0.5

	// defaultPriceWeight stands in for a missing per-image price
	// confidence in the weighted price average.
	defaultPriceWeight = 0.3

	titlePlaceholder = "Untitled item"
)

// AggregatedSuggestion is the merged suggestion for a whole listing. It has
// the shape of a single-image suggestion plus the overall confidence and the
// raw accumulated per-name scores.
type AggregatedSuggestion struct {
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	CategoryID         *int64             `json:"categoryId,omitempty"`
	Price              *float64           `json:"price,omitempty"`
	Condition          analysis.Condition `json:"condition"`
	OverallConfidence  float64            `json:"overallConfidence"`
	ObjectScores       map[string]float64 `json:"objectScores,omitempty"`
	LabelScores        map[string]float64 `json:"labelScores,omitempty"`
	ConfidenceScores   map[string]float64 `json:"confidenceScores,omitempty"`
	ImagesAggregated   int                `json:"imagesAggregated"`
}

// scoreAccumulator sums scores per lowercase name while remembering
// first-seen order so ties break reproducibly.
type scoreAccumulator struct {
	scores map[string]float64
	order  []string
}

func newScoreAccumulator() *scoreAccumulator {
	return &scoreAccumulator{scores: make(map[string]float64)}
}

func (a *scoreAccumulator) add(name string, score float64) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return
	}
	if _, seen := a.scores[key]; !seen {
		a.order = append(a.order, key)
	}
	a.scores[key] += score
}

// top returns up to n names by accumulated score, first-seen order breaking
// ties.
func (a *scoreAccumulator) top(n int) []string {
	firstSeen := make(map[string]int, len(a.order))
	for i, name := range a.order {
		firstSeen[name] = i
	}
	names := make([]string, len(a.order))
	copy(names, a.order)
	sort.SliceStable(names, func(i, j int) bool {
		si, sj := a.scores[names[i]], a.scores[names[j]]
		if si != sj {
			return si > sj
		}
		return firstSeen[names[i]] < firstSeen[names[j]]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// Aggregate merges an ordered sequence of per-image results. The input order
// only matters for tie-breaking: category, condition and name ranking ties
// resolve to the first-seen value.
func Aggregate(results []*analysis.AnalysisResult) (*AggregatedSuggestion, error) {
	usable := make([]*analysis.AnalysisResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			usable = append(usable, r)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoUsableImages
	}

	objects := newScoreAccumulator()
	labels := newScoreAccumulator()
	categories := newScoreAccumulator()
	conditions := newScoreAccumulator()
	categoryIDs := make(map[string]int64)

	priceSum := 0.0
	priceWeight := 0.0
	confidenceMeanSum := 0.0
	perTypeSum := make(map[string]float64)
	perTypeCount := make(map[string]int)

	for _, r := range usable {
		for _, o := range r.Objects {
			objects.add(o.Name, o.Confidence)
		}
		for _, l := range r.Labels {
			labels.add(l.Name, l.Confidence)
		}

		if r.SuggestedCategory != nil {
			key := fmt.Sprintf("%d", *r.SuggestedCategory)
			score := defaultCategoryScore
			if s, ok := r.ConfidenceScores[string(analysis.SuggestionCategory)]; ok {
				score = s
			}
			categories.add(key, score)
			categoryIDs[key] = *r.SuggestedCategory
		}

		if r.SuggestedPrice != nil {
			weight := defaultPriceWeight
			if w, ok := r.ConfidenceScores[string(analysis.SuggestionPrice)]; ok {
				weight = w
			}
			priceSum += *r.SuggestedPrice * weight
			priceWeight += weight
		}

		if r.SuggestedCondition != "" {
			conditions.add(string(r.SuggestedCondition), 1)
		}

		confidenceMeanSum += meanScore(r.ConfidenceScores)
		for name, score := range r.ConfidenceScores {
			perTypeSum[name] += score
			perTypeCount[name]++
		}
	}

	agg := &AggregatedSuggestion{
		ObjectScores:     objects.scores,
		LabelScores:      labels.scores,
		ImagesAggregated: len(usable),
	}

	agg.Title = buildTitle(objects)
	agg.Description = buildDescription(objects, labels)

	if top := categories.top(1); len(top) > 0 {
		id := categoryIDs[top[0]]
		agg.CategoryID = &id
	}

	if priceWeight > 0 {
		price := priceSum / priceWeight
		agg.Price = &price
	}

	if top := conditions.top(1); len(top) > 0 {
		agg.Condition = analysis.Condition(top[0])
	} else {
		agg.Condition = analysis.ConditionGood
	}

	agg.OverallConfidence = confidenceMeanSum / float64(len(usable))

	agg.ConfidenceScores = make(map[string]float64, len(perTypeSum))
	for name, sum := range perTypeSum {
		agg.ConfidenceScores[name] = sum / float64(perTypeCount[name])
	}

	return agg, nil
}

func buildTitle(objects *scoreAccumulator) string {
	names := objects.top(3)
	if len(names) == 0 {
		return titlePlaceholder
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = capitalize(n)
	}
	return strings.Join(parts, " ")
}

func buildDescription(objects, labels *scoreAccumulator) string {
	terms := objects.top(3)
	for _, l := range labels.top(5) {
		if !contains(terms, l) {
			terms = append(terms, l)
		}
	}
	if len(terms) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(capitalize(terms[0]))
	sb.WriteString(" for sale.")
	if len(terms) > 1 {
		sb.WriteString(" Features: ")
		sb.WriteString(strings.Join(terms[1:], ", "))
		sb.WriteString(".")
	}
	return sb.String()
}

func meanScore(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
