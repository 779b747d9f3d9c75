package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// objectKeywordWeight makes detected objects count double compared to
	// labels when matching category keywords.
	objectKeywordWeight = 2.0
	labelKeywordWeight  = 1.0

	titleObjectCount     = 3
	titleLabelFallback   = 2
	descriptionTermCount = 5
	priceRangeSpread     = 0.2
)

// Deriver turns raw detections into listing field suggestions using the
// upstream category keyword lists and price statistics.
type Deriver struct {
	categories CategorySource
	prices     PriceSource
}

// NewDeriver creates a suggestion deriver.
func NewDeriver(categories CategorySource, prices PriceSource) *Deriver {
	return &Deriver{categories: categories, prices: prices}
}

// Derive fills the Suggested* fields of result in place. It runs regardless
// of whether the detections came from the remote provider or the fallback.
// Partial failures (e.g. missing price statistics) leave the affected field
// empty and are reported once as an error.
func (d *Deriver) Derive(result *AnalysisResult, opts Options) error {
	var firstErr error

	if opts.CategoryHint != nil {
		hint := *opts.CategoryHint
		result.SuggestedCategory = &hint
	} else {
		categoryID, err := d.deriveCategory(result)
		if err != nil {
			firstErr = err
		}
		result.SuggestedCategory = categoryID
	}

	result.SuggestedTitle = deriveTitle(result)
	result.SuggestedCondition = deriveCondition(result)
	result.SuggestedDescription = deriveDescription(result)

	price, priceRange, err := d.derivePrice(result)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	result.SuggestedPrice = price
	result.PriceRange = priceRange

	return firstErr
}

// deriveCategory matches detected object and label names against each
// category's keyword list. Objects are weighted double. The top-scoring
// category wins; no match at all means no suggestion.
func (d *Deriver) deriveCategory(result *AnalysisResult) (*int64, error) {
	if d.categories == nil {
		return nil, nil
	}
	categories, err := d.categories.Categories()
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}

	var bestID *int64
	bestScore := 0.0
	for _, category := range categories {
		score := 0.0
		for _, keyword := range category.Keywords {
			kw := strings.ToLower(keyword)
			for _, o := range result.Objects {
				if keywordMatches(strings.ToLower(o.Name), kw) {
					score += objectKeywordWeight * o.Confidence
				}
			}
			for _, l := range result.Labels {
				if keywordMatches(strings.ToLower(l.Name), kw) {
					score += labelKeywordWeight * l.Confidence
				}
			}
		}
		if score > bestScore {
			bestScore = score
			id := category.ID
			bestID = &id
		}
	}

	if bestID != nil {
		log.Debug().Int64("categoryId", *bestID).Float64("score", bestScore).Msg("derived category")
	}
	return bestID, nil
}

func keywordMatches(name, keyword string) bool {
	return name == keyword || strings.Contains(name, keyword) || strings.Contains(keyword, name)
}

// deriveTitle concatenates the top 3 objects by confidence, falling back to
// the top 2 labels when nothing was localized.
func deriveTitle(result *AnalysisResult) string {
	names := topObjectNames(result.Objects, titleObjectCount)
	if len(names) == 0 {
		names = topLabelNames(result.Labels, titleLabelFallback)
	}
	for i, n := range names {
		names[i] = capitalize(n)
	}
	return strings.Join(names, " ")
}

// deriveDescription writes a templated sentence over the top detected terms,
// the dominant color and any short recognized text.
func deriveDescription(result *AnalysisResult) string {
	terms := topObjectNames(result.Objects, descriptionTermCount)
	for _, l := range topLabelNames(result.Labels, descriptionTermCount) {
		if len(terms) >= descriptionTermCount {
			break
		}
		if !containsFold(terms, l) {
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
	if len(result.Colors) > 0 {
		sb.WriteString(" Main color: ")
		sb.WriteString(colorName(result.Colors[0]))
		sb.WriteString(".")
	}
	if span := shortTextSpan(result.TextFragments); span != "" {
		sb.WriteString(fmt.Sprintf(" Visible text: %q.", span))
	}
	return sb.String()
}

// derivePrice scales the category's trailing average sale price by the
// condition multiplier and brackets it ±20%.
func (d *Deriver) derivePrice(result *AnalysisResult) (*float64, *PriceRange, error) {
	if d.prices == nil || result.SuggestedCategory == nil {
		return nil, nil, nil
	}
	condition := result.SuggestedCondition
	if condition == "" {
		condition = ConditionGood
	}
	stats, err := d.prices.PriceStats(*result.SuggestedCategory, condition)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load price stats: %w", err)
	}
	if stats == nil || stats.Avg <= 0 {
		return nil, nil, nil
	}

	multiplier, ok := ConditionMultipliers[condition]
	if !ok {
		multiplier = ConditionMultipliers[ConditionGood]
	}
	price := stats.Avg * multiplier
	priceRange := &PriceRange{
		Min: price * (1 - priceRangeSpread),
		Max: price * (1 + priceRangeSpread),
	}
	return &price, priceRange, nil
}

// deriveCondition estimates condition from the mean object detection
// confidence: sharp, well-lit photos tend to localize cleanly.
func deriveCondition(result *AnalysisResult) Condition {
	if len(result.Objects) == 0 {
		return ConditionGood
	}
	sum := 0.0
	for _, o := range result.Objects {
		sum += o.Confidence
	}
	mean := sum / float64(len(result.Objects))
	switch {
	case mean > 0.8:
		return ConditionLikeNew
	case mean < 0.4:
		return ConditionFair
	default:
		return ConditionGood
	}
}

func topObjectNames(objects []DetectedObject, n int) []string {
	sorted := make([]DetectedObject, len(objects))
	copy(sorted, objects)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	var names []string
	for _, o := range sorted {
		if len(names) >= n {
			break
		}
		if o.Name != "" && !containsFold(names, o.Name) {
			names = append(names, o.Name)
		}
	}
	return names
}

func topLabelNames(labels []Label, n int) []string {
	sorted := make([]Label, len(labels))
	copy(sorted, labels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	var names []string
	for _, l := range sorted {
		if len(names) >= n {
			break
		}
		if l.Name != "" && !containsFold(names, l.Name) {
			names = append(names, l.Name)
		}
	}
	return names
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
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
