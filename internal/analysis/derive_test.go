package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCategories []Category

func (c staticCategories) Categories() ([]Category, error) { return c, nil }

type staticPrices map[int64]map[Condition]PriceStats

func (p staticPrices) PriceStats(categoryID int64, condition Condition) (*PriceStats, error) {
	byCondition, ok := p[categoryID]
	if !ok {
		return nil, nil
	}
	stats, ok := byCondition[condition]
	if !ok {
		return nil, nil
	}
	return &stats, nil
}

func testCategories() staticCategories {
	return staticCategories{
		{ID: 1, Name: "Phones", Keywords: []string{"phone", "smartphone"}},
		{ID: 2, Name: "Computers", Keywords: []string{"laptop", "keyboard"}},
	}
}

func TestDeriveCategoryObjectsWeightedDouble(t *testing.T) {
	// A single strong object detection should outscore two weaker labels
	// of a competing category because objects count double.
	deriver := NewDeriver(testCategories(), nil)
	result := &AnalysisResult{
		Objects: []DetectedObject{{Name: "phone", Confidence: 0.8}},
		Labels: []Label{
			{Name: "laptop", Confidence: 0.7},
			{Name: "keyboard", Confidence: 0.7},
		},
	}

	err := deriver.Derive(result, Options{})
	require.NoError(t, err)
	require.NotNil(t, result.SuggestedCategory)
	assert.Equal(t, int64(1), *result.SuggestedCategory)
}

func TestDeriveCategoryNoMatch(t *testing.T) {
	deriver := NewDeriver(testCategories(), nil)
	result := &AnalysisResult{
		Objects: []DetectedObject{{Name: "banana", Confidence: 0.9}},
	}

	err := deriver.Derive(result, Options{})
	require.NoError(t, err)
	assert.Nil(t, result.SuggestedCategory)
}

func TestDeriveTitleTopThreeObjects(t *testing.T) {
	result := &AnalysisResult{
		Objects: []DetectedObject{
			{Name: "case", Confidence: 0.5},
			{Name: "phone", Confidence: 0.9},
			{Name: "charger", Confidence: 0.7},
			{Name: "cable", Confidence: 0.3},
		},
	}
	assert.Equal(t, "Phone Charger Case", deriveTitle(result))
}

func TestDeriveTitleFallsBackToLabels(t *testing.T) {
	result := &AnalysisResult{
		Labels: []Label{
			{Name: "electronics", Confidence: 0.6},
			{Name: "gadget", Confidence: 0.8},
			{Name: "technology", Confidence: 0.4},
		},
	}
	assert.Equal(t, "Gadget Electronics", deriveTitle(result))
}

func TestDerivePriceScalesAverageByCondition(t *testing.T) {
	prices := staticPrices{1: {ConditionGood: {Avg: 100, Min: 20, Max: 300, SampleSize: 10}}}
	deriver := NewDeriver(testCategories(), prices)

	// Two mid-confidence detections keep the derived condition at good.
	result := &AnalysisResult{
		Objects: []DetectedObject{
			{Name: "phone", Confidence: 0.6},
			{Name: "phone", Confidence: 0.6},
		},
	}
	err := deriver.Derive(result, Options{})
	require.NoError(t, err)

	require.NotNil(t, result.SuggestedPrice)
	assert.InDelta(t, 70.0, *result.SuggestedPrice, 0.001)
	require.NotNil(t, result.PriceRange)
	assert.InDelta(t, 56.0, result.PriceRange.Min, 0.001)
	assert.InDelta(t, 84.0, result.PriceRange.Max, 0.001)
}

func TestDerivePriceNilWithoutCategory(t *testing.T) {
	deriver := NewDeriver(testCategories(), staticPrices{})
	result := &AnalysisResult{}

	err := deriver.Derive(result, Options{})
	require.NoError(t, err)
	assert.Nil(t, result.SuggestedPrice)
	assert.Nil(t, result.PriceRange)
}

func TestDeriveCondition(t *testing.T) {
	tests := []struct {
		name        string
		confidences []float64
		want        Condition
	}{
		{"high confidence", []float64{0.9, 0.85}, ConditionLikeNew},
		{"low confidence", []float64{0.3, 0.2}, ConditionFair},
		{"middling", []float64{0.6, 0.5}, ConditionGood},
		{"no objects", nil, ConditionGood},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &AnalysisResult{}
			for _, c := range tt.confidences {
				result.Objects = append(result.Objects, DetectedObject{Name: "x", Confidence: c})
			}
			assert.Equal(t, tt.want, deriveCondition(result))
		})
	}
}

func TestDeriveCategoryHintSkipsMatching(t *testing.T) {
	deriver := NewDeriver(testCategories(), nil)
	hint := int64(2)
	result := &AnalysisResult{
		Objects: []DetectedObject{{Name: "phone", Confidence: 0.9}},
	}

	err := deriver.Derive(result, Options{CategoryHint: &hint})
	require.NoError(t, err)
	require.NotNil(t, result.SuggestedCategory)
	assert.Equal(t, int64(2), *result.SuggestedCategory)
}

func TestDeriveDescriptionMentionsColorAndText(t *testing.T) {
	result := &AnalysisResult{
		Objects:       []DetectedObject{{Name: "phone", Confidence: 0.9}},
		Labels:        []Label{{Name: "electronics", Confidence: 0.7}},
		Colors:        []DominantColor{{R: 40, G: 80, B: 210, Coverage: 0.5}},
		TextFragments: []TextFragment{{Text: "iPhone 13", Confidence: 0.9}},
	}

	description := deriveDescription(result)
	assert.Contains(t, description, "Phone for sale.")
	assert.Contains(t, description, "electronics")
	assert.Contains(t, description, "blue")
	assert.Contains(t, description, `"iPhone 13"`)
}
