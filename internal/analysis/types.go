package analysis

import "errors"

// ErrInvalidImage is returned when image bytes cannot be decoded at all.
// It is fatal for that single image but must not abort a multi-image batch.
var ErrInvalidImage = errors.New("invalid image data")

// Values of AnalysisResult.Source.
const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// Condition is the estimated condition of an item for sale.
type Condition string

const (
	ConditionNew     Condition = "new"
	ConditionLikeNew Condition = "like_new"
	ConditionGood    Condition = "good"
	ConditionFair    Condition = "fair"
	ConditionPoor    Condition = "poor"
)

// ConditionMultipliers scale a category's average sale price down by wear.
var ConditionMultipliers = map[Condition]float64{
	ConditionNew:     1.0,
	ConditionLikeNew: 0.85,
	ConditionGood:    0.7,
	ConditionFair:    0.55,
	ConditionPoor:    0.4,
}

// SuggestionType identifies which listing field a suggestion or confidence
// score belongs to.
type SuggestionType string

const (
	SuggestionTitle       SuggestionType = "title"
	SuggestionDescription SuggestionType = "description"
	SuggestionCategory    SuggestionType = "category"
	SuggestionPrice       SuggestionType = "price"
	SuggestionCondition   SuggestionType = "condition"
)

// SuggestionTypes lists all suggestion types in a stable order.
var SuggestionTypes = []SuggestionType{
	SuggestionTitle,
	SuggestionDescription,
	SuggestionCategory,
	SuggestionPrice,
	SuggestionCondition,
}

// Bounds is a normalized bounding box within the image.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectedObject is one localized object detection.
type DetectedObject struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Bounds     *Bounds `json:"bounds,omitempty"`
}

// Label is a whole-image classification label.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// TextFragment is a piece of text recognized in the image.
type TextFragment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Bounds     *Bounds `json:"bounds,omitempty"`
}

// DominantColor is one entry of the image's dominant color histogram.
type DominantColor struct {
	R        uint8   `json:"r"`
	G        uint8   `json:"g"`
	B        uint8   `json:"b"`
	Score    float64 `json:"score"`
	Coverage float64 `json:"coverage"`
}

// Landmark is a recognized landmark.
type Landmark struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// PriceRange brackets a suggested price.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AnalysisResult holds everything the analysis pipeline produced for a single
// image: raw detections plus the listing field suggestions derived from them.
// Results are immutable once produced and cached by image content hash.
type AnalysisResult struct {
	Objects         []DetectedObject  `json:"objects,omitempty"`
	Labels          []Label           `json:"labels,omitempty"`
	TextFragments   []TextFragment    `json:"textFragments,omitempty"`
	Colors          []DominantColor   `json:"colors,omitempty"`
	Landmarks       []Landmark        `json:"landmarks,omitempty"`
	FacesPresent    bool              `json:"facesPresent"`
	ExplicitContent map[string]string `json:"explicitContent,omitempty"`

	SuggestedCategory    *int64      `json:"suggestedCategory,omitempty"`
	SuggestedTitle       string      `json:"suggestedTitle,omitempty"`
	SuggestedDescription string      `json:"suggestedDescription,omitempty"`
	SuggestedPrice       *float64    `json:"suggestedPrice,omitempty"`
	PriceRange           *PriceRange `json:"priceRange,omitempty"`
	SuggestedCondition   Condition   `json:"suggestedCondition,omitempty"`

	// ConfidenceScores maps suggestion type to its 0.1–0.95 confidence.
	ConfidenceScores map[string]float64 `json:"confidenceScores,omitempty"`

	// Source records which path produced the detections ("remote" or
	// "fallback").
	Source string `json:"source,omitempty"`
}

// Category is an upstream marketplace category with its keyword list,
// consumed by the suggestion derivation step.
type Category struct {
	ID       int64
	Name     string
	Keywords []string
}

// PriceStats are trailing-window sale price statistics for one
// (category, condition) pair.
type PriceStats struct {
	Avg        float64
	Min        float64
	Max        float64
	SampleSize int
}

// CategorySource provides the category keyword lists.
type CategorySource interface {
	Categories() ([]Category, error)
}

// PriceSource provides trailing-window price statistics per category and
// condition. Returns nil, nil when no statistics exist.
type PriceSource interface {
	PriceStats(categoryID int64, condition Condition) (*PriceStats, error)
}
