package analysis

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Feature kinds requested from the remote vision API in a single batched call.
var annotateFeatures = []string{
	"OBJECT_LOCALIZATION",
	"LABEL_DETECTION",
	"TEXT_DETECTION",
	"IMAGE_PROPERTIES",
	"LANDMARK_DETECTION",
	"FACE_DETECTION",
	"SAFE_SEARCH_DETECTION",
}

const defaultMaxResults = 10

// RemoteClient talks to the external vision annotation API.
type RemoteClient struct {
	httpClient *resty.Client
	apiKey     string
}

// RemoteClientOpts configure the remote vision client.
type RemoteClientOpts struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewRemoteClient creates a vision API client. A zero Timeout defaults to 15s.
func NewRemoteClient(opts RemoteClientOpts) *RemoteClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &RemoteClient{httpClient: httpClient, apiKey: opts.APIKey}
}

type annotateRequest struct {
	Requests []annotateRequestEntry `json:"requests"`
}

type annotateRequestEntry struct {
	Image    annotateImage     `json:"image"`
	Features []annotateFeature `json:"features"`
}

type annotateImage struct {
	Content string `json:"content"`
}

type annotateFeature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type annotateResponse struct {
	Responses []annotationSet `json:"responses"`
}

// annotationSet is the per-image annotation container. A missing key means
// zero detections for that feature, not an error.
type annotationSet struct {
	ObjectAnnotations   []objectAnnotation    `json:"localizedObjectAnnotations"`
	LabelAnnotations    []entityAnnotation    `json:"labelAnnotations"`
	TextAnnotations     []textAnnotation      `json:"textAnnotations"`
	ImageProperties     *imageProperties      `json:"imagePropertiesAnnotation"`
	LandmarkAnnotations []entityAnnotation    `json:"landmarkAnnotations"`
	FaceAnnotations     []faceAnnotation      `json:"faceAnnotations"`
	SafeSearch          *safeSearchAnnotation `json:"safeSearchAnnotation"`
}

type objectAnnotation struct {
	Name         string        `json:"name"`
	Score        float64       `json:"score"`
	BoundingPoly *boundingPoly `json:"boundingPoly"`
}

type boundingPoly struct {
	NormalizedVertices []vertex `json:"normalizedVertices"`
}

type vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type entityAnnotation struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type textAnnotation struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

type imageProperties struct {
	DominantColors struct {
		Colors []colorInfo `json:"colors"`
	} `json:"dominantColors"`
}

type colorInfo struct {
	Color struct {
		Red   float64 `json:"red"`
		Green float64 `json:"green"`
		Blue  float64 `json:"blue"`
	} `json:"color"`
	Score         float64 `json:"score"`
	PixelFraction float64 `json:"pixelFraction"`
}

type faceAnnotation struct {
	DetectionConfidence float64 `json:"detectionConfidence"`
}

type safeSearchAnnotation struct {
	Adult    string `json:"adult"`
	Spoof    string `json:"spoof"`
	Medical  string `json:"medical"`
	Violence string `json:"violence"`
	Racy     string `json:"racy"`
}

// Annotate sends one batched annotation request for all feature kinds and
// parses the response. Any non-2xx status, transport error or response
// missing the top-level container is returned as an error; the caller decides
// how to degrade.
func (c *RemoteClient) Annotate(ctx context.Context, image []byte) (*AnalysisResult, error) {
	features := make([]annotateFeature, len(annotateFeatures))
	for i, f := range annotateFeatures {
		features[i] = annotateFeature{Type: f, MaxResults: defaultMaxResults}
	}

	body := annotateRequest{
		Requests: []annotateRequestEntry{{
			Image:    annotateImage{Content: base64.StdEncoding.EncodeToString(image)},
			Features: features,
		}},
	}

	result := &annotateResponse{}
	res, err := c.httpClient.NewRequest().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetBody(body).
		SetResult(result).
		Post("/v1/images:annotate")
	if err != nil {
		return nil, fmt.Errorf("annotate request failed: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("annotate request failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
	}
	if len(result.Responses) == 0 {
		return nil, fmt.Errorf("annotate response missing responses container")
	}

	return parseAnnotations(&result.Responses[0]), nil
}

func parseAnnotations(set *annotationSet) *AnalysisResult {
	result := &AnalysisResult{Source: SourceRemote}

	for _, o := range set.ObjectAnnotations {
		result.Objects = append(result.Objects, DetectedObject{
			Name:       o.Name,
			Confidence: o.Score,
			Bounds:     polyToBounds(o.BoundingPoly),
		})
	}
	for _, l := range set.LabelAnnotations {
		result.Labels = append(result.Labels, Label{Name: l.Description, Confidence: l.Score})
	}
	for _, t := range set.TextAnnotations {
		confidence := t.Confidence
		if confidence == 0 {
			confidence = 0.9
		}
		result.TextFragments = append(result.TextFragments, TextFragment{Text: t.Description, Confidence: confidence})
	}
	if set.ImageProperties != nil {
		for _, c := range set.ImageProperties.DominantColors.Colors {
			result.Colors = append(result.Colors, DominantColor{
				R:        uint8(c.Color.Red),
				G:        uint8(c.Color.Green),
				B:        uint8(c.Color.Blue),
				Score:    c.Score,
				Coverage: c.PixelFraction,
			})
		}
	}
	for _, l := range set.LandmarkAnnotations {
		result.Landmarks = append(result.Landmarks, Landmark{Name: l.Description, Confidence: l.Score})
	}
	result.FacesPresent = len(set.FaceAnnotations) > 0
	if set.SafeSearch != nil {
		result.ExplicitContent = map[string]string{
			"adult":    set.SafeSearch.Adult,
			"spoof":    set.SafeSearch.Spoof,
			"medical":  set.SafeSearch.Medical,
			"violence": set.SafeSearch.Violence,
			"racy":     set.SafeSearch.Racy,
		}
		for k, v := range result.ExplicitContent {
			if v == "" {
				delete(result.ExplicitContent, k)
			}
		}
		if len(result.ExplicitContent) == 0 {
			result.ExplicitContent = nil
		}
	}

	return result
}

func polyToBounds(poly *boundingPoly) *Bounds {
	if poly == nil || len(poly.NormalizedVertices) == 0 {
		return nil
	}
	minX, minY := 1.0, 1.0
	maxX, maxY := 0.0, 0.0
	for _, v := range poly.NormalizedVertices {
		if v.X < minX {
			minX = v.X
		}
		if v.Y < minY {
			minY = v.Y
		}
		if v.X > maxX {
			maxX = v.X
		}
		if v.Y > maxY {
			maxY = v.Y
		}
	}
	if maxX < minX || maxY < minY {
		return nil
	}
	return &Bounds{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// shortTextSpan returns the first recognized text fragment short enough to
// quote in a description, or empty string.
func shortTextSpan(fragments []TextFragment) string {
	for _, f := range fragments {
		text := strings.TrimSpace(f.Text)
		if text != "" && len(text) <= 40 && !strings.Contains(text, "\n") {
			return text
		}
	}
	return ""
}
