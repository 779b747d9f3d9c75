package analysis

import (
	"bytes"
	"image"
	"path/filepath"
	"sort"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
)

const (
	// fallbackLabelConfidence is assigned to filename-derived labels. The
	// fallback path never claims more certainty than this.
	fallbackLabelConfidence = 0.6

	// colorSampleTarget is the approximate number of pixels sampled from
	// the grid regardless of image size.
	colorSampleTarget = 64

	// colorBucketSize quantizes each channel into 32 levels (256 / 8).
	colorBucketSize = 8

	topColorCount = 5
)

// filenameKeywords maps substrings of upload filenames to labels, the
// fallback's last resort when nothing else can be detected locally.
var filenameKeywords = map[string]string{
	"phone":      "phone",
	"iphone":     "phone",
	"laptop":     "laptop",
	"macbook":    "laptop",
	"computer":   "computer",
	"monitor":    "monitor",
	"keyboard":   "keyboard",
	"mouse":      "mouse",
	"camera":     "camera",
	"bike":       "bicycle",
	"bicycle":    "bicycle",
	"sofa":       "sofa",
	"couch":      "sofa",
	"chair":      "chair",
	"table":      "table",
	"desk":       "desk",
	"tv":         "television",
	"television": "television",
	"watch":      "watch",
	"shoe":       "shoes",
	"jacket":     "jacket",
	"book":       "book",
	"guitar":     "guitar",
	"lamp":       "lamp",
	"console":    "game console",
	"headphone":  "headphones",
	"tablet":     "tablet",
	"stroller":   "stroller",
	"toy":        "toy",
}

// analyzeLocally produces an AnalysisResult without the external provider:
// basic metadata, a quantized dominant-color histogram from grid-sampled
// pixels, and filename keyword labels at low confidence.
func analyzeLocally(data []byte, filename string) (*AnalysisResult, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("filename", filename).Msg("fallback could not decode image")
		return nil, ErrInvalidImage
	}

	result := &AnalysisResult{Source: SourceFallback}
	result.Colors = dominantColors(img)

	for _, label := range filenameLabels(filename) {
		result.Labels = append(result.Labels, Label{Name: label, Confidence: fallbackLabelConfidence})
	}

	log.Debug().
		Str("format", format).
		Int("colors", len(result.Colors)).
		Int("labels", len(result.Labels)).
		Msg("local fallback analysis complete")

	return result, nil
}

// dominantColors samples pixels on a grid proportional to image size,
// quantizes each channel into 32-level buckets and returns the top buckets
// by pixel coverage.
func dominantColors(img image.Image) []DominantColor {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	stepX := width / colorSampleTarget
	if stepX < 1 {
		stepX = 1
	}
	stepY := height / colorSampleTarget
	if stepY < 1 {
		stepY = 1
	}

	type bucket struct{ r, g, b uint8 }
	counts := make(map[bucket]int)
	total := 0

	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			q := bucket{
				r: quantizeChannel(uint8(r >> 8)),
				g: quantizeChannel(uint8(g >> 8)),
				b: quantizeChannel(uint8(b >> 8)),
			}
			counts[q]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	buckets := make([]bucket, 0, len(counts))
	for b := range counts {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		ci, cj := counts[buckets[i]], counts[buckets[j]]
		if ci != cj {
			return ci > cj
		}
		// Stable order for equal counts.
		bi, bj := buckets[i], buckets[j]
		if bi.r != bj.r {
			return bi.r < bj.r
		}
		if bi.g != bj.g {
			return bi.g < bj.g
		}
		return bi.b < bj.b
	})

	if len(buckets) > topColorCount {
		buckets = buckets[:topColorCount]
	}

	colors := make([]DominantColor, 0, len(buckets))
	topCount := counts[buckets[0]]
	for _, b := range buckets {
		coverage := float64(counts[b]) / float64(total)
		colors = append(colors, DominantColor{
			R:        b.r,
			G:        b.g,
			B:        b.b,
			Score:    float64(counts[b]) / float64(topCount),
			Coverage: coverage,
		})
	}
	return colors
}

// quantizeChannel snaps a channel value to the center of its 32-level bucket.
func quantizeChannel(v uint8) uint8 {
	return v/colorBucketSize*colorBucketSize + colorBucketSize/2
}

func filenameLabels(filename string) []string {
	if filename == "" {
		return nil
	}
	base := strings.ToLower(filepath.Base(filename))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var labels []string
	seen := make(map[string]bool)
	for keyword, label := range filenameKeywords {
		if strings.Contains(base, keyword) && !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels
}

// namedColors are the reference points for turning an RGB triple into a
// human readable color name for descriptions.
var namedColors = []struct {
	name    string
	r, g, b int
}{
	{"black", 0, 0, 0},
	{"white", 255, 255, 255},
	{"gray", 128, 128, 128},
	{"red", 220, 40, 40},
	{"orange", 240, 140, 30},
	{"yellow", 240, 220, 50},
	{"green", 50, 160, 70},
	{"blue", 50, 90, 200},
	{"purple", 130, 60, 180},
	{"pink", 240, 130, 180},
	{"brown", 130, 90, 50},
}

// colorName returns the closest named color by squared RGB distance.
func colorName(c DominantColor) string {
	best := ""
	bestDist := int(^uint(0) >> 1)
	for _, n := range namedColors {
		dr := int(c.R) - n.r
		dg := int(c.G) - n.g
		db := int(c.B) - n.b
		dist := dr*dr + dg*dg + db*db
		if dist < bestDist {
			bestDist = dist
			best = n.name
		}
	}
	return best
}
