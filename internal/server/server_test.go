package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkoskela/listing-autofill/internal/analysis"
	"github.com/vkoskela/listing-autofill/internal/autofill"
	"github.com/vkoskela/listing-autofill/internal/confidence"
	"github.com/vkoskela/listing-autofill/internal/queue"
	"github.com/vkoskela/listing-autofill/internal/storage"
)

type stubProvider struct{}

func (stubProvider) Analyze(ctx context.Context, image []byte, opts analysis.Options) (*analysis.AnalysisResult, error) {
	if string(image) == "bad" {
		return nil, analysis.ErrInvalidImage
	}
	return &analysis.AnalysisResult{
		Objects:            []analysis.DetectedObject{{Name: "phone", Confidence: 0.9}},
		SuggestedTitle:     "Phone",
		SuggestedCondition: analysis.ConditionGood,
		ConfidenceScores: map[string]float64{
			string(analysis.SuggestionTitle): 0.8,
		},
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	calc, err := confidence.NewCalculator(store, store)
	require.NoError(t, err)

	service := autofill.NewService(stubProvider{}, calc, store)
	worker := queue.NewService(store, service, nil, 10)
	ts := httptest.NewServer(New(service, worker, store, nil).Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAutoFillEndToEnd(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/autofill", map[string]any{
		"articleId": "article-1",
		"images": []map[string]string{
			{"filename": "a.jpg", "data": base64.StdEncoding.EncodeToString([]byte("img-a"))},
			{"filename": "b.jpg", "data": base64.StdEncoding.EncodeToString([]byte("img-b"))},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ArticleID   string `json:"articleId"`
		Aggregated  struct {
			Title            string `json:"title"`
			ImagesAggregated int    `json:"imagesAggregated"`
		} `json:"aggregated"`
		Suggestions []struct {
			ID         string  `json:"id"`
			Type       string  `json:"type"`
			Confidence float64 `json:"confidence"`
		} `json:"suggestions"`
	}
	decodeBody(t, resp, &body)

	assert.Equal(t, "article-1", body.ArticleID)
	assert.Equal(t, "Phone", body.Aggregated.Title)
	assert.Equal(t, 2, body.Aggregated.ImagesAggregated)
	assert.NotEmpty(t, body.Suggestions)

	// Feedback round trip on the returned suggestion.
	feedbackURL := fmt.Sprintf("%s/v1/suggestions/%s/feedback", ts.URL, body.Suggestions[0].ID)
	resp = postJSON(t, feedbackURL, map[string]string{"feedback": "accepted"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Stored suggestions are listable per article.
	listResp, err := http.Get(ts.URL + "/v1/articles/article-1/suggestions")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var views []struct {
		Type string `json:"type"`
	}
	decodeBody(t, listResp, &views)
	assert.NotEmpty(t, views)
}

func TestAutoFillRejectsBadInput(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/autofill", map[string]any{"images": []map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/autofill", map[string]any{
		"images": []map[string]string{{"data": "not base64!!"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	raw, err := http.Post(ts.URL+"/v1/autofill", "application/json", strings.NewReader("{broken"))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestFeedbackUnknownSuggestion(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/suggestions/nope/feedback", map[string]string{"feedback": "accepted"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFeedbackInvalidValueIsClientError(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/suggestions/whatever/feedback", map[string]string{"feedback": "meh"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFeedbackStorageFailureIsServerError(t *testing.T) {
	ts, store := newTestServer(t)

	// A closed store makes the suggestion lookup fail internally; that must
	// not surface as a client error or leak the underlying error text.
	require.NoError(t, store.Close())

	resp := postJSON(t, ts.URL+"/v1/suggestions/any/feedback", map[string]string{"feedback": "accepted"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "internal error", body["error"])
}

func TestEnqueueAndProcess(t *testing.T) {
	ts, store := newTestServer(t)

	require.NoError(t, store.SaveImage(storage.Image{
		ID: "img-1", ArticleID: "article-1", ContentHash: "h1", Data: []byte("img"),
	}))

	resp := postJSON(t, ts.URL+"/v1/queue", map[string]any{
		"imageIds":       []string{"img-1", "ghost"},
		"processingType": "analysis",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var added map[string]int
	decodeBody(t, resp, &added)
	assert.Equal(t, 1, added["added"])

	resp = postJSON(t, ts.URL+"/v1/queue/process", map[string]int{"batchSize": 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Processed int `json:"processed"`
		Errors    int `json:"errors"`
	}
	decodeBody(t, resp, &result)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Errors)

	statsResp, err := http.Get(ts.URL + "/v1/queue/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	require.Equal(t, http.StatusOK, statsResp.StatusCode)
	var stats struct {
		Completed int `json:"completed"`
	}
	decodeBody(t, statsResp, &stats)
	assert.Equal(t, 1, stats.Completed)
}

func TestEnqueueUnknownProcessingType(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/queue", map[string]any{
		"imageIds":       []string{"img-1"},
		"processingType": "mind-reading",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
