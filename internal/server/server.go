// Package server exposes the auto-fill operations over a small HTTP API.
package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/vkoskela/listing-autofill/internal/autofill"
	"github.com/vkoskela/listing-autofill/internal/confidence"
	"github.com/vkoskela/listing-autofill/internal/queue"
	"github.com/vkoskela/listing-autofill/internal/storage"
)

// Server wires HTTP handlers to the auto-fill service and queue worker.
type Server struct {
	service  *autofill.Service
	worker   *queue.Service
	store    *storage.SQLiteStore
	gatherer prometheus.Gatherer
}

// New creates the HTTP server facade.
func New(service *autofill.Service, worker *queue.Service, store *storage.SQLiteStore, gatherer prometheus.Gatherer) *Server {
	return &Server{service: service, worker: worker, store: store, gatherer: gatherer}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/autofill", s.handleAutoFill)
		r.Post("/queue", s.handleEnqueue)
		r.Post("/queue/process", s.handleProcessQueue)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Post("/suggestions/{suggestionID}/feedback", s.handleFeedback)
		r.Get("/articles/{articleID}/suggestions", s.handleArticleSuggestions)
	})

	return r
}

type autoFillRequest struct {
	ArticleID string `json:"articleId"`
	Images    []struct {
		Filename string `json:"filename"`
		Data     string `json:"data"` // base64
	} `json:"images"`
}

type suggestionView struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type autoFillResponse struct {
	ArticleID   string           `json:"articleId"`
	Aggregated  any              `json:"aggregated"`
	Suggestions []suggestionView `json:"suggestions"`
}

func (s *Server) handleAutoFill(w http.ResponseWriter, r *http.Request) {
	var req autoFillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	images := make([]autofill.ImageInput, 0, len(req.Images))
	for _, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, "image data must be base64")
			return
		}
		images = append(images, autofill.ImageInput{Data: data, Filename: img.Filename})
	}

	result, err := s.service.SubmitImagesForAutoFill(r.Context(), req.ArticleID, images)
	if err != nil {
		switch {
		case errors.Is(err, autofill.ErrNoUsableImages):
			writeError(w, http.StatusBadRequest, "no images could be processed")
		case errors.Is(err, autofill.ErrTooManyImages):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Msg("auto-fill failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := autoFillResponse{Aggregated: result.Aggregated}
	for _, sg := range result.Suggestions {
		resp.ArticleID = sg.ArticleID
		resp.Suggestions = append(resp.Suggestions, suggestionView{
			ID:         sg.ID,
			Type:       string(sg.Type),
			Value:      sg.Value,
			Confidence: sg.Confidence,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type enqueueRequest struct {
	ImageIDs       []string `json:"imageIds"`
	ProcessingType string   `json:"processingType"`
	Priority       int      `json:"priority"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	pt := storage.ProcessingType(req.ProcessingType)
	if pt == "" {
		pt = storage.ProcessingAnalysis
	}
	switch pt {
	case storage.ProcessingAnalysis, storage.ProcessingSimilarity,
		storage.ProcessingCategorization, storage.ProcessingTextExtraction:
	default:
		writeError(w, http.StatusBadRequest, "unknown processing type")
		return
	}

	added, err := s.service.EnqueueForAnalysis(req.ImageIDs, pt, req.Priority)
	if err != nil {
		log.Error().Err(err).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

type processRequest struct {
	BatchSize int `json:"batchSize"`
}

func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	result, err := s.worker.ProcessBatch(r.Context(), req.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("manual queue processing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.QueueStatistics()
	if err != nil {
		log.Error().Err(err).Msg("failed to load queue stats")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type feedbackRequest struct {
	Feedback      string `json:"feedback"`
	ModifiedValue string `json:"modifiedValue"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	suggestionID := chi.URLParam(r, "suggestionID")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.service.RecordSuggestionFeedback(suggestionID, confidence.Feedback(req.Feedback), req.ModifiedValue)
	if err != nil {
		switch {
		case errors.Is(err, autofill.ErrSuggestionNotFound):
			writeError(w, http.StatusNotFound, "suggestion not found")
		case errors.Is(err, autofill.ErrInvalidFeedback):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Str("suggestionId", suggestionID).Msg("feedback failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArticleSuggestions(w http.ResponseWriter, r *http.Request) {
	articleID := chi.URLParam(r, "articleID")

	suggestions, err := s.service.SuggestionsByArticle(articleID)
	if err != nil {
		log.Error().Err(err).Str("articleId", articleID).Msg("failed to load suggestions")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]suggestionView, 0, len(suggestions))
	for _, sg := range suggestions {
		views = append(views, suggestionView{
			ID:         sg.ID,
			Type:       string(sg.Type),
			Value:      sg.Value,
			Confidence: sg.Confidence,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
