package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/imgtoold/imgtoold/modelscope"
	"github.com/imgtoold/imgtoold/service"
	"github.com/imgtoold/imgtoold/stats"
)

// server exposes the tool operations over a small JSON HTTP surface
// and serves cached artifacts from disk under /cache/.
type server struct {
	svc      *service.Service
	recorder *stats.Recorder
	logger   *slog.Logger
}

func newServer(svc *service.Service, recorder *stats.Recorder, logger *slog.Logger, cacheDir string, serveCache bool) http.Handler {
	s := &server{
		svc:      svc,
		recorder: recorder,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tools/fetch_image", s.instrument("fetch_image", s.handleFetchImage))
	mux.HandleFunc("POST /tools/rotate_image", s.instrument("rotate_image", s.handleRotateImage))
	mux.HandleFunc("POST /tools/crop_image", s.instrument("crop_image", s.handleCropImage))
	mux.HandleFunc("POST /tools/ocr_extract", s.instrument("ocr_extract", s.handleOCRExtract))
	mux.HandleFunc("POST /tools/ocr_batch", s.instrument("ocr_batch", s.handleOCRBatch))
	mux.HandleFunc("POST /tools/get_image_info", s.instrument("get_image_info", s.handleGetImageInfo))
	mux.HandleFunc("POST /tools/locate_object", s.instrument("locate_object", s.handleLocateObject))
	mux.HandleFunc("POST /tools/generate_image", s.instrument("generate_image", s.handleGenerateImage))
	mux.HandleFunc("POST /tools/edit_image", s.instrument("edit_image", s.handleEditImage))
	mux.HandleFunc("GET /ai_images", s.instrument("list_ai_images", s.handleListAIImages))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if serveCache {
		mux.Handle("GET /cache/", http.StripPrefix("/cache/", http.FileServer(http.Dir(cacheDir))))
	}

	return s.withRequestID(mux)
}

// withRequestID tags every request with an id for log correlation.
func (s *server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r)
	})
}

// instrument records per-operation latency and logs the outcome.
func (s *server) instrument(op string, fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		err := fn(w, r)
		elapsed := time.Since(start)
		s.recorder.Observe(op, elapsed)
		if err != nil {
			s.logger.Warn("operation failed", "op", op, "duration", elapsed,
				"request_id", w.Header().Get("X-Request-Id"), "error", err)
			s.writeError(w, err)
			return
		}
		s.logger.Debug("operation done", "op", op, "duration", elapsed)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", service.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// writeError maps error kinds to HTTP statuses: caller mistakes are
// 400, remote task failures 502, remote task timeouts 504, everything
// else 500.
func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var taskErr *modelscope.TaskError
	var timeoutErr *modelscope.TimeoutError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.As(err, &taskErr):
		status = http.StatusBadGateway
	case errors.As(err, &timeoutErr):
		status = http.StatusGatewayTimeout
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *server) handleFetchImage(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		URL   string `json:"url"`
		Focus string `json:"focus"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	result, err := s.svc.FetchImage(r.Context(), req.URL, req.Focus)
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

func (s *server) handleRotateImage(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		URL       string `json:"url"`
		Direction string `json:"direction"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	result, err := s.svc.RotateImage(r.Context(), req.URL, req.Direction)
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

func (s *server) handleCropImage(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		URL    string  `json:"url"`
		Left   float64 `json:"left"`
		Top    float64 `json:"top"`
		Right  float64 `json:"right"`
		Bottom float64 `json:"bottom"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	result, err := s.svc.CropImage(r.Context(), req.URL, req.Left, req.Top, req.Right, req.Bottom)
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

func (s *server) handleOCRExtract(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		ImageURL string `json:"image_url"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	result, err := s.svc.OCRExtract(r.Context(), req.ImageURL)
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

func (s *server) handleOCRBatch(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		ImageURLs []string `json:"image_urls"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	results, err := s.svc.OCRBatch(r.Context(), req.ImageURLs)
	if err != nil {
		return err
	}
	return writeJSON(w, results)
}

func (s *server) handleGetImageInfo(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	info, err := s.svc.GetImageInfo(r.Context(), req.URL)
	if err != nil {
		return err
	}
	return writeJSON(w, info)
}

func (s *server) handleLocateObject(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		ImageURL string `json:"image_url"`
		Object   string `json:"object"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	boxes, err := s.svc.LocateObject(r.Context(), req.ImageURL, req.Object)
	if err != nil {
		return err
	}
	return writeJSON(w, boxes)
}

func (s *server) handleGenerateImage(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Prompt         string `json:"prompt"`
		NegativePrompt string `json:"negative_prompt"`
		AspectRatio    string `json:"aspect_ratio"`
		Resolution     string `json:"resolution"`
		Steps          int    `json:"steps"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	result, err := s.svc.GenerateImage(r.Context(), service.GenerateParams{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		Resolution:     req.Resolution,
		Steps:          req.Steps,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

func (s *server) handleEditImage(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		ImageURL string `json:"image_url"`
		Prompt   string `json:"prompt"`
		Size     string `json:"size"`
		Steps    int    `json:"steps"`
	}
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	result, err := s.svc.EditImage(r.Context(), service.EditParams{
		ImageURL: req.ImageURL,
		Prompt:   req.Prompt,
		Size:     req.Size,
		Steps:    req.Steps,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

func (s *server) handleListAIImages(w http.ResponseWriter, r *http.Request) error {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			return fmt.Errorf("%w: limit must be an integer, got %q", service.ErrInvalidInput, raw)
		}
	}
	records, err := s.svc.ListAIImages(r.Context(), limit, r.URL.Query().Get("type"))
	if err != nil {
		return err
	}
	return writeJSON(w, records)
}
