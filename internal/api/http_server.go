package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trackresync/internal/config"
	"trackresync/internal/domain"
	"trackresync/internal/metrics"
	"trackresync/internal/models"
	"trackresync/internal/service"
	"trackresync/internal/worker"

	"github.com/rs/zerolog"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Scheduler interface {
	RequestRun(reason string)
	Status() worker.Status
}

type ProgressRecorder interface {
	RecordProgress(ctx context.Context, record models.TrackRecord) (service.ProgressResult, error)
}

type ReportWriter interface {
	Write(ctx context.Context, w io.Writer) error
}

// Deps are the collaborators the HTTP API serves.
type Deps struct {
	Pending   domain.PendingStore
	Scheduler Scheduler
	Progress  ProgressRecorder
	Export    ReportWriter
	Logger    *zerolog.Logger
}

// HTTPServer exposes the resync controls over JSON/HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps) *HTTPServer {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, deps: deps, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/resync", srv.handleResync)
	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/pending", srv.handlePending)
	mux.HandleFunc("/api/v1/pending/export", srv.handleExport)
	mux.HandleFunc("/api/v1/progress/", srv.handleProgress)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           loggingMiddleware(logger, srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleResync(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("resync")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "api"
	}

	s.deps.Scheduler.RequestRun(reason)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "queued",
		"pending": s.deps.Scheduler.Status().Pending,
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("status")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

func (s *HTTPServer) handlePending(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("pending")
	switch r.Method {
	case http.MethodGet:
		s.listPending(w, r)
	case http.MethodPost:
		s.addPending(w, r)
	case http.MethodDelete:
		s.removePending(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) listPending(w http.ResponseWriter, r *http.Request) {
	kinds := models.RecordKinds
	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		kind, err := models.ParseRecordKind(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kinds = []models.RecordKind{kind}
	}

	markers := make([]models.PendingMarker, 0)
	for _, kind := range kinds {
		list, err := s.deps.Pending.List(r.Context(), kind)
		if err != nil {
			s.logger.Error().Err(err).Str("kind", string(kind)).Msg("list pending markers")
			writeError(w, http.StatusServiceUnavailable, "pending store unavailable")
			return
		}
		markers = append(markers, list...)
	}

	writeJSON(w, http.StatusOK, map[string]any{"markers": markers, "count": len(markers)})
}

func (s *HTTPServer) addPending(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemID int64  `json:"item_id"`
		Kind   string `json:"kind"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind, err := models.ParseRecordKind(body.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.ItemID <= 0 {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}

	if err := s.deps.Pending.Add(r.Context(), body.ItemID, kind); err != nil {
		s.logger.Error().Err(err).Msg("add pending marker")
		writeError(w, http.StatusServiceUnavailable, "pending store unavailable")
		return
	}
	s.deps.Scheduler.RequestRun("marker added")

	writeJSON(w, http.StatusCreated, models.PendingMarker{ItemID: body.ItemID, Kind: kind})
}

func (s *HTTPServer) removePending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := models.ParseRecordKind(q.Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	itemID, err := strconv.ParseInt(strings.TrimSpace(q.Get("item_id")), 10, 64)
	if err != nil || itemID <= 0 {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}

	if err := s.deps.Pending.Remove(r.Context(), itemID, kind); err != nil {
		s.logger.Error().Err(err).Msg("remove pending marker")
		writeError(w, http.StatusServiceUnavailable, "pending store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filename := fmt.Sprintf("pending_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := s.deps.Export.Write(r.Context(), w); err != nil {
		s.logger.Error().Err(err).Msg("export pending markers")
		w.Header().Del("Content-Disposition")
		writeError(w, http.StatusServiceUnavailable, "export failed")
	}
}

func (s *HTTPServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("progress")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/progress/")
	kind, err := models.ParseRecordKind(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var record models.TrackRecord
	switch kind {
	case models.KindManga:
		record = &models.MangaTrack{}
	case models.KindAnime:
		record = &models.AnimeTrack{}
	}
	if err := json.NewDecoder(r.Body).Decode(record); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if record.Base().TrackerID == 0 {
		writeError(w, http.StatusBadRequest, "tracker_id is required")
		return
	}

	result, err := s.deps.Progress.RecordProgress(r.Context(), record)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("record progress")
		writeError(w, http.StatusInternalServerError, "failed to record progress")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := requestIDFromHeader(r.Header.Get(requestIDMetadataKey))
		w.Header().Set(requestIDMetadataKey, requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
