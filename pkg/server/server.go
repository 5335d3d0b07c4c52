// Package server exposes a bulk Workspace over a local HTTP API for `tradedoc serve`.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/ai"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/buildinfo"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/bulk"
	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/export"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/review"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/session"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// DefaultMaxUploadBytes caps the size of an import upload.
const DefaultMaxUploadBytes = 16 << 20

const shutdownTimeout = 10 * time.Second

// Server routes HTTP requests to a Workspace.
type Server struct {
	ws        *bulk.Workspace
	auth      session.Authenticator
	extractor ai.Extractor
	registry  *prometheus.Registry
	maxUpload int64
	now       func() time.Time
	logger    logging.Logger
	router    chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry serves /metrics from reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithMaxUploadBytes caps the import body size.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		s.maxUpload = n
	}
}

// WithClock sets the clock used to name export downloads.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a Server. extractor may be nil, in which case /api/extract answers 503.
func New(ws *bulk.Workspace, auth session.Authenticator, extractor ai.Extractor, opts ...Option) *Server {
	s := &Server{
		ws:        ws,
		auth:      auth,
		extractor: extractor,
		maxUpload: DefaultMaxUploadBytes,
		now:       time.Now,
		logger:    logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector())
	}
	// A registry shared with BulkMetrics may already carry the build gauge.
	if err := s.registry.Register(buildinfo.NewCollector()); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			s.logger.Warn("Failed to register build info collector", logging.Err(err))
		}
	}
	s.logger = s.logger.With(logging.F("component", "server"))
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/version", buildinfo.Handler())
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/import", s.handleImport)
		r.Get("/progress", s.handleProgress)
		r.Post("/cancel", s.handleCancel)
		r.Post("/reset", s.handleReset)
		r.Get("/rows", s.handleRows)
		r.Patch("/rows/{id}", s.handleUpdateRow)
		r.Post("/generate", s.handleGenerate)
		r.Get("/export/archive", s.handleExportArchive)
		r.Get("/export/summary", s.handleExportSummary)
		r.Get("/session", s.handleSession)
		r.Post("/session/login", s.handleLogin)
		r.Post("/session/logout", s.handleLogout)
		r.Post("/extract", s.handleExtract)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", logging.F("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down")
	s.ws.Cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), logging.RequestIDKey, middleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithContext(ctx).Debug("Request",
			logging.F("method", r.Method),
			logging.F("path", r.URL.Path),
			logging.F("status", ww.Status()),
			logging.F("duration", time.Since(start)))
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		writeError(w, fmt.Errorf("read upload: %v: %w", err, tderrors.ErrValidation))
		return
	}
	if len(data) == 0 {
		writeError(w, fmt.Errorf("empty upload: %w", tderrors.ErrValidation))
		return
	}

	// Stage tasks outlive the request.
	if _, err := s.ws.Import(context.Background(), r.URL.Query().Get("filename"), data); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ws.Status())
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ws.Status())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.ws.Cancel()
	writeJSON(w, http.StatusOK, s.ws.Status())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.ws.Reset()
	writeJSON(w, http.StatusOK, s.ws.Status())
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := review.ParseStatusFilter(q.Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.ws.Rows(q.Get("search"), status)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []shipment.ReviewRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type updateRowRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, fmt.Errorf("row id %q: %w", chi.URLParam(r, "id"), tderrors.ErrValidation))
		return
	}
	var req updateRowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Field == "" {
		writeError(w, fmt.Errorf(`body must be {"field":"...","value":"..."}: %w`, tderrors.ErrValidation))
		return
	}

	// A row without enrichment is left as is and returned unchanged.
	if _, err := s.ws.UpdateField(id, review.Field(req.Field), req.Value); err != nil {
		writeError(w, err)
		return
	}

	rows, err := s.ws.Rows("", review.StatusAll)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, row := range rows {
		if row.ID == id {
			writeJSON(w, http.StatusOK, row)
			return
		}
	}
	writeError(w, fmt.Errorf("row %d: %w", id, tderrors.ErrNotFound))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ws.Generate(context.Background()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ws.Status())
}

// Exports are buffered so a late failure can still produce an error status.
func (s *Server) handleExportArchive(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := s.ws.ExportArchive(r.Context(), &buf); err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, "application/zip", export.ArchiveName(s.now()), buf.Bytes())
}

func (s *Server) handleExportSummary(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.ws.ExportSummary(r.Context(), &buf); err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, "text/csv", export.SummaryName, buf.Bytes())
}

type sessionResponse struct {
	SignedIn bool                      `json:"signed_in"`
	Exporter *shipment.ExporterProfile `json:"exporter,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.auth.Current()
	writeJSON(w, http.StatusOK, sessionResponse{SignedIn: ok, Exporter: profile})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var profile shipment.ExporterProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, fmt.Errorf("decode exporter profile: %v: %w", err, tderrors.ErrValidation))
		return
	}
	if err := s.auth.Login(profile); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("Exporter signed in", logging.F("company", profile.CompanyName))
	s.handleSession(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(); err != nil {
		writeError(w, err)
		return
	}
	s.handleSession(w, r)
}

type extractRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.extractor == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "extraction is not configured"})
		return
	}
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, fmt.Errorf(`body must be {"text":"..."}: %w`, tderrors.ErrValidation))
		return
	}

	out, err := s.extractor.Extract(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case tderrors.IsValidation(err), isIngestion(err):
		return http.StatusBadRequest
	case tderrors.IsUnauthorized(err):
		return http.StatusUnauthorized
	case tderrors.IsNotFound(err):
		return http.StatusNotFound
	case tderrors.IsInvalidState(err):
		return http.StatusConflict
	case errors.Is(err, ai.ErrNothingExtracted):
		return http.StatusUnprocessableEntity
	case ai.CodeOf(err) == ai.ErrRateLimit:
		return http.StatusTooManyRequests
	case ai.CodeOf(err) != "":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isIngestion(err error) bool {
	var pe *tderrors.PipelineError
	return errors.As(err, &pe) && pe.Code == tderrors.ErrIngestionEmpty
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var pe *tderrors.PipelineError
	if errors.As(err, &pe) {
		resp.Code = string(pe.Code)
	}
	writeJSON(w, statusOf(err), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAttachment(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
