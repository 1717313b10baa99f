package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docflow/api/internal/metrics"
	"docflow/api/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	maxUpload  int64
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, m *metrics.Metrics, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := service.cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		maxUpload:  maxUpload,
		metrics:    m,
		logger:     logger.With(zap.String("component", "http")),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/documents", func(r chi.Router) {
		r.Route("/participants", func(r chi.Router) {
			r.Get("/", s.handleListParticipants)
			r.Post("/", s.handleCreateParticipant)
			r.Get("/{id}", s.handleGetParticipant)
		})
		r.Route("/document-categories", func(r chi.Router) {
			r.Get("/", s.handleListCategories)
			r.Post("/", s.handleCreateCategory)
			r.Get("/{id}", s.handleGetCategory)
			r.Put("/{id}", s.handleUpdateCategory(false))
			r.Patch("/{id}", s.handleUpdateCategory(true))
			r.Delete("/{id}", s.handleDeleteCategory)
		})
		r.Route("/document-types", func(r chi.Router) {
			r.Get("/", s.handleListTypes)
			r.Post("/", s.handleCreateType)
			r.Get("/{id}", s.handleGetType)
			r.Put("/{id}", s.handleUpdateType(false))
			r.Patch("/{id}", s.handleUpdateType(true))
			r.Delete("/{id}", s.handleDeleteType)
		})
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Post("/", s.handleCreateDocument)
			r.Get("/{id}", s.handleGetDocument)
			r.Put("/{id}", s.handleUpdateDocument(false))
			r.Patch("/{id}", s.handleUpdateDocument(true))
			r.Delete("/{id}", s.handleDeleteDocument)
			r.Get("/{id}/text", s.handleDocumentText)
			r.Get("/{id}/file", s.handleDocumentFile)
		})
		r.Get("/category-stats", s.handleCategoryStats)
		r.Get("/text-search", s.handleTextSearch)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.HealthChecks(ctx) {
		if err == nil {
			checks[name] = map[string]any{"status": "ok"}
			continue
		}
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks[name] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		elapsed := time.Since(started)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.ObserveRequest(r.Method, route, writer.status, elapsed)
		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		requestID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Error("request failed", zap.String("request_id", requestID), zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func writeList[T any](w http.ResponseWriter, items []T, total int) {
	writeJSON(w, http.StatusOK, map[string]any{"count": total, "results": items})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return 0, false
	}
	return id, true
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// queryInt parses an optional integer query parameter, recording a field
// error when it is malformed.
func queryInt(r *http.Request, errs fieldErrors, name string) *int64 {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		errs.add(name, msgInvalidInt)
		return nil
	}
	return &value
}

func queryBool(r *http.Request, errs fieldErrors, name string) *bool {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil
	}
	value, ok := parseBool(raw)
	if !ok {
		errs.add(name, msgInvalidBool)
		return nil
	}
	return &value
}

// parseBool accepts the spellings HTML forms and query strings use.
func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	return false, false
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrActiveDocumentConflict) {
		return http.StatusConflict, "CONFLICT", "Another active document exists for this document type", nil
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge, "TOO_LARGE", "Request body too large", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
