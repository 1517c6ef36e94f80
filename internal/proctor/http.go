package proctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/proctor/internal/auth"
	"github.com/your-org/proctor/internal/session"
)

type ctxKey int

const identityKey ctxKey = iota

// HTTPHandler exposes the REST API for the proctoring service.
type HTTPHandler struct {
	service      *Service
	verifier     auth.Verifier
	logger       *zap.Logger
	maxSizeBytes int64
	formMemBytes int64
	uploadsDir   string
	reportsDir   string
	router       chi.Router
}

type HTTPParams struct {
	Service      *Service
	Verifier     auth.Verifier
	Logger       *zap.Logger
	MaxSizeBytes int64
	FormMemBytes int64
	UploadsDir   string
	ReportsDir   string
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(p HTTPParams) *HTTPHandler {
	h := &HTTPHandler{
		service:      p.Service,
		verifier:     p.Verifier,
		logger:       p.Logger,
		maxSizeBytes: p.MaxSizeBytes,
		formMemBytes: p.FormMemBytes,
		uploadsDir:   p.UploadsDir,
		reportsDir:   p.ReportsDir,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)

	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.uploadsDir))))
	r.Handle("/reports/*", http.StripPrefix("/reports/", http.FileServer(http.Dir(h.reportsDir))))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/auth/role", h.handleSetRole)
		r.Post("/sessions", h.handleCreateSession)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Get("/status", h.handleSessionStatus)
			r.Post("/claim", h.handleClaimSession)
			r.Put("/end", h.handleEndSession)
			r.Post("/events", h.handleLogEvents)
			r.Post("/video", h.handleUploadVideo)
		})

		r.Route("/report/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleHTMLReport)
			r.Get("/html", h.handleHTMLReport)
			r.Get("/csv", h.handleCSVReport)
		})
	})

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

// authenticate verifies the bearer token and stashes the caller
// identity in the request context.
func (h *HTTPHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed bearer token")
			return
		}

		id, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusForbidden, "authorization", "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func identityFrom(r *http.Request) auth.Identity {
	id, _ := r.Context().Value(identityKey).(auth.Identity)
	return id
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if err := h.service.SetRole(r.Context(), identityFrom(r), req.Role); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "role set successfully",
		"role":    req.Role,
	})
}

func (h *HTTPHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CandidateEmail string `json:"candidateEmail"`
		CandidateName  string `json:"candidateName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	sess, err := h.service.Create(r.Context(), identityFrom(r), req.CandidateEmail, req.CandidateName)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *HTTPHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Get(r.Context(), identityFrom(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *HTTPHandler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Status(r.Context(), identityFrom(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *HTTPHandler) handleClaimSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Claim(r.Context(), identityFrom(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *HTTPHandler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.End(r.Context(), identityFrom(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *HTTPHandler) handleLogEvents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Events []session.Event `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	_, err := h.service.AppendEvents(r.Context(), identityFrom(r), chi.URLParam(r, "sessionID"), req.Events)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"eventCount": len(req.Events),
	})
}

func (h *HTTPHandler) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > 0 && r.ContentLength > h.maxSizeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "validation", "payload too large")
		return
	}

	if err := r.ParseMultipartForm(h.formMemBytes); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "video field is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxSizeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "validation", "file exceeds max size limit")
		return
	}

	sess, err := h.service.RecordVideo(r.Context(), identityFrom(r), chi.URLParam(r, "sessionID"), header.Filename, file)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"videoUrl": sess.VideoURL,
	})
}

func (h *HTTPHandler) handleCSVReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	content, err := h.service.ReportCSV(r.Context(), identityFrom(r), sessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=report-%s.csv", sessionID))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content)) //nolint:errcheck
}

func (h *HTTPHandler) handleHTMLReport(w http.ResponseWriter, r *http.Request) {
	content, err := h.service.ReportHTML(r.Context(), identityFrom(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content)) //nolint:errcheck
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case KindValidation:
		status = http.StatusBadRequest
	case KindNotFound:
		status = http.StatusNotFound
	case KindAuthorization, KindConflict:
		status = http.StatusForbidden
	case KindUpstream:
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
		)
	}

	var se *Error
	msg := "internal error"
	if errors.As(err, &se) && kind != KindUpstream {
		msg = se.Message
	}
	writeError(w, status, string(kind), msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{
		"kind":  kind,
		"error": msg,
	})
}
