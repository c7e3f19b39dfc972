package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"workshopdl/internal/queue"
	"workshopdl/internal/workshop"
)

const maxBodyBytes = 64 << 10

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Ready:         s.ready() == nil,
	}
	for _, req := range s.queue.Snapshot() {
		switch req.Status {
		case queue.StatusQueued:
			resp.Queued++
		case queue.StatusDownloading:
			resp.Downloading++
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSubmit handles POST /requests.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.ready(); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	var body SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ref := strings.TrimSpace(body.Reference)
	if ref == "" {
		s.writeError(w, http.StatusBadRequest, "reference is required")
		return
	}

	item, err := s.resolver.Resolve(r.Context(), ref)
	if err != nil {
		s.logger.Warn("resolve failed", zap.String("reference", ref), zap.Error(err))
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	id, err := s.queue.Submit(item)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	req, err := s.queue.Get(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Location", "/requests/"+id)
	respondJSON(w, http.StatusAccepted, req)
}

// handleList handles GET /requests.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ListResponse{Requests: s.queue.Snapshot()})
}

// handleGet handles GET /requests/{requestID}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.queue.Get(chi.URLParam(r, "requestID"))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) ready() error {
	if s.config.Ready == nil {
		return nil
	}
	return s.config.Ready()
}

// statusFor maps resolution and queue errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workshop.ErrInvalidReference),
		errors.Is(err, workshop.ErrMissingID),
		errors.Is(err, queue.ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, workshop.ErrScopeMismatch),
		errors.Is(err, workshop.ErrPageShape):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workshop.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, queue.ErrDuplicateInFlight):
		return http.StatusConflict
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
