package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rpattn/folio/internal/auth"
	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/jobs"
)

const (
	defaultMaxUploadBytes = 32 << 20
	longPollTimeout       = 25 * time.Second
	maxLogPage            = 1000
)

// Handler exposes import submission and progress over HTTP.
type Handler struct {
	service        *Service
	registry       *jobs.Registry
	maxUploadBytes int64
	pollTimeout    time.Duration
}

// NewHTTPHandler wraps the service. maxUploadBytes <= 0 selects the default.
func NewHTTPHandler(service *Service, registry *jobs.Registry, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{service: service, registry: registry, maxUploadBytes: maxUploadBytes, pollTimeout: longPollTimeout}
}

// Routes mounts the import endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/imports", h.submit)
	r.Get("/imports", h.list)
	r.Get("/imports/{jobId}", h.get)
	r.Get("/imports/{jobId}/events", h.events)
	r.Get("/imports/{jobId}/logs", h.logs)
}

type submitFile struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type submitRequest struct {
	BookName string       `json:"bookName"`
	Files    []submitFile `json:"files"`
}

type eventsResponse struct {
	Events []domain.ImportEvent `json:"events"`
	Next   int64                `json:"next"`
	Job    domain.ImportJob     `json:"job"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(body.Files) == 0 {
		http.Error(w, "files are required", http.StatusBadRequest)
		return
	}

	caller, _ := auth.CallerFromContext(r.Context())
	req := Request{Caller: caller, BookName: body.BookName}
	for _, file := range body.Files {
		req.Files = append(req.Files, FileInput(file))
	}

	job, err := h.service.Submit(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.CallerFromContext(r.Context())
	writeJSON(w, http.StatusOK, h.registry.List(caller))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, err := h.registry.Get(id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if err := auth.EnforceOwner(r.Context(), job.Caller); err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, err := h.registry.Get(id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if err := auth.EnforceOwner(r.Context(), job.Caller); err != nil {
		writeJobError(w, err)
		return
	}

	query := r.URL.Query()
	since, err := parseInt(query.Get("since"))
	if err != nil {
		http.Error(w, "invalid since", http.StatusBadRequest)
		return
	}
	limit, err := parseInt(query.Get("limit"))
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	wait := false
	if raw := query.Get("wait"); raw != "" {
		if wait, err = strconv.ParseBool(raw); err != nil {
			http.Error(w, "invalid wait", http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.pollTimeout)
		defer cancel()
	}
	events, next, snapshot, err := h.registry.Events(ctx, id, since, int(limit), wait)
	if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
		// poll window elapsed with nothing new
		err = nil
	}
	if err != nil {
		writeJobError(w, err)
		return
	}
	if events == nil {
		events = []domain.ImportEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Next: next, Job: snapshot})
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, err := h.registry.Get(id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if err := auth.EnforceOwner(r.Context(), job.Caller); err != nil {
		writeJobError(w, err)
		return
	}

	query := r.URL.Query()
	limit, err := parseInt(query.Get("limit"))
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	offset, err := parseInt(query.Get("offset"))
	if err != nil {
		http.Error(w, "invalid offset", http.StatusBadRequest)
		return
	}
	if limit > maxLogPage {
		limit = maxLogPage
	}

	entries, err := h.service.Logs(r.Context(), id, int(limit), int(offset))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid job id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func parseInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return value, nil
}

// writeJobError hides jobs of other callers behind the same 404 as missing ones.
func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, auth.ErrCallerMismatch):
		http.Error(w, "import job not found", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
