package export

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/repository"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the export endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books/{bookId}/export", h.handleExport)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	bookID, err := uuid.Parse(chi.URLParam(r, "bookId"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid book id: %v", err), http.StatusBadRequest)
		return
	}
	query := r.URL.Query()
	variant, err := ParseVariant(query.Get("variant"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter := domain.TransactionFilter{Search: strings.TrimSpace(query.Get("q"))}
	if raw := strings.TrimSpace(query.Get("termId")); raw != "" {
		termID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid term id: %v", err), http.StatusBadRequest)
			return
		}
		filter.TermID = &termID
	}

	doc, err := h.service.Build(r.Context(), Request{BookID: bookID, Variant: variant, Filter: filter})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "book not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName()))
	w.WriteHeader(http.StatusOK)
	if _, err := doc.WriteTo(w); err != nil {
		// headers are gone; the client sees a truncated body
		log.Printf("[export] book %s: %v", bookID, truncateError(err))
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) <= maxLen {
		return msg
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
