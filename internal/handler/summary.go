package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"truckcount-api/internal/service"
	"truckcount-api/pkg/response"
)

// SummaryHandler handles daily summary endpoints.
type SummaryHandler struct {
	summaries *service.SummaryService
}

// NewSummaryHandler creates a new summary handler.
func NewSummaryHandler(summaries *service.SummaryService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries}
}

// Sync handles POST /api/v1/summaries/sync
// Optional query parameter date=YYYY-MM-DD, defaults to today.
func (h *SummaryHandler) Sync(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.summaries.Today()
	}

	summaries, err := h.summaries.SyncDate(r.Context(), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, summaries)
}

// List handles GET /api/v1/summaries
func (h *SummaryHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.summaries.List(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, summaries)
}

// Complete handles POST /api/v1/summaries/{truck_number}/{date}/complete
func (h *SummaryHandler) Complete(w http.ResponseWriter, r *http.Request) {
	summary, err := h.summaries.MarkComplete(r.Context(),
		chi.URLParam(r, "truck_number"),
		chi.URLParam(r, "date"),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, summary)
}
