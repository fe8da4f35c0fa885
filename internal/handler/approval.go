package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"truckcount-api/internal/repository"
	"truckcount-api/internal/service"
	"truckcount-api/pkg/apierror"
	"truckcount-api/pkg/response"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ApprovalHandler handles approval record queries and corrections.
type ApprovalHandler struct {
	approvals *service.ApprovalService
}

// NewApprovalHandler creates a new approval handler.
func NewApprovalHandler(approvals *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// CorrectRequest is the body of PATCH /approvals/{id}.
type CorrectRequest struct {
	ApprovedCount interface{} `json:"approved_count"`
}

// List handles GET /api/v1/approvals
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ApprovalFilter{
		TruckNumber: q.Get("truck_number"),
		Limit:       defaultListLimit,
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxListLimit {
			response.Error(w, apierror.ValidationError("invalid query",
				apierror.FieldError{Field: "limit", Message: "must be between 1 and 1000"}))
			return
		}
		filter.Limit = limit
	}
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.Error(w, apierror.ValidationError("invalid query",
				apierror.FieldError{Field: bound.name, Message: "must be an RFC3339 timestamp"}))
			return
		}
		*bound.dst = t
	}

	records, err := h.approvals.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, records, 1, filter.Limit, int64(len(records)))
}

// Correct handles PATCH /api/v1/approvals/{id}
func (h *ApprovalHandler) Correct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CorrectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	record, err := h.approvals.Correct(r.Context(), id, req.ApprovedCount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, record)
}
