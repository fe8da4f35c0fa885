package handler

import (
	"net/http"

	"truckcount-api/internal/logger"
	"truckcount-api/internal/model"
	"truckcount-api/internal/service"
	"truckcount-api/pkg/response"
)

// MessageHandler handles the review workflow for the pending message.
type MessageHandler struct {
	review *service.ReviewService
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(review *service.ReviewService) *MessageHandler {
	return &MessageHandler{review: review}
}

// MessageResponse wraps the pending message, which may be null.
type MessageResponse struct {
	Message *model.PendingMessage `json:"message"`
}

// ApproveRequest is the body of POST /message/approve.
type ApproveRequest struct {
	LeaseToken    string      `json:"lease_token"`
	Approver      string      `json:"approver"`
	ApprovedCount interface{} `json:"approved_count"`
}

// ApproveResponse reports the stored approval and the next message to review.
type ApproveResponse struct {
	Approved     *model.ApprovalRecord `json:"approved"`
	LeaseExpired bool                  `json:"lease_expired"`
	Next         *model.PendingMessage `json:"next"`
}

// DiscardRequest is the body of POST /message/discard.
type DiscardRequest struct {
	LeaseToken string `json:"lease_token"`
}

// Current handles GET /api/v1/message
func (h *MessageHandler) Current(w http.ResponseWriter, r *http.Request) {
	msg, err := h.review.Peek(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, MessageResponse{Message: msg})
}

// Fetch handles POST /api/v1/message/fetch
func (h *MessageHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	msg, err := h.review.FetchNext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, MessageResponse{Message: msg})
}

// Approve handles POST /api/v1/message/approve
func (h *MessageHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := h.review.Approve(r.Context(), service.ApproveInput{
		LeaseToken:    req.LeaseToken,
		Approver:      req.Approver,
		ApprovedValue: req.ApprovedCount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := ApproveResponse{Approved: outcome.Record, LeaseExpired: outcome.LeaseExpired}
	next, err := h.review.FetchNext(r.Context())
	if err != nil {
		// The approval is durable; the client can fetch again.
		logger.Warn("fetch after approve failed", "component", "http", "error", err)
	} else {
		resp.Next = next
	}
	response.OK(w, resp)
}

// Discard handles POST /api/v1/message/discard
func (h *MessageHandler) Discard(w http.ResponseWriter, r *http.Request) {
	var req DiscardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.review.Discard(r.Context(), req.LeaseToken); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

// Purge handles POST /api/v1/queue/purge
func (h *MessageHandler) Purge(w http.ResponseWriter, r *http.Request) {
	result, err := h.review.Purge(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, result)
}
