package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"groupwatch/services/requests"
)

// RequestsHandler handles the admin join request endpoints: the accept,
// reject and link management actions that drive a request through its
// lifecycle.
type RequestsHandler struct {
	requestsService *requests.Service
}

// NewRequestsHandler creates a new requests handler.
func NewRequestsHandler(requestsService *requests.Service) *RequestsHandler {
	return &RequestsHandler{requestsService: requestsService}
}

// ListRequests returns join requests, optionally filtered by invitation code.
// GET /api/admin/requests?code=...
func (h *RequestsHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))

	reqs, err := h.requestsService.List(code)
	if err != nil {
		jsonError(w, "Failed to list requests: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"requests": reqs,
	})
}

// GetRequest returns a single join request.
// GET /api/admin/requests/{id}
func (h *RequestsHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.requestsService.Get(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, requests.ErrRequestNotFound) {
			jsonError(w, "Join request not found", http.StatusNotFound)
			return
		}
		jsonError(w, "Failed to load request: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// AcceptRequest moves a pending request into the accepted phase, after which
// a link can be issued for it.
// POST /api/admin/requests/{id}/accept
func (h *RequestsHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.requestsService.Accept(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, requests.ErrRequestNotFound) {
			jsonError(w, "Join request not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, requests.ErrAlreadyCompleted) {
			jsonError(w, "Join request was already completed", http.StatusConflict)
			return
		}
		jsonError(w, "Failed to accept request: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// RejectRequest declines a request. Any outstanding link is discarded first
// so the code cannot be redeemed afterwards.
// POST /api/admin/requests/{id}/reject
func (h *RequestsHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.requestsService.Reject(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, requests.ErrRequestNotFound) {
			jsonError(w, "Join request not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, requests.ErrAlreadyCompleted) {
			jsonError(w, "Join request was already completed", http.StatusConflict)
			return
		}
		jsonError(w, "Failed to reject request: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// ClearRequestOAuth drops the outstanding link/code pair from a request.
// Polling clients treat the disappearance as a renewal and stop watching the
// old code; the member can then mint a fresh one.
// DELETE /api/admin/requests/{id}/oauth
func (h *RequestsHandler) ClearRequestOAuth(w http.ResponseWriter, r *http.Request) {
	req, err := h.requestsService.ClearOAuth(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, requests.ErrRequestNotFound) {
			jsonError(w, "Join request not found", http.StatusNotFound)
			return
		}
		jsonError(w, "Failed to clear link: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// DeleteRequest removes a join request entirely. The next status poll from
// its owner answers 404, which resets the client's local state.
// DELETE /api/admin/requests/{id}
func (h *RequestsHandler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.requestsService.Delete(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, requests.ErrRequestNotFound) {
			jsonError(w, "Join request not found", http.StatusNotFound)
			return
		}
		jsonError(w, "Failed to delete request: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
