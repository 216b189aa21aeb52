package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"groupwatch/services/groups"
	"groupwatch/services/invitations"
	"groupwatch/services/joinapi"
	"groupwatch/services/requests"
)

// JoinHandler serves the public join endpoints: everything a prospective
// member's client touches between opening an invitation link and becoming a
// member. These routes are unauthenticated and rate limited at the router.
type JoinHandler struct {
	requestsService    *requests.Service
	invitationsService *invitations.Service
	groupsService      *groups.Service
}

// NewJoinHandler creates a new join handler.
func NewJoinHandler(requestsService *requests.Service, invitationsService *invitations.Service, groupsService *groups.Service) *JoinHandler {
	return &JoinHandler{
		requestsService:    requestsService,
		invitationsService: invitationsService,
		groupsService:      groupsService,
	}
}

// InvitationMetaResponse is the public view of an invitation code.
type InvitationMetaResponse struct {
	Code      string `json:"code"`
	GroupName string `json:"groupName,omitempty"`
	Label     string `json:"label,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// GetInvitation returns the public metadata for an invitation code.
// Unknown or deleted codes 404; a disabled or expired invitation still
// resolves, with enabled=false, so clients can show why joining is closed.
// GET /api/invitations/{code}
func (h *JoinHandler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	inv, err := h.invitationsService.GetByCode(code)
	if err != nil {
		jsonError(w, "Invitation not found", http.StatusNotFound)
		return
	}

	groupName := ""
	if group, err := h.groupsService.Get(inv.GroupID); err == nil {
		groupName = group.Name
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(InvitationMetaResponse{
		Code:      inv.Code,
		GroupName: groupName,
		Label:     inv.Label,
		Enabled:   inv.IsOpen(),
	})
}

// GetStatus returns the current join request snapshot for the claimed
// identity. Clients poll this endpoint; a 404 tells them their request no
// longer exists.
// GET /api/invitations/{code}/status?email=...&username=...
func (h *JoinHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		jsonError(w, "Email query parameter is required", http.StatusBadRequest)
		return
	}

	status, err := h.requestsService.Status(code, email)
	if err != nil {
		writeJoinError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Submit registers a new join request against an open invitation.
// POST /api/invitations/{code}/requests
func (h *JoinHandler) Submit(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Username) == "" {
		jsonError(w, "Email and username are required", http.StatusBadRequest)
		return
	}

	created, err := h.requestsService.Submit(code, req.Email, req.Username)
	if err != nil {
		writeJoinError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   created.Status,
		"email":    created.Email,
		"username": created.Username,
	})
}

// GenerateOAuth mints a fresh authorization link for an accepted request and
// returns the refreshed snapshot. Requests in any other phase are rejected.
// POST /api/invitations/{code}/oauth
func (h *JoinHandler) GenerateOAuth(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		jsonError(w, "Email is required", http.StatusBadRequest)
		return
	}

	if _, err := h.requestsService.GenerateOAuth(code, req.Email); err != nil {
		writeJoinError(w, err)
		return
	}

	status, err := h.requestsService.Status(code, req.Email)
	if err != nil {
		writeJoinError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Complete exchanges an authorized key for membership. The conversion is
// idempotent on the server side: a request that already completed answers
// with the USER_EXISTS discriminator rather than creating a second member.
// POST /api/invitations/{code}/complete
func (h *JoinHandler) Complete(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		AuthKey  string `json:"authKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.AuthKey) == "" {
		jsonErrorCode(w, "Authorization key is required", joinapi.CodeAuthKeyInvalid, http.StatusUnprocessableEntity)
		return
	}

	member, err := h.requestsService.Complete(code, req.Email, req.Username, req.AuthKey)
	if err != nil {
		writeJoinError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "completed",
		"memberId": member.ID,
	})
}

// writeJoinError maps service errors from the join flow onto the public wire
// contract. Conflict-class answers carry a discriminator so clients can
// branch without parsing message text.
func writeJoinError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, invitations.ErrInvitationNotFound), errors.Is(err, invitations.ErrInvalidCode):
		jsonError(w, "Invitation not found", http.StatusNotFound)
	case errors.Is(err, invitations.ErrInvitationDisabled), errors.Is(err, invitations.ErrInvitationExpired):
		jsonErrorCode(w, "This invitation is not accepting requests", joinapi.CodeInvitationDisabled, http.StatusForbidden)
	case errors.Is(err, requests.ErrInvalidEmail):
		jsonError(w, "Invalid email address", http.StatusBadRequest)
	case errors.Is(err, requests.ErrInvalidUsername):
		jsonError(w, "Invalid username", http.StatusBadRequest)
	case errors.Is(err, requests.ErrRequestNotFound):
		jsonError(w, "Join request not found", http.StatusNotFound)
	case errors.Is(err, requests.ErrRequestExists):
		jsonErrorCode(w, "A join request for this email already exists", joinapi.CodeRequestExists, http.StatusConflict)
	case errors.Is(err, requests.ErrIdentityTaken):
		jsonErrorCode(w, "Email and username already belong to a member", joinapi.CodeEmailAndUsernameExist, http.StatusConflict)
	case errors.Is(err, requests.ErrEmailTaken):
		jsonErrorCode(w, "Email already belongs to a member", joinapi.CodeEmailExists, http.StatusConflict)
	case errors.Is(err, requests.ErrUsernameTaken):
		jsonErrorCode(w, "Username already belongs to a member", joinapi.CodeUsernameExists, http.StatusConflict)
	case errors.Is(err, requests.ErrNotAccepted):
		jsonErrorCode(w, "Join request has not been accepted yet", joinapi.CodeNotAccepted, http.StatusConflict)
	case errors.Is(err, requests.ErrAlreadyCompleted), errors.Is(err, requests.ErrUserExists):
		jsonErrorCode(w, "Join request was already completed", joinapi.CodeUserExists, http.StatusConflict)
	case errors.Is(err, requests.ErrEmailMismatch):
		jsonErrorCode(w, "Authorized account email does not match the join request", joinapi.CodeEmailMismatch, http.StatusUnprocessableEntity)
	case errors.Is(err, requests.ErrAuthKeyInvalid):
		jsonErrorCode(w, "Authorization key was rejected by the provider", joinapi.CodeAuthKeyInvalid, http.StatusUnprocessableEntity)
	default:
		jsonError(w, "Failed to process request: "+err.Error(), http.StatusInternalServerError)
	}
}

// Helper for JSON error responses
func jsonError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}

// jsonErrorCode writes the error envelope with a machine-readable code
// alongside the human-readable message.
func jsonErrorCode(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
		"code":  code,
	})
}
