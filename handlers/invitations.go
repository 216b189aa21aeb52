package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"groupwatch/config"
	"groupwatch/internal/auth"
	"groupwatch/models"
	"groupwatch/services/groups"
	"groupwatch/services/invitations"
	"groupwatch/services/requests"
)

// InvitationsHandler handles the admin invitation management endpoints.
type InvitationsHandler struct {
	invitationsService *invitations.Service
	groupsService      *groups.Service
	requestsService    *requests.Service
	configManager      *config.Manager
}

// NewInvitationsHandler creates a new invitations handler.
func NewInvitationsHandler(invitationsService *invitations.Service, groupsService *groups.Service, requestsService *requests.Service, configManager *config.Manager) *InvitationsHandler {
	return &InvitationsHandler{
		invitationsService: invitationsService,
		groupsService:      groupsService,
		requestsService:    requestsService,
		configManager:      configManager,
	}
}

// InvitationResponse is an invitation enriched with its group name and
// request counters for the admin dashboard.
type InvitationResponse struct {
	models.Invitation
	GroupName    string `json:"groupName,omitempty"`
	RequestCount int    `json:"requestCount"`
	PendingCount int    `json:"pendingCount"`
}

func (h *InvitationsHandler) enrich(inv models.Invitation) InvitationResponse {
	resp := InvitationResponse{Invitation: inv}
	if group, err := h.groupsService.Get(inv.GroupID); err == nil {
		resp.GroupName = group.Name
	}
	if reqs, err := h.requestsService.List(inv.Code); err == nil {
		resp.RequestCount = len(reqs)
		for _, r := range reqs {
			if r.Status == models.RequestPending {
				resp.PendingCount++
			}
		}
	}
	return resp
}

// ListInvitations returns all invitations, newest first.
// GET /api/admin/invitations
func (h *InvitationsHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	invs := h.invitationsService.List()

	responses := make([]InvitationResponse, 0, len(invs))
	for _, inv := range invs {
		responses = append(responses, h.enrich(inv))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"invitations": responses,
	})
}

// GetInvitation returns one invitation by ID.
// GET /api/admin/invitations/{id}
func (h *InvitationsHandler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invitationsService.GetByID(mux.Vars(r)["id"])
	if err != nil {
		jsonError(w, "Invitation not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.enrich(inv))
}

// CreateInvitation mints a new invitation code bound to a group. Expiry is
// given in days; a nil value applies the default and an explicit zero makes
// the invitation permanent.
// POST /api/admin/invitations
func (h *InvitationsHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GroupID       string `json:"groupId"`
		Label         string `json:"label"`
		CodeLength    int    `json:"codeLength"`
		ExpiresInDays *int   `json:"expiresInDays"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := h.groupsService.Get(req.GroupID); err != nil {
		jsonError(w, "Group not found", http.StatusBadRequest)
		return
	}

	codeLength := req.CodeLength
	if codeLength == 0 {
		codeLength = h.configManager.Get().InviteCodeLength
	}

	expiresIn := invitations.DefaultExpirationDuration
	if req.ExpiresInDays != nil {
		if *req.ExpiresInDays < 0 {
			jsonError(w, "Expiry must not be negative", http.StatusBadRequest)
			return
		}
		expiresIn = time.Duration(*req.ExpiresInDays) * 24 * time.Hour
	}

	inv, err := h.invitationsService.Create(auth.GetAccountID(r), req.GroupID, req.Label, codeLength, expiresIn)
	if err != nil {
		if errors.Is(err, invitations.ErrGroupRequired) {
			jsonError(w, "Group is required", http.StatusBadRequest)
			return
		}
		jsonError(w, "Failed to create invitation: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(h.enrich(inv))
}

// UpdateInvitation changes an invitation's label or group binding.
// PUT /api/admin/invitations/{id}
func (h *InvitationsHandler) UpdateInvitation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label   string `json:"label"`
		GroupID string `json:"groupId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.GroupID != "" {
		if _, err := h.groupsService.Get(req.GroupID); err != nil {
			jsonError(w, "Group not found", http.StatusBadRequest)
			return
		}
	}

	inv, err := h.invitationsService.Update(mux.Vars(r)["id"], req.Label, req.GroupID)
	if err != nil {
		if errors.Is(err, invitations.ErrInvitationNotFound) {
			jsonError(w, "Invitation not found", http.StatusNotFound)
			return
		}
		jsonError(w, "Failed to update invitation: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.enrich(inv))
}

// SetInvitationEnabled opens or closes an invitation without deleting it.
// Disabled invitations keep their requests; the public meta endpoint reports
// them as not accepting new ones.
// PUT /api/admin/invitations/{id}/enabled
func (h *InvitationsHandler) SetInvitationEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	inv, err := h.invitationsService.SetEnabled(mux.Vars(r)["id"], req.Enabled)
	if err != nil {
		if errors.Is(err, invitations.ErrInvitationNotFound) {
			jsonError(w, "Invitation not found", http.StatusNotFound)
			return
		}
		jsonError(w, "Failed to update invitation: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.enrich(inv))
}

// DeleteInvitation removes an invitation and every join request submitted
// against it. Members who already completed are not touched.
// DELETE /api/admin/invitations/{id}
func (h *InvitationsHandler) DeleteInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invitationsService.Delete(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, invitations.ErrInvitationNotFound) {
			jsonError(w, "Invitation not found", http.StatusNotFound)
			return
		}
		jsonError(w, "Failed to delete invitation: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.requestsService.DiscardInvitation(inv.Code); err != nil {
		jsonError(w, "Invitation deleted but cleaning its requests failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
