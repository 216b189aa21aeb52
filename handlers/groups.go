package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"groupwatch/internal/database"
	"groupwatch/models"
	"groupwatch/services/addons"
	"groupwatch/services/groups"
	"groupwatch/services/invitations"
)

// GroupsHandler handles the admin group management endpoints.
type GroupsHandler struct {
	groupsService      *groups.Service
	addonsService      *addons.Service
	invitationsService *invitations.Service
	db                 *database.DB
}

// NewGroupsHandler creates a new groups handler.
func NewGroupsHandler(groupsService *groups.Service, addonsService *addons.Service, invitationsService *invitations.Service, db *database.DB) *GroupsHandler {
	return &GroupsHandler{
		groupsService:      groupsService,
		addonsService:      addonsService,
		invitationsService: invitationsService,
		db:                 db,
	}
}

// GroupResponse is a group enriched with its resolved addon set and member
// count for the admin dashboard.
type GroupResponse struct {
	models.Group
	MemberCount int            `json:"memberCount"`
	Addons      []models.Addon `json:"addons,omitempty"`
}

func (h *GroupsHandler) enrich(group models.Group) GroupResponse {
	resp := GroupResponse{
		Group:  group,
		Addons: h.addonsService.Resolve(group.AddonIDs),
	}
	if members, err := h.db.Members.ListByGroup(group.ID); err == nil {
		resp.MemberCount = len(members)
	}
	return resp
}

// ListGroups returns all groups ordered by name.
// GET /api/admin/groups
func (h *GroupsHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	list := h.groupsService.List()

	responses := make([]GroupResponse, 0, len(list))
	for _, group := range list {
		responses = append(responses, h.enrich(group))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"groups": responses,
	})
}

// GetGroup returns one group by ID.
// GET /api/admin/groups/{id}
func (h *GroupsHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.groupsService.Get(mux.Vars(r)["id"])
	if err != nil {
		jsonError(w, "Group not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.enrich(group))
}

// CreateGroup creates a new group.
// POST /api/admin/groups
func (h *GroupsHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	group, err := h.groupsService.Create(req.Name, req.Description)
	if err != nil {
		if errors.Is(err, groups.ErrNameRequired) {
			jsonError(w, "Group name is required", http.StatusBadRequest)
			return
		}
		if errors.Is(err, groups.ErrNameTaken) {
			jsonError(w, "A group with this name already exists", http.StatusConflict)
			return
		}
		jsonError(w, "Failed to create group: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(h.enrich(group))
}

// UpdateGroup changes a group's name, description or addon set. Every addon
// ID must resolve; members who already joined keep whatever collection was
// pushed to them.
// PUT /api/admin/groups/{id}
func (h *GroupsHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		AddonIDs    []string `json:"addonIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	for _, id := range req.AddonIDs {
		if _, err := h.addonsService.Get(id); err != nil {
			jsonError(w, "Unknown addon: "+id, http.StatusBadRequest)
			return
		}
	}

	group, err := h.groupsService.Update(mux.Vars(r)["id"], req.Name, req.Description, req.AddonIDs)
	if err != nil {
		if errors.Is(err, groups.ErrGroupNotFound) {
			jsonError(w, "Group not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, groups.ErrNameRequired) {
			jsonError(w, "Group name is required", http.StatusBadRequest)
			return
		}
		if errors.Is(err, groups.ErrNameTaken) {
			jsonError(w, "A group with this name already exists", http.StatusConflict)
			return
		}
		jsonError(w, "Failed to update group: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.enrich(group))
}

// ListGroupMembers returns the members of one group, newest first.
// GET /api/admin/groups/{id}/members
func (h *GroupsHandler) ListGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["id"]

	if _, err := h.groupsService.Get(groupID); err != nil {
		jsonError(w, "Group not found", http.StatusNotFound)
		return
	}

	members, err := h.db.Members.ListByGroup(groupID)
	if err != nil {
		jsonError(w, "Failed to list members: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"members": members,
	})
}

// DeleteGroup removes a group. Groups still referenced by an invitation are
// protected; existing members keep their accounts but lose the association.
// DELETE /api/admin/groups/{id}
func (h *GroupsHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["id"]

	for _, inv := range h.invitationsService.List() {
		if inv.GroupID == groupID {
			jsonError(w, "Group is referenced by invitation "+inv.Code, http.StatusConflict)
			return
		}
	}

	if err := h.groupsService.Delete(groupID); err != nil {
		if errors.Is(err, groups.ErrGroupNotFound) {
			jsonError(w, "Group not found", http.StatusNotFound)
			return
		}
		jsonError(w, "Failed to delete group: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
