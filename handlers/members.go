package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"groupwatch/internal/database"
	"groupwatch/models"
	"groupwatch/services/groups"
	"groupwatch/services/requests"
)

// MembersHandler handles the admin member endpoints.
type MembersHandler struct {
	db              *database.DB
	requestsService *requests.Service
	groupsService   *groups.Service
}

// NewMembersHandler creates a new members handler.
func NewMembersHandler(db *database.DB, requestsService *requests.Service, groupsService *groups.Service) *MembersHandler {
	return &MembersHandler{
		db:              db,
		requestsService: requestsService,
		groupsService:   groupsService,
	}
}

// MemberResponse is a member enriched with their group's name.
type MemberResponse struct {
	models.Member
	GroupName string `json:"groupName,omitempty"`
}

// ListMembers returns all members, newest first.
// GET /api/admin/members
func (h *MembersHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.db.Members.List()
	if err != nil {
		jsonError(w, "Failed to list members: "+err.Error(), http.StatusInternalServerError)
		return
	}

	groupNames := make(map[string]string)
	for _, group := range h.groupsService.List() {
		groupNames[group.ID] = group.Name
	}

	responses := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		responses = append(responses, MemberResponse{
			Member:    m,
			GroupName: groupNames[m.GroupID],
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"members": responses,
	})
}

// DeleteMember removes a member along with the completed join requests that
// created them, so the same identity can be invited again later.
// DELETE /api/admin/members/{id}
func (h *MembersHandler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	memberID := mux.Vars(r)["id"]

	member, err := h.db.Members.GetByID(memberID)
	if err != nil {
		jsonError(w, "Failed to load member: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if member == nil {
		jsonError(w, "Member not found", http.StatusNotFound)
		return
	}

	reqs, err := h.requestsService.List("")
	if err != nil {
		jsonError(w, "Failed to list requests: "+err.Error(), http.StatusInternalServerError)
		return
	}
	for _, req := range reqs {
		if req.MemberID == memberID {
			if err := h.requestsService.Delete(req.ID); err != nil {
				jsonError(w, "Failed to delete member's request: "+err.Error(), http.StatusInternalServerError)
				return
			}
		}
	}

	if err := h.db.Members.Delete(memberID); err != nil {
		jsonError(w, "Failed to delete member: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
