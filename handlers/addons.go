package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"groupwatch/services/addons"
	"groupwatch/services/groups"
)

// AddonsHandler handles the admin addon catalog endpoints. Addons registered
// here are assigned to groups and pushed to members on completion.
type AddonsHandler struct {
	addonsService *addons.Service
	groupsService *groups.Service
}

// NewAddonsHandler creates a new addons handler.
func NewAddonsHandler(addonsService *addons.Service, groupsService *groups.Service) *AddonsHandler {
	return &AddonsHandler{
		addonsService: addonsService,
		groupsService: groupsService,
	}
}

// ListAddons returns the addon catalog ordered by name.
// GET /api/admin/addons
func (h *AddonsHandler) ListAddons(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"addons": h.addonsService.List(),
	})
}

// CreateAddon registers a new addon by manifest URL.
// POST /api/admin/addons
func (h *AddonsHandler) CreateAddon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		ManifestURL string `json:"manifestUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	addon, err := h.addonsService.Create(req.Name, req.ManifestURL)
	if err != nil {
		if errors.Is(err, addons.ErrNameRequired) {
			jsonError(w, "Addon name is required", http.StatusBadRequest)
			return
		}
		if errors.Is(err, addons.ErrInvalidManifestURL) {
			jsonError(w, "Manifest URL is not valid", http.StatusBadRequest)
			return
		}
		jsonError(w, "Failed to create addon: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(addon)
}

// UpdateAddon changes an addon's name or manifest URL. Groups referencing it
// pick up the change on their next push.
// PUT /api/admin/addons/{id}
func (h *AddonsHandler) UpdateAddon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		ManifestURL string `json:"manifestUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	addon, err := h.addonsService.Update(mux.Vars(r)["id"], req.Name, req.ManifestURL)
	if err != nil {
		if errors.Is(err, addons.ErrAddonNotFound) {
			jsonError(w, "Addon not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, addons.ErrNameRequired) {
			jsonError(w, "Addon name is required", http.StatusBadRequest)
			return
		}
		if errors.Is(err, addons.ErrInvalidManifestURL) {
			jsonError(w, "Manifest URL is not valid", http.StatusBadRequest)
			return
		}
		jsonError(w, "Failed to update addon: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(addon)
}

// DeleteAddon removes an addon from the catalog. Addons still assigned to a
// group are protected so group collections never reference ghosts.
// DELETE /api/admin/addons/{id}
func (h *AddonsHandler) DeleteAddon(w http.ResponseWriter, r *http.Request) {
	addonID := mux.Vars(r)["id"]

	for _, group := range h.groupsService.List() {
		for _, id := range group.AddonIDs {
			if id == addonID {
				jsonError(w, "Addon is assigned to group "+group.Name, http.StatusConflict)
				return
			}
		}
	}

	if err := h.addonsService.Delete(addonID); err != nil {
		if errors.Is(err, addons.ErrAddonNotFound) {
			jsonError(w, "Addon not found", http.StatusNotFound)
			return
		}
		jsonError(w, "Failed to delete addon: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
