package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"groupwatch/handlers"
	"groupwatch/models"
)

func newGroupsHandler(f *joinFixture) *handlers.GroupsHandler {
	return handlers.NewGroupsHandler(f.groups, f.addons, f.invitations, f.db)
}

func TestGroupsList_IncludesMemberCount(t *testing.T) {
	f := newJoinFixture(t)
	h := newGroupsHandler(f)

	if err := f.db.Members.CreateMember(&models.Member{
		Email:    "ada@example.com",
		Username: "ada",
		GroupID:  f.group.ID,
	}); err != nil {
		t.Fatalf("CreateMember: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ListGroups(rec, adminReq(http.MethodGet, "/api/admin/groups", nil, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSONMap(t, rec)
	list, _ := resp["groups"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("expected 1 group, got %d", len(list))
	}
	group, _ := list[0].(map[string]interface{})
	if group["name"] != "Movie Night" {
		t.Errorf("name = %v, want Movie Night", group["name"])
	}
	if group["memberCount"] != float64(1) {
		t.Errorf("memberCount = %v, want 1", group["memberCount"])
	}
}

func TestGroupsCreate(t *testing.T) {
	f := newJoinFixture(t)
	h := newGroupsHandler(f)

	rec := httptest.NewRecorder()
	h.CreateGroup(rec, adminReq(http.MethodPost, "/api/admin/groups", nil, `{"name":"Documentary Club","description":"Slow TV"}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSONMap(t, rec)
	if resp["name"] != "Documentary Club" {
		t.Errorf("name = %v, want Documentary Club", resp["name"])
	}
	if resp["id"] == nil || resp["id"] == "" {
		t.Error("created group missing id")
	}
}

func TestGroupsCreate_Validation(t *testing.T) {
	f := newJoinFixture(t)
	h := newGroupsHandler(f)

	rec := httptest.NewRecorder()
	h.CreateGroup(rec, adminReq(http.MethodPost, "/api/admin/groups", nil, `{"description":"no name"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.CreateGroup(rec, adminReq(http.MethodPost, "/api/admin/groups", nil, `{"name":"Movie Night"}`))
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate name: status = %d, want 409", rec.Code)
	}
}

func TestGroupsGet_NotFound(t *testing.T) {
	f := newJoinFixture(t)
	h := newGroupsHandler(f)

	rec := httptest.NewRecorder()
	h.GetGroup(rec, adminReq(http.MethodGet, "/api/admin/groups/bogus", map[string]string{"id": "bogus"}, ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestGroupsUpdate_AssignsAddons(t *testing.T) {
	f := newJoinFixture(t)
	h := newGroupsHandler(f)

	addon, err := f.addons.Create("Cinemeta", "https://v3-cinemeta.strem.io/manifest.json")
	if err != nil {
		t.Fatalf("create addon: %v", err)
	}

	rec := httptest.NewRecorder()
	vars := map[string]string{"id": f.group.ID}
	body := `{"name":"Movie Night","addonIds":["` + addon.ID + `"]}`
	h.UpdateGroup(rec, adminReq(http.MethodPut, "/api/admin/groups/"+f.group.ID, vars, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSONMap(t, rec)
	addonsList, _ := resp["addons"].([]interface{})
	if len(addonsList) != 1 {
		t.Fatalf("expected 1 resolved addon, got %d", len(addonsList))
	}
	resolved, _ := addonsList[0].(map[string]interface{})
	if resolved["name"] != "Cinemeta" {
		t.Errorf("resolved addon name = %v, want Cinemeta", resolved["name"])
	}
}

func TestGroupsUpdate_UnknownAddonRejected(t *testing.T) {
	f := newJoinFixture(t)
	h := newGroupsHandler(f)

	rec := httptest.NewRecorder()
	vars := map[string]string{"id": f.group.ID}
	h.UpdateGroup(rec, adminReq(http.MethodPut, "/api/admin/groups/"+f.group.ID, vars, `{"name":"Movie Night","addonIds":["ghost"]}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGroupsListMembers(t *testing.T) {
	f := newJoinFixture(t)
	h := newGroupsHandler(f)

	if err := f.db.Members.CreateMember(&models.Member{
		Email:    "ada@example.com",
		Username: "ada",
		GroupID:  f.group.ID,
	}); err != nil {
		t.Fatalf("CreateMember: %v", err)
	}

	rec := httptest.NewRecorder()
	vars := map[string]string{"id": f.group.ID}
	h.ListGroupMembers(rec, adminReq(http.MethodGet, "/api/admin/groups/"+f.group.ID+"/members", vars, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSONMap(t, rec)
	members, _ := resp["members"].([]interface{})
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}

	rec = httptest.NewRecorder()
	h.ListGroupMembers(rec, adminReq(http.MethodGet, "/api/admin/groups/bogus/members", map[string]string{"id": "bogus"}, ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown group: expected status 404, got %d", rec.Code)
	}
}

func TestGroupsDelete_ProtectedWhileReferenced(t *testing.T) {
	f := newJoinFixture(t)
	h := newGroupsHandler(f)

	rec := httptest.NewRecorder()
	vars := map[string]string{"id": f.group.ID}
	h.DeleteGroup(rec, adminReq(http.MethodDelete, "/api/admin/groups/"+f.group.ID, vars, ""))

	if rec.Code != http.StatusConflict {
		t.Fatalf("group referenced by an invitation: expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := f.groups.Get(f.group.ID); err != nil {
		t.Error("rejected delete must leave the group in place")
	}
}

func TestGroupsDelete_Unreferenced(t *testing.T) {
	f := newJoinFixture(t)
	h := newGroupsHandler(f)

	spare, err := f.groups.Create("Disbanded", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	rec := httptest.NewRecorder()
	vars := map[string]string{"id": spare.ID}
	h.DeleteGroup(rec, adminReq(http.MethodDelete, "/api/admin/groups/"+spare.ID, vars, ""))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := f.groups.Get(spare.ID); err == nil {
		t.Error("deleted group should not load")
	}
}
