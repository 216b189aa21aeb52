package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"groupwatch/handlers"
	"groupwatch/models"
	"groupwatch/services/stremio"
)

func newMembersHandler(f *joinFixture) *handlers.MembersHandler {
	return handlers.NewMembersHandler(f.db, f.requests, f.groups)
}

func TestMembersList_IncludesGroupName(t *testing.T) {
	f := newJoinFixture(t)
	h := newMembersHandler(f)

	if err := f.db.Members.CreateMember(&models.Member{
		Email:    "ada@example.com",
		Username: "ada",
		GroupID:  f.group.ID,
	}); err != nil {
		t.Fatalf("CreateMember: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ListMembers(rec, adminReq(http.MethodGet, "/api/admin/members", nil, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSONMap(t, rec)
	members, _ := resp["members"].([]interface{})
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}
	member, _ := members[0].(map[string]interface{})
	if member["email"] != "ada@example.com" {
		t.Errorf("email = %v, want ada@example.com", member["email"])
	}
	if member["groupName"] != "Movie Night" {
		t.Errorf("groupName = %v, want Movie Night", member["groupName"])
	}
}

func TestMembersDelete_FreesIdentityForRejoining(t *testing.T) {
	f := newJoinFixture(t)
	h := newMembersHandler(f)

	req := f.submit(t, "ada@example.com", "ada")
	if _, err := f.requests.Accept(req.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	f.provider.user = &stremio.User{ID: "u1", Email: "ada@example.com"}
	member, err := f.requests.Complete(f.invitation.Code, "ada@example.com", "ada", "key-123")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	rec := httptest.NewRecorder()
	vars := map[string]string{"id": member.ID}
	h.DeleteMember(rec, adminReq(http.MethodDelete, "/api/admin/members/"+member.ID, vars, ""))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, err := f.db.Members.GetByID(member.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored != nil {
		t.Fatal("member should be gone")
	}
	if _, err := f.requests.Get(req.ID); err == nil {
		t.Error("the completed request should be removed with the member")
	}

	// With the request gone the same identity can be invited again.
	if _, err := f.requests.Submit(f.invitation.Code, "ada@example.com", "ada"); err != nil {
		t.Errorf("resubmit after delete: %v", err)
	}
}

func TestMembersDelete_NotFound(t *testing.T) {
	f := newJoinFixture(t)
	h := newMembersHandler(f)

	rec := httptest.NewRecorder()
	vars := map[string]string{"id": "bogus"}
	h.DeleteMember(rec, adminReq(http.MethodDelete, "/api/admin/members/bogus", vars, ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}
