package invitations

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"groupwatch/utils"
)

func setupService(t *testing.T) *Service {
	t.Helper()

	svc, err := NewService(t.TempDir())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	return svc
}

func TestNewService_RequiresStorageDir(t *testing.T) {
	t.Parallel()

	if _, err := NewService(""); err != ErrStorageDirRequired {
		t.Fatalf("expected ErrStorageDirRequired, got %v", err)
	}

	if _, err := NewService("   "); err != ErrStorageDirRequired {
		t.Fatalf("expected ErrStorageDirRequired for whitespace, got %v", err)
	}
}

func TestCreateAndValidate_Success(t *testing.T) {
	t.Parallel()

	svc := setupService(t)
	inv, err := svc.Create("master", "group-1", "book club", 0, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if inv.ID == "" {
		t.Fatal("expected non-empty invitation ID")
	}
	if inv.Code == "" {
		t.Fatal("expected non-empty invitation code")
	}
	if !utils.ValidateInviteCode(inv.Code) {
		t.Fatalf("expected generated code to pass validation, got %q", inv.Code)
	}
	if inv.GroupID != "group-1" {
		t.Fatalf("expected GroupID group-1, got %q", inv.GroupID)
	}
	if !inv.Enabled {
		t.Fatal("expected new invitation to be enabled")
	}
	if inv.ExpiresAt != nil {
		t.Fatalf("expected no expiry when none requested, got %v", inv.ExpiresAt)
	}

	if err := svc.Validate(inv.Code); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestCreate_RequiresGroup(t *testing.T) {
	t.Parallel()

	svc := setupService(t)
	if _, err := svc.Create("master", "", "", 0, 0); err != ErrGroupRequired {
		t.Fatalf("expected ErrGroupRequired, got %v", err)
	}
}

func TestGetByCode_RejectsInvalidCode(t *testing.T) {
	t.Parallel()

	svc := setupService(t)

	if _, err := svc.GetByCode(""); err != ErrInvalidCode {
		t.Fatalf("expected ErrInvalidCode for empty code, got %v", err)
	}
	if _, err := svc.GetByCode("   "); err != ErrInvalidCode {
		t.Fatalf("expected ErrInvalidCode for whitespace code, got %v", err)
	}
	if _, err := svc.GetByCode("NOT-A-CODE!"); err != ErrInvalidCode {
		t.Fatalf("expected ErrInvalidCode for bad charset, got %v", err)
	}
}

func TestValidate_DisabledInvitation(t *testing.T) {
	t.Parallel()

	svc := setupService(t)
	inv, err := svc.Create("master", "group-1", "", 0, 24*time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := svc.SetEnabled(inv.ID, false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}

	if err := svc.Validate(inv.Code); err != ErrInvitationDisabled {
		t.Fatalf("expected ErrInvitationDisabled, got %v", err)
	}

	if _, err := svc.SetEnabled(inv.ID, true); err != nil {
		t.Fatalf("SetEnabled (re-enable) failed: %v", err)
	}
	if err := svc.Validate(inv.Code); err != nil {
		t.Fatalf("expected re-enabled invitation to validate, got %v", err)
	}
}

func TestValidate_ExpiredInvitation(t *testing.T) {
	t.Parallel()

	svc := setupService(t)
	inv, err := svc.Create("master", "group-1", "", 0, 24*time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	svc.mu.Lock()
	updated := svc.invitations[inv.ID]
	past := time.Now().Add(-time.Hour)
	updated.ExpiresAt = &past
	svc.invitations[inv.ID] = updated
	svc.mu.Unlock()

	if err := svc.Validate(inv.Code); err != ErrInvitationExpired {
		t.Fatalf("expected ErrInvitationExpired, got %v", err)
	}
}

func TestUpdate_ChangesLabelAndGroup(t *testing.T) {
	t.Parallel()

	svc := setupService(t)
	inv, err := svc.Create("master", "group-1", "old label", 0, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := svc.Update(inv.ID, "new label", "group-2")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Label != "new label" {
		t.Fatalf("expected label to change, got %q", updated.Label)
	}
	if updated.GroupID != "group-2" {
		t.Fatalf("expected group to change, got %q", updated.GroupID)
	}
	if updated.Code != inv.Code {
		t.Fatalf("expected code to be stable across updates, got %q", updated.Code)
	}

	if _, err := svc.Update(inv.ID, "", ""); err != ErrGroupRequired {
		t.Fatalf("expected ErrGroupRequired, got %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	t.Parallel()

	svc := setupService(t)
	older, err := svc.Create("master", "group-1", "", 0, 24*time.Hour)
	if err != nil {
		t.Fatalf("Create older failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	newer, err := svc.Create("master", "group-1", "", 0, 24*time.Hour)
	if err != nil {
		t.Fatalf("Create newer failed: %v", err)
	}

	list := svc.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 invitations, got %d", len(list))
	}
	if list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("expected newest first ordering, got %q then %q", list[0].ID, list[1].ID)
	}

	if _, err := svc.Delete(older.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Delete(older.ID); err != ErrInvitationNotFound {
		t.Fatalf("expected ErrInvitationNotFound on second delete, got %v", err)
	}
}

func TestCleanupExpired_RemovesOnlyOldExpired(t *testing.T) {
	t.Parallel()

	svc := setupService(t)

	keepValid, err := svc.Create("master", "group-1", "", 0, 24*time.Hour)
	if err != nil {
		t.Fatalf("Create keepValid failed: %v", err)
	}
	keepRecentlyExpired, err := svc.Create("master", "group-1", "", 0, 24*time.Hour)
	if err != nil {
		t.Fatalf("Create keepRecentlyExpired failed: %v", err)
	}
	removeExpired, err := svc.Create("master", "group-1", "", 0, 24*time.Hour)
	if err != nil {
		t.Fatalf("Create removeExpired failed: %v", err)
	}

	now := time.Now()
	old := now.Add(-3 * time.Hour)
	recent := now.Add(-30 * time.Minute)

	svc.mu.Lock()
	expired := svc.invitations[removeExpired.ID]
	expired.ExpiresAt = &old
	svc.invitations[removeExpired.ID] = expired

	recentlyExpired := svc.invitations[keepRecentlyExpired.ID]
	recentlyExpired.ExpiresAt = &recent
	svc.invitations[keepRecentlyExpired.ID] = recentlyExpired
	svc.mu.Unlock()

	removed, err := svc.CleanupExpired(2 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed invitation, got %d", removed)
	}

	if _, err := svc.GetByCode(keepValid.Code); err != nil {
		t.Fatalf("expected keepValid to remain, got error: %v", err)
	}
	if _, err := svc.GetByCode(keepRecentlyExpired.Code); err != nil {
		t.Fatalf("expected keepRecentlyExpired to remain, got error: %v", err)
	}
	if _, err := svc.GetByCode(removeExpired.Code); err != ErrInvitationNotFound {
		t.Fatalf("expected removeExpired to be deleted, got %v", err)
	}
}

func TestNewService_LoadsPersistedInvitations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	svc1, err := NewService(dir)
	if err != nil {
		t.Fatalf("first NewService failed: %v", err)
	}

	inv, err := svc1.Create("master", "group-1", "", 0, 24*time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	svc2, err := NewService(dir)
	if err != nil {
		t.Fatalf("second NewService failed: %v", err)
	}

	loaded, err := svc2.GetByCode(inv.Code)
	if err != nil {
		t.Fatalf("GetByCode on reloaded service failed: %v", err)
	}
	if loaded.ID != inv.ID {
		t.Fatalf("expected loaded invitation ID %q, got %q", inv.ID, loaded.ID)
	}
}

func TestNewService_FailsOnInvalidJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "invitations.json"), []byte("{invalid"), 0o644); err != nil {
		t.Fatalf("failed to write invalid invitations file: %v", err)
	}

	if _, err := NewService(dir); err == nil {
		t.Fatal("expected NewService to fail on invalid JSON")
	}
}
