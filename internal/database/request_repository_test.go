package database

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"groupwatch/models"
)

// setupTestDB creates a new test database in a temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := NewDB(Config{DatabasePath: dbPath})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_Success(t *testing.T) {
	db := setupTestDB(t)
	if db == nil {
		t.Fatal("expected non-nil database")
	}
	if db.Requests == nil {
		t.Fatal("expected non-nil request repository")
	}
	if db.Members == nil {
		t.Fatal("expected non-nil member repository")
	}
}

func TestNewDB_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	db, err := NewDB(Config{DatabasePath: dbPath})
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer db.Close()
}

func TestCreateRequest_Success(t *testing.T) {
	db := setupTestDB(t)
	repo := db.Requests

	req := &models.JoinRequest{
		InvitationCode: "w8r3kqv2mt5x",
		Email:          "ada@example.com",
		Username:       "ada",
	}

	err := repo.CreateRequest(req)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	if req.ID == "" {
		t.Error("expected non-empty ID after insert")
	}
	if req.CreatedAt.IsZero() {
		t.Error("expected non-zero CreatedAt")
	}
	if req.Status != models.RequestPending {
		t.Errorf("expected status pending, got %q", req.Status)
	}
}

func TestCreateRequest_DuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	repo := db.Requests

	first := &models.JoinRequest{
		InvitationCode: "w8r3kqv2mt5x",
		Email:          "ada@example.com",
		Username:       "ada",
	}
	if err := repo.CreateRequest(first); err != nil {
		t.Fatalf("CreateRequest (first) failed: %v", err)
	}

	// Same invitation, same email but different case: still a duplicate.
	second := &models.JoinRequest{
		InvitationCode: "w8r3kqv2mt5x",
		Email:          "Ada@Example.com",
		Username:       "ada2",
	}
	err := repo.CreateRequest(second)
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	// Same email on a different invitation is fine.
	third := &models.JoinRequest{
		InvitationCode: "another4code",
		Email:          "ada@example.com",
		Username:       "ada",
	}
	if err := repo.CreateRequest(third); err != nil {
		t.Fatalf("CreateRequest (other invitation) failed: %v", err)
	}
}

func TestGetByCodeEmail(t *testing.T) {
	db := setupTestDB(t)
	repo := db.Requests

	req := &models.JoinRequest{
		InvitationCode: "w8r3kqv2mt5x",
		Email:          "ada@example.com",
		Username:       "ada",
	}
	if err := repo.CreateRequest(req); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	retrieved, err := repo.GetByCodeEmail("w8r3kqv2mt5x", "ADA@example.com")
	if err != nil {
		t.Fatalf("GetByCodeEmail failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected request to be retrievable")
	}
	if retrieved.ID != req.ID {
		t.Errorf("expected ID %q, got %q", req.ID, retrieved.ID)
	}

	missing, err := repo.GetByCodeEmail("w8r3kqv2mt5x", "nobody@example.com")
	if err != nil {
		t.Fatalf("GetByCodeEmail (missing) failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown email, got %+v", missing)
	}
}

func TestSetOAuthAndClear(t *testing.T) {
	db := setupTestDB(t)
	repo := db.Requests

	req := &models.JoinRequest{
		InvitationCode: "w8r3kqv2mt5x",
		Email:          "ada@example.com",
		Username:       "ada",
	}
	if err := repo.CreateRequest(req); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	expires := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)
	if err := repo.SetOAuth(req.ID, "https://link.example/#?code=abc123", "abc123", expires); err != nil {
		t.Fatalf("SetOAuth failed: %v", err)
	}

	retrieved, err := repo.GetByID(req.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if retrieved.OAuthCode != "abc123" {
		t.Errorf("expected oauth code abc123, got %q", retrieved.OAuthCode)
	}
	if retrieved.OAuthLink == "" {
		t.Error("expected oauth link to be set")
	}
	if retrieved.OAuthExpiresAt == nil || !retrieved.OAuthExpiresAt.Equal(expires) {
		t.Errorf("expected expiry %v, got %v", expires, retrieved.OAuthExpiresAt)
	}

	if err := repo.ClearOAuth(req.ID); err != nil {
		t.Fatalf("ClearOAuth failed: %v", err)
	}

	cleared, err := repo.GetByID(req.ID)
	if err != nil {
		t.Fatalf("GetByID after clear failed: %v", err)
	}
	if cleared.OAuthLink != "" || cleared.OAuthCode != "" || cleared.OAuthExpiresAt != nil {
		t.Errorf("expected oauth fields cleared, got link=%q code=%q expires=%v",
			cleared.OAuthLink, cleared.OAuthCode, cleared.OAuthExpiresAt)
	}
}

func TestUpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := db.Requests

	req := &models.JoinRequest{
		InvitationCode: "w8r3kqv2mt5x",
		Email:          "ada@example.com",
		Username:       "ada",
	}
	if err := repo.CreateRequest(req); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	if err := repo.UpdateStatus(req.ID, models.RequestAccepted); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	retrieved, _ := repo.GetByID(req.ID)
	if retrieved.Status != models.RequestAccepted {
		t.Errorf("expected status accepted, got %q", retrieved.Status)
	}

	if err := repo.UpdateStatus("missing-id", models.RequestAccepted); err == nil {
		t.Error("expected error updating unknown request, got nil")
	}
}

func TestComplete(t *testing.T) {
	db := setupTestDB(t)
	repo := db.Requests

	req := &models.JoinRequest{
		InvitationCode: "w8r3kqv2mt5x",
		Email:          "ada@example.com",
		Username:       "ada",
		Status:         models.RequestAccepted,
	}
	if err := repo.CreateRequest(req); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	expires := time.Now().Add(15 * time.Minute)
	if err := repo.SetOAuth(req.ID, "https://link.example/#?code=abc123", "abc123", expires); err != nil {
		t.Fatalf("SetOAuth failed: %v", err)
	}

	if err := repo.Complete(req.ID, "member-1"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	retrieved, _ := repo.GetByID(req.ID)
	if retrieved.Status != models.RequestCompleted {
		t.Errorf("expected status completed, got %q", retrieved.Status)
	}
	if retrieved.MemberID != "member-1" {
		t.Errorf("expected member ID member-1, got %q", retrieved.MemberID)
	}
	if retrieved.OAuthCode != "" {
		t.Errorf("expected oauth code cleared after completion, got %q", retrieved.OAuthCode)
	}
}

func TestListByCodeAndDeleteByCode(t *testing.T) {
	db := setupTestDB(t)
	repo := db.Requests

	for i := 0; i < 3; i++ {
		req := &models.JoinRequest{
			InvitationCode: "w8r3kqv2mt5x",
			Email:          fmt.Sprintf("user%d@example.com", i),
			Username:       fmt.Sprintf("user%d", i),
		}
		if err := repo.CreateRequest(req); err != nil {
			t.Fatalf("CreateRequest %d failed: %v", i, err)
		}
	}

	list, err := repo.ListByCode("w8r3kqv2mt5x")
	if err != nil {
		t.Fatalf("ListByCode failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(list))
	}

	if err := repo.DeleteByCode("w8r3kqv2mt5x"); err != nil {
		t.Fatalf("DeleteByCode failed: %v", err)
	}

	list, err = repo.ListByCode("w8r3kqv2mt5x")
	if err != nil {
		t.Fatalf("ListByCode after delete failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no requests after delete, got %d", len(list))
	}
}

func TestConcurrentCreates(t *testing.T) {
	db := setupTestDB(t)
	repo := db.Requests

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &models.JoinRequest{
				InvitationCode: "w8r3kqv2mt5x",
				Email:          fmt.Sprintf("user%d@example.com", i),
				Username:       fmt.Sprintf("user%d", i),
			}
			errs <- repo.CreateRequest(req)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent CreateRequest failed: %v", err)
		}
	}

	list, err := repo.ListByCode("w8r3kqv2mt5x")
	if err != nil {
		t.Fatalf("ListByCode failed: %v", err)
	}
	if len(list) != 10 {
		t.Errorf("expected 10 requests, got %d", len(list))
	}
}
