package invitations

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupwatch/models"
	"groupwatch/utils"
)

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation has expired")
	ErrInvitationDisabled = errors.New("invitation is disabled")
	ErrInvalidCode        = errors.New("invalid invitation code")
	ErrGroupRequired      = errors.New("invitation requires a group")
)

// DefaultExpirationDuration is how long invitations stay open by default
// (30 days). Zero expiry means the invitation never expires.
const DefaultExpirationDuration = 30 * 24 * time.Hour

// Service manages invitation codes that admit members into groups. An
// invitation is multi-use: any number of join requests may be submitted
// against it while it is open.
type Service struct {
	mu          sync.RWMutex
	path        string
	invitations map[string]models.Invitation
}

// NewService creates an invitations service storing data inside the provided directory.
func NewService(storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create invitations dir: %w", err)
	}

	svc := &Service{
		path:        filepath.Join(storageDir, "invitations.json"),
		invitations: make(map[string]models.Invitation),
	}

	if err := svc.load(); err != nil {
		return nil, err
	}

	return svc, nil
}

// Create generates a new invitation code bound to a group.
func (s *Service) Create(createdBy, groupID, label string, codeLength int, expiresIn time.Duration) (models.Invitation, error) {
	if strings.TrimSpace(groupID) == "" {
		return models.Invitation{}, ErrGroupRequired
	}
	if codeLength == 0 {
		codeLength = 12
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := s.uniqueCodeLocked(codeLength)
	if err != nil {
		return models.Invitation{}, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	invitation := models.Invitation{
		ID:        id,
		Code:      code,
		GroupID:   groupID,
		Label:     strings.TrimSpace(label),
		Enabled:   true,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if expiresIn > 0 {
		expires := now.Add(expiresIn)
		invitation.ExpiresAt = &expires
	}

	s.invitations[id] = invitation

	if err := s.saveLocked(); err != nil {
		delete(s.invitations, id)
		return models.Invitation{}, err
	}

	return invitation, nil
}

// uniqueCodeLocked generates a code not already in use. Collisions are
// astronomically unlikely at the charset size, so three attempts is plenty.
func (s *Service) uniqueCodeLocked(length int) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		code, err := utils.GenerateInviteCode(length)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		if _, taken := s.findByCodeLocked(code); !taken {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique invitation code")
}

func (s *Service) findByCodeLocked(code string) (models.Invitation, bool) {
	for _, inv := range s.invitations {
		if inv.Code == code {
			return inv, true
		}
	}
	return models.Invitation{}, false
}

// GetByCode finds an invitation by its code.
func (s *Service) GetByCode(code string) (models.Invitation, error) {
	code = strings.TrimSpace(code)
	if code == "" || !utils.ValidateInviteCode(code) {
		return models.Invitation{}, ErrInvalidCode
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.findByCodeLocked(code); ok {
		return inv, nil
	}

	return models.Invitation{}, ErrInvitationNotFound
}

// GetByID finds an invitation by its ID.
func (s *Service) GetByID(id string) (models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invitations[id]; ok {
		return inv, nil
	}

	return models.Invitation{}, ErrInvitationNotFound
}

// Validate checks whether the invitation behind a code accepts new requests.
func (s *Service) Validate(code string) error {
	inv, err := s.GetByCode(code)
	if err != nil {
		return err
	}

	if !inv.Enabled {
		return ErrInvitationDisabled
	}

	if inv.ExpiresAt != nil && time.Now().After(*inv.ExpiresAt) {
		return ErrInvitationExpired
	}

	return nil
}

// SetEnabled toggles whether the invitation accepts new requests.
func (s *Service) SetEnabled(id string, enabled bool) (models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok {
		return models.Invitation{}, ErrInvitationNotFound
	}

	inv.Enabled = enabled
	inv.UpdatedAt = time.Now().UTC()
	s.invitations[id] = inv

	if err := s.saveLocked(); err != nil {
		return models.Invitation{}, err
	}
	return inv, nil
}

// Update changes the label and group binding of an invitation.
func (s *Service) Update(id, label, groupID string) (models.Invitation, error) {
	if strings.TrimSpace(groupID) == "" {
		return models.Invitation{}, ErrGroupRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok {
		return models.Invitation{}, ErrInvitationNotFound
	}

	inv.Label = strings.TrimSpace(label)
	inv.GroupID = groupID
	inv.UpdatedAt = time.Now().UTC()
	s.invitations[id] = inv

	if err := s.saveLocked(); err != nil {
		return models.Invitation{}, err
	}
	return inv, nil
}

// List returns all invitations, sorted by creation time (newest first).
func (s *Service) List() []models.Invitation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invitations := make([]models.Invitation, 0, len(s.invitations))
	for _, inv := range s.invitations {
		invitations = append(invitations, inv)
	}

	sort.Slice(invitations, func(i, j int) bool {
		return invitations[i].CreatedAt.After(invitations[j].CreatedAt)
	})

	return invitations
}

// Delete removes an invitation. Callers are responsible for also discarding
// the join requests submitted against its code.
func (s *Service) Delete(id string) (models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok {
		return models.Invitation{}, ErrInvitationNotFound
	}

	delete(s.invitations, id)
	if err := s.saveLocked(); err != nil {
		return models.Invitation{}, err
	}
	return inv, nil
}

// CleanupExpired removes invitations whose expiry passed more than olderThan ago.
func (s *Service) CleanupExpired(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var count int

	for id, inv := range s.invitations {
		if inv.ExpiresAt != nil && inv.ExpiresAt.Before(cutoff) {
			delete(s.invitations, id)
			count++
		}
	}

	if count > 0 {
		if err := s.saveLocked(); err != nil {
			return 0, err
		}
	}

	return count, nil
}

func (s *Service) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open invitations file: %w", err)
	}
	defer file.Close()

	var stored []models.Invitation
	if err := json.NewDecoder(file).Decode(&stored); err != nil {
		return fmt.Errorf("decode invitations: %w", err)
	}

	s.invitations = make(map[string]models.Invitation, len(stored))
	for _, inv := range stored {
		if strings.TrimSpace(inv.ID) == "" {
			continue
		}
		s.invitations[inv.ID] = inv
	}

	return nil
}

func (s *Service) saveLocked() error {
	invitations := make([]models.Invitation, 0, len(s.invitations))
	for _, inv := range s.invitations {
		invitations = append(invitations, inv)
	}

	sort.Slice(invitations, func(i, j int) bool {
		return invitations[i].CreatedAt.Before(invitations[j].CreatedAt)
	})

	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create invitations temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(invitations); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode invitations: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync invitations: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close invitations temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace invitations file: %w", err)
	}

	return nil
}
