package joinflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"groupwatch/models"
)

const identityFilePrefix = "invite_request_"

// IdentityStore persists one identity record per invitation code so an
// interrupted join can resume after a restart. Each record is its own JSON
// file; joins against different codes never contend.
//
// The submitted flag has controlled read semantics: Load always drops it,
// and LoadForResume restores it only from a record that carries a full
// identity. Storage alone must never push a user into the status flow.
type IdentityStore struct {
	mu  sync.Mutex
	fs  afero.Fs
	dir string
}

// NewIdentityStore creates a store rooted at dir, creating the directory if
// needed.
func NewIdentityStore(fs afero.Fs, dir string) (*IdentityStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &IdentityStore{fs: fs, dir: dir}, nil
}

func (s *IdentityStore) path(code string) string {
	return filepath.Join(s.dir, identityFilePrefix+sanitizeCode(code)+".json")
}

// sanitizeCode keeps file names safe; codes arrive from user input.
func sanitizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, code)
}

// Load returns the stored identity for code with Submitted forced false. A
// missing record is not an error; it reads as a zero identity.
func (s *IdentityStore) Load(code string) (models.PersistedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := s.readLocked(code)
	if err != nil {
		return models.PersistedIdentity{}, err
	}
	identity.Submitted = false
	return identity, nil
}

// LoadForResume returns the stored identity with Submitted restored, but
// only when the record also carries both email and username. A half-typed
// form saved mid-edit never resumes as a submitted request.
func (s *IdentityStore) LoadForResume(code string) (models.PersistedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := s.readLocked(code)
	if err != nil {
		return models.PersistedIdentity{}, err
	}
	if !identity.Resumable() {
		identity.Submitted = false
	}
	return identity, nil
}

// Save merges patch into the stored record. Unset patch fields keep their
// stored values, so two writers updating different flags cannot clobber
// each other.
func (s *IdentityStore) Save(code string, patch models.IdentityPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := s.readLocked(code)
	if err != nil {
		return err
	}
	if patch.Email != nil {
		identity.Email = *patch.Email
	}
	if patch.Username != nil {
		identity.Username = *patch.Username
	}
	if patch.Submitted != nil {
		identity.Submitted = *patch.Submitted
	}
	if patch.EmailMismatch != nil {
		identity.EmailMismatch = *patch.EmailMismatch
	}
	return s.writeLocked(code, identity)
}

// Clear removes the stored record for code. Removing an absent record is
// not an error.
func (s *IdentityStore) Clear(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.path(code)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove identity record: %w", err)
	}
	return nil
}

func (s *IdentityStore) readLocked(code string) (models.PersistedIdentity, error) {
	data, err := afero.ReadFile(s.fs, s.path(code))
	if err != nil {
		if os.IsNotExist(err) {
			return models.PersistedIdentity{}, nil
		}
		return models.PersistedIdentity{}, fmt.Errorf("failed to read identity record: %w", err)
	}

	var identity models.PersistedIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return models.PersistedIdentity{}, fmt.Errorf("failed to parse identity record: %w", err)
	}
	return identity, nil
}

func (s *IdentityStore) writeLocked(code string, identity models.PersistedIdentity) error {
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identity record: %w", err)
	}

	path := s.path(code)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write identity record: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace identity record: %w", err)
	}
	return nil
}
