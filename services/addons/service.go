package addons

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
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
	ErrAddonNotFound      = errors.New("addon not found")
	ErrNameRequired       = errors.New("addon name is required")
	ErrInvalidManifestURL = errors.New("manifest url is invalid")
)

// Service manages the addon catalog groups draw from.
type Service struct {
	mu     sync.RWMutex
	path   string
	addons map[string]models.Addon
}

// NewService creates an addons service storing data inside the provided directory.
func NewService(storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create addons dir: %w", err)
	}

	svc := &Service{
		path:   filepath.Join(storageDir, "addons.json"),
		addons: make(map[string]models.Addon),
	}

	if err := svc.load(); err != nil {
		return nil, err
	}

	return svc, nil
}

// normalizeManifestURL validates and cleans a manifest URL. Admins paste
// these from forum posts, which sometimes carry raw spaces.
func normalizeManifestURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidManifestURL
	}

	encoded, err := utils.EncodeURLWithSpaces(raw)
	if err != nil {
		return "", ErrInvalidManifestURL
	}

	parsed, err := url.Parse(encoded)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", ErrInvalidManifestURL
	}

	return encoded, nil
}

// Create adds an addon to the catalog.
func (s *Service) Create(name, manifestURL string) (models.Addon, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Addon{}, ErrNameRequired
	}

	normalized, err := normalizeManifestURL(manifestURL)
	if err != nil {
		return models.Addon{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	addon := models.Addon{
		ID:          uuid.NewString(),
		Name:        name,
		ManifestURL: normalized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.addons[addon.ID] = addon

	if err := s.saveLocked(); err != nil {
		delete(s.addons, addon.ID)
		return models.Addon{}, err
	}

	return addon, nil
}

// Get returns an addon by ID.
func (s *Service) Get(id string) (models.Addon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.addons[id]; ok {
		return a, nil
	}
	return models.Addon{}, ErrAddonNotFound
}

// Resolve maps addon IDs to addons, skipping unknown IDs. Used when pushing
// a group's addon set to a completed member.
func (s *Service) Resolve(ids []string) []models.Addon {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resolved := make([]models.Addon, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.addons[id]; ok {
			resolved = append(resolved, a)
		}
	}
	return resolved
}

// Update changes an addon's name and manifest URL.
func (s *Service) Update(id, name, manifestURL string) (models.Addon, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Addon{}, ErrNameRequired
	}

	normalized, err := normalizeManifestURL(manifestURL)
	if err != nil {
		return models.Addon{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.addons[id]
	if !ok {
		return models.Addon{}, ErrAddonNotFound
	}

	a.Name = name
	a.ManifestURL = normalized
	a.UpdatedAt = time.Now().UTC()
	s.addons[id] = a

	if err := s.saveLocked(); err != nil {
		return models.Addon{}, err
	}
	return a, nil
}

// List returns all addons sorted by name.
func (s *Service) List() []models.Addon {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addons := make([]models.Addon, 0, len(s.addons))
	for _, a := range s.addons {
		addons = append(addons, a)
	}

	sort.Slice(addons, func(i, j int) bool {
		return strings.ToLower(addons[i].Name) < strings.ToLower(addons[j].Name)
	})

	return addons
}

// Delete removes an addon from the catalog.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.addons[id]; !ok {
		return ErrAddonNotFound
	}

	delete(s.addons, id)
	return s.saveLocked()
}

func (s *Service) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open addons file: %w", err)
	}
	defer file.Close()

	var stored []models.Addon
	if err := json.NewDecoder(file).Decode(&stored); err != nil {
		return fmt.Errorf("decode addons: %w", err)
	}

	s.addons = make(map[string]models.Addon, len(stored))
	for _, a := range stored {
		if strings.TrimSpace(a.ID) == "" {
			continue
		}
		s.addons[a.ID] = a
	}

	return nil
}

func (s *Service) saveLocked() error {
	addons := make([]models.Addon, 0, len(s.addons))
	for _, a := range s.addons {
		addons = append(addons, a)
	}

	sort.Slice(addons, func(i, j int) bool {
		return addons[i].CreatedAt.Before(addons[j].CreatedAt)
	})

	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create addons temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(addons); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode addons: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync addons: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close addons temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace addons file: %w", err)
	}

	return nil
}
