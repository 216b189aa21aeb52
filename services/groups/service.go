package groups

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
)

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrGroupNotFound      = errors.New("group not found")
	ErrNameRequired       = errors.New("group name is required")
	ErrNameTaken          = errors.New("group name already in use")
)

// Service manages the streaming groups members join into.
type Service struct {
	mu     sync.RWMutex
	path   string
	groups map[string]models.Group
}

// NewService creates a groups service storing data inside the provided directory.
func NewService(storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create groups dir: %w", err)
	}

	svc := &Service{
		path:   filepath.Join(storageDir, "groups.json"),
		groups: make(map[string]models.Group),
	}

	if err := svc.load(); err != nil {
		return nil, err
	}

	return svc, nil
}

// Create adds a new group.
func (s *Service) Create(name, description string) (models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, ErrNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTakenLocked(name, "") {
		return models.Group{}, ErrNameTaken
	}

	now := time.Now().UTC()
	group := models.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.groups[group.ID] = group

	if err := s.saveLocked(); err != nil {
		delete(s.groups, group.ID)
		return models.Group{}, err
	}

	return group, nil
}

func (s *Service) nameTakenLocked(name, exceptID string) bool {
	for id, g := range s.groups {
		if id != exceptID && strings.EqualFold(g.Name, name) {
			return true
		}
	}
	return false
}

// Get returns a group by ID.
func (s *Service) Get(id string) (models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g, ok := s.groups[id]; ok {
		return g, nil
	}
	return models.Group{}, ErrGroupNotFound
}

// Update changes a group's name, description, and addon set.
func (s *Service) Update(id, name, description string, addonIDs []string) (models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, ErrNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return models.Group{}, ErrGroupNotFound
	}
	if s.nameTakenLocked(name, id) {
		return models.Group{}, ErrNameTaken
	}

	g.Name = name
	g.Description = strings.TrimSpace(description)
	g.AddonIDs = addonIDs
	g.UpdatedAt = time.Now().UTC()
	s.groups[id] = g

	if err := s.saveLocked(); err != nil {
		return models.Group{}, err
	}
	return g, nil
}

// List returns all groups sorted by name.
func (s *Service) List() []models.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]models.Group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		return strings.ToLower(groups[i].Name) < strings.ToLower(groups[j].Name)
	})

	return groups
}

// Delete removes a group.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return ErrGroupNotFound
	}

	delete(s.groups, id)
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
		return fmt.Errorf("open groups file: %w", err)
	}
	defer file.Close()

	var stored []models.Group
	if err := json.NewDecoder(file).Decode(&stored); err != nil {
		return fmt.Errorf("decode groups: %w", err)
	}

	s.groups = make(map[string]models.Group, len(stored))
	for _, g := range stored {
		if strings.TrimSpace(g.ID) == "" {
			continue
		}
		s.groups[g.ID] = g
	}

	return nil
}

func (s *Service) saveLocked() error {
	groups := make([]models.Group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].CreatedAt.Before(groups[j].CreatedAt)
	})

	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create groups temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(groups); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode groups: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync groups: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close groups temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace groups file: %w", err)
	}

	return nil
}
