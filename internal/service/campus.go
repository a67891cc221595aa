package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrPresetNotFound is returned for unknown preset ids.
var ErrPresetNotFound = errors.New("campus preset not found")

// CampusService manages campus presets persisted as campuses.json.
type CampusService struct {
	dataDir string
	presets map[string]CampusPreset
	bus     *EventBus
	mu      sync.RWMutex
}

// NewCampusService loads presets from dataDir, falling back to
// DefaultPresets. bus may be nil.
func NewCampusService(dataDir string, bus *EventBus) *CampusService {
	s := &CampusService{
		dataDir: dataDir,
		presets: make(map[string]CampusPreset),
		bus:     bus,
	}
	if !s.loadFromDisk() {
		for _, p := range DefaultPresets() {
			s.presets[p.ID] = p
		}
	}
	return s
}

// List returns all presets by Order, then Name.
func (s *CampusService) List() []CampusPreset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]CampusPreset, 0, len(s.presets))
	for _, p := range s.presets {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Get returns a preset by ID.
func (s *CampusService) Get(id string) (CampusPreset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.presets[id]
	return p, ok
}

// Create adds a preset, deriving its ID from the name when empty.
func (s *CampusService) Create(p CampusPreset) (CampusPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = generateID(p.Name)
	}
	if p.ID == "" {
		return CampusPreset{}, fmt.Errorf("cannot derive an id from name %q", p.Name)
	}
	if _, exists := s.presets[p.ID]; exists {
		return CampusPreset{}, fmt.Errorf("campus preset %q already exists", p.ID)
	}

	s.presets[p.ID] = p
	if err := s.saveToDisk(); err != nil {
		delete(s.presets, p.ID)
		return CampusPreset{}, err
	}
	s.publish("created", p.ID)
	return p, nil
}

// Update replaces a preset by ID.
func (s *CampusService) Update(id string, p CampusPreset) (CampusPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.presets[id]
	if !exists {
		return CampusPreset{}, fmt.Errorf("%w: %q", ErrPresetNotFound, id)
	}

	p.ID = id
	s.presets[id] = p
	if err := s.saveToDisk(); err != nil {
		s.presets[id] = old
		return CampusPreset{}, err
	}
	s.publish("updated", id)
	return p, nil
}

// Delete removes a preset by ID.
func (s *CampusService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.presets[id]
	if !exists {
		return fmt.Errorf("%w: %q", ErrPresetNotFound, id)
	}

	delete(s.presets, id)
	if err := s.saveToDisk(); err != nil {
		s.presets[id] = old
		return err
	}
	s.publish("deleted", id)
	return nil
}

func (s *CampusService) publish(action, id string) {
	if s.bus != nil {
		s.bus.Publish(Event{Resource: ResourceCampuses, Action: action, ID: id})
	}
}

func (s *CampusService) configFile() string {
	return filepath.Join(s.dataDir, "campuses.json")
}

// loadFromDisk reports whether a presets file was read.
func (s *CampusService) loadFromDisk() bool {
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return false
	}

	var presets map[string]CampusPreset
	if err := json.Unmarshal(data, &presets); err != nil {
		return false
	}

	s.presets = presets
	return true
}

func (s *CampusService) saveToDisk() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.presets, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.configFile(), data, 0644)
}

// generateID creates a URL-safe ID from a name, folding accents
// ("Orléans" -> "orleans").
func generateID(name string) string {
	var result strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(name)) {
		switch {
		case unicode.Is(unicode.Mn, r):
		case r == ' ' || r == '-':
			result.WriteRune('_')
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			result.WriteRune(r)
		}
	}
	return result.String()
}
