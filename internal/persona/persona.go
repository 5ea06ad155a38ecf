// Package persona loads the persona definitions the brain prompts are
// built from. Personas live as YAML files in a directory and can be
// hot-reloaded while the server runs.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Persona struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Style        string `yaml:"style,omitempty" json:"style,omitempty"`
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
}

// Default is used whenever a requested persona is unknown or none was
// requested at all.
var Default = Persona{
	ID:           "valet",
	Name:         "Valet",
	Style:        "concise, practical",
	SystemPrompt: "You are Valet, a personal assistant that performs background tasks on the user's machine. Be concise and practical. When you need something from the user, ask for exactly one thing.",
}

// Store holds the loaded persona set behind a mutex so the watcher can
// swap it while handlers read.
type Store struct {
	mu       sync.RWMutex
	dir      string
	personas map[string]Persona
}

func NewStore(dir string) *Store {
	s := &Store{
		dir:      strings.TrimSpace(dir),
		personas: map[string]Persona{Default.ID: Default},
	}
	return s
}

// Load reads every .yaml/.yml file in the store's directory. A missing
// directory is not an error; the default set stays in place.
func (s *Store) Load() error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read persona dir: %w", err)
	}

	loaded := map[string]Persona{Default.ID: Default}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read persona file %s: %w", path, err)
		}
		var p Persona
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("parse persona file %s: %w", path, err)
		}
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return fmt.Errorf("persona file %s: id is required", path)
		}
		if strings.TrimSpace(p.SystemPrompt) == "" {
			return fmt.Errorf("persona file %s: system_prompt is required", path)
		}
		loaded[p.ID] = p
	}

	s.mu.Lock()
	s.personas = loaded
	s.mu.Unlock()
	return nil
}

// Get resolves a persona id, falling back to the default.
func (s *Store) Get(id string) Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.personas[strings.TrimSpace(id)]; ok {
		return p
	}
	return Default
}

func (s *Store) List() []Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
