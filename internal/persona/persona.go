// Package persona supplies the persona text used in system prompts, either
// inline from config or from a file that is reloaded when it changes.
package persona

import (
	"fmt"
	"os"
	"strings"
	"sync"

	. "github.com/roelfdiedericks/companion/internal/logging"
	"github.com/roelfdiedericks/companion/internal/prompt"
)

// Source holds the current persona. It is safe for concurrent use.
type Source struct {
	path string

	mu      sync.RWMutex
	persona prompt.Persona
}

// Static returns a source with fixed text.
func Static(name, text string) *Source {
	return &Source{persona: prompt.Persona{Name: name, Text: text}}
}

// FromFile reads the persona text from path.
func FromFile(name, path string) (*Source, error) {
	s := &Source{path: path, persona: prompt.Persona{Name: name}}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file, or "" for a static source.
func (s *Source) Path() string {
	return s.path
}

// Persona returns the current persona.
func (s *Source) Persona() prompt.Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persona
}

// Reload re-reads the backing file and reports whether the text changed.
// Static sources never change.
func (s *Source) Reload() (changed bool, err error) {
	if s.path == "" {
		return false, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("persona: read %s: %w", s.path, err)
	}
	text := strings.TrimSpace(string(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	if text == s.persona.Text {
		return false, nil
	}
	s.persona.Text = text
	L_debug("persona: loaded", "path", s.path, "chars", len(text))
	return true, nil
}
