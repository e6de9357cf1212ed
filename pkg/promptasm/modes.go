package promptasm

import (
	"embed"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed modes/*.md
var modeFS embed.FS

//go:embed mandates.md
var mandatesFS embed.FS

// DefaultModeName is used whenever a caller has not yet called set_mode.
const DefaultModeName = "default"

// ModeStore holds every mode body available to the Assembler, loaded once
// from the embedded modes directory. Modes are plain Markdown files named
// <mode>.md; adding one to pkg/promptasm/modes/ and rebuilding is the whole
// registration step, the same way the teacher's template renderer treats
// one *.tpl.md file per named state.
type ModeStore struct {
	bodies map[string]string
}

// NewModeStore reads every embedded mode file into memory.
func NewModeStore() (*ModeStore, error) {
	entries, err := modeFS.ReadDir("modes")
	if err != nil {
		return nil, fmt.Errorf("promptasm: reading embedded modes: %w", err)
	}

	bodies := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		content, err := modeFS.ReadFile("modes/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("promptasm: reading mode %q: %w", entry.Name(), err)
		}
		bodies[name] = string(content)
	}

	if _, ok := bodies[DefaultModeName]; !ok {
		return nil, fmt.Errorf("promptasm: no %q mode embedded", DefaultModeName)
	}

	return &ModeStore{bodies: bodies}, nil
}

// Body returns the named mode's text. Unknown modes are a user error, not a
// storage or model failure — callers should map it accordingly.
func (s *ModeStore) Body(name string) (string, error) {
	body, ok := s.bodies[name]
	if !ok {
		return "", fmt.Errorf("promptasm: unknown mode %q", name)
	}
	return body, nil
}

// Names returns every available mode name, sorted for deterministic output.
func (s *ModeStore) Names() []string {
	out := make([]string, 0, len(s.bodies))
	for name := range s.bodies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// coreMandates returns the fixed, mode-independent invariant text every
// system prompt opens with.
func coreMandates() (string, error) {
	content, err := mandatesFS.ReadFile("mandates.md")
	if err != nil {
		return "", fmt.Errorf("promptasm: reading embedded mandates: %w", err)
	}
	return string(content), nil
}
