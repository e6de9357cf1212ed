package promptasm

import (
	"fmt"
	"sort"
	"sync"
)

// DescriptorKind separates a registry entry's two concatenation slots: skills
// (higher-level behaviors the model can invoke) from tools (concrete
// callable actions), per §4.7's "skill/tool descriptors enumerated from the
// tool registry" and the fixed skills-before-tools ordering.
type DescriptorKind string

const (
	KindSkill DescriptorKind = "skill"
	KindTool  DescriptorKind = "tool"
)

// Descriptor is the prompt-facing summary of one skill or tool — name and a
// short description, not the full invocation schema a tool-calling loop
// would need. The Orchestrator is a façade over context management, not a
// tool dispatcher, so nothing here carries a JSON schema the way the
// teacher's tool definitions do.
type Descriptor struct {
	Name        string
	Description string
	Kind        DescriptorKind
}

// ToolRegistry is the enumerable source of (b) in §4.7: every skill/tool
// descriptor that should be advertised in the assembled system prompt.
type ToolRegistry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewToolRegistry returns an empty registry; callers register descriptors
// for whatever skills/tools the surrounding CLI exposes.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{descriptors: make(map[string]Descriptor)}
}

// Register adds d, keyed by name. Re-registering the same name is an error —
// descriptors are meant to be declared once at startup, not patched live.
func (r *ToolRegistry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("promptasm: descriptor %q already registered", d.Name)
	}
	r.descriptors[d.Name] = d
	return nil
}

// List returns every descriptor of kind, sorted by name so the assembled
// prompt is byte-for-byte reproducible across runs with the same
// registrations.
func (r *ToolRegistry) List(kind DescriptorKind) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
