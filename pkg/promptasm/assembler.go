// Package promptasm is the Prompt Assembler: it produces the system_prompt
// Message sent to the model from four independently-sourced pieces, in a
// fixed order that is part of this module's external contract. Nothing here
// talks to a model or the filesystem beyond the embedded mode/mandate text —
// Assemble is a pure function of (tier budget, mode name, registered
// skills/tools).
package promptasm

import (
	"fmt"
	"strings"
	"time"

	"contextcore/pkg/contextmodel"
	"contextcore/pkg/tier"
	"contextcore/pkg/tokencount"
)

// SystemPromptMessageID is the fixed id used for the single system_prompt
// Message a session ever has. It is never compressed and never appears in
// any Checkpoint's OriginMessageIDs.
const SystemPromptMessageID = "system-prompt"

const truncationMarker = "\n...[truncated]"

// SectionBudgets gives each of §4.7's four sourced sections (plus the mode
// body) its own token slot. Budgets are independent of tier.HardCap — the
// system prompt is a small, roughly fixed-size component of a session's
// total budget regardless of which tier the model landed in.
type SectionBudgets struct {
	CoreMandates int
	Skills       int
	Tools        int
	TierPreamble int
	ModeBody     int
}

// DefaultSectionBudgets is deliberately generous for ModeBody (the one
// section actual prompt authors write freeform text into) and tight for the
// tier preamble (a couple of sentences of fixed-shape text).
var DefaultSectionBudgets = SectionBudgets{
	CoreMandates: 150,
	Skills:       300,
	Tools:        300,
	TierPreamble: 120,
	ModeBody:     600,
}

// Assembler builds the system_prompt Message. It holds no per-session or
// per-mode state: every Assemble call re-derives its output from the budget
// and mode name passed in, which is what makes "preserve sanity_checks_enabled
// as dictated by the current tier, not the old prompt" automatic rather than
// something a caller has to remember to do.
type Assembler struct {
	modes    *ModeStore
	registry *ToolRegistry
	counter  *tokencount.Counter
	budgets  SectionBudgets
}

// NewAssembler builds an Assembler over modes and registry, sizing output
// with counter and DefaultSectionBudgets.
func NewAssembler(modes *ModeStore, registry *ToolRegistry, counter *tokencount.Counter) *Assembler {
	return &Assembler{modes: modes, registry: registry, counter: counter, budgets: DefaultSectionBudgets}
}

// NewAssemblerWithBudgets is NewAssembler with caller-supplied section budgets.
func NewAssemblerWithBudgets(modes *ModeStore, registry *ToolRegistry, counter *tokencount.Counter, budgets SectionBudgets) *Assembler {
	return &Assembler{modes: modes, registry: registry, counter: counter, budgets: budgets}
}

// Assemble produces the system_prompt Message for budget (the *current*
// tier, resolved by the Tier Controller) and modeName. Concatenation order
// is fixed: core_mandates -> skills -> tools -> tier_preamble -> mode_body.
func (a *Assembler) Assemble(budget tier.Budget, modeName string) (contextmodel.Message, error) {
	mandates, err := coreMandates()
	if err != nil {
		return contextmodel.Message{}, err
	}
	modeBody, err := a.modes.Body(modeName)
	if err != nil {
		return contextmodel.Message{}, err
	}

	sections := []string{
		a.truncate(mandates, a.budgets.CoreMandates),
		a.truncate(renderDescriptors("Skills", a.registry.List(KindSkill)), a.budgets.Skills),
		a.truncate(renderDescriptors("Tools", a.registry.List(KindTool)), a.budgets.Tools),
		a.truncate(renderTierPreamble(budget), a.budgets.TierPreamble),
		a.truncate(modeBody, a.budgets.ModeBody),
	}

	var parts []string
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}

	return contextmodel.Message{
		ID:        SystemPromptMessageID,
		Role:      contextmodel.RoleSystem,
		Content:   strings.Join(parts, "\n\n"),
		Timestamp: time.Now(),
	}, nil
}

func (a *Assembler) truncate(text string, budget int) string {
	if text == "" {
		return ""
	}
	return tokencount.TruncateToBudget(a.counter, text, budget, truncationMarker)
}

func renderDescriptors(header string, descriptors []Descriptor) string {
	if len(descriptors) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", header)
	for _, d := range descriptors {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	return b.String()
}

// renderTierPreamble is (d) in §4.7: a tier-specific block stating the
// active budget and, critically, whether sanity_checks_enabled is on for
// this tier — read fresh from budget every call, never cached from a prior
// Assemble.
func renderTierPreamble(budget tier.Budget) string {
	sanity := "disabled"
	if budget.SanityChecksEnabled {
		sanity = "enabled"
	}
	return fmt.Sprintf(
		"Context tier: %s (hard cap %d tokens, soft cap %d tokens, up to %d checkpoints). Sanity checks: %s.",
		budget.ID, budget.HardCap, budget.SoftCap, budget.MaxCheckpoints, sanity,
	)
}
