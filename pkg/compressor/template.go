package compressor

import (
	"fmt"
	"strings"

	"contextcore/pkg/contextmodel"
)

// compressionTemperature is deliberately low and fixed — §4.5 step 4 asks
// for consistent, unembellished summaries, not creative ones.
const compressionTemperature = 0.2

var levelTemplates = map[contextmodel.CheckpointLevel]string{
	contextmodel.LevelDetailed: "Summarize the following conversation span in at most %d tokens. " +
		"Preserve concrete facts, decisions, and open questions; drop pleasantries and filler.\n\n%s",
	contextmodel.LevelModerate: "Merge the following checkpoint summaries into a single, more compact summary of " +
		"at most %d tokens. Keep only decisions, facts, and unresolved items that still matter.\n\n%s",
	contextmodel.LevelCompact: "Compress the following summaries into a terse digest of at most %d tokens. " +
		"Keep only what a later reader absolutely needs to know happened.\n\n%s",
}

// tighterLevelTemplates back §4.5 step 5's single retry: same content, a
// stricter budget instruction for the model that overran the first time.
var tighterLevelTemplates = map[contextmodel.CheckpointLevel]string{
	contextmodel.LevelDetailed: "Your previous summary was too long. Summarize the following conversation span " +
		"in STRICTLY at most %d tokens, as a dense list of facts only.\n\n%s",
	contextmodel.LevelModerate: "Your previous summary was too long. Merge the following checkpoint summaries " +
		"into STRICTLY at most %d tokens, dropping anything not essential.\n\n%s",
	contextmodel.LevelCompact: "Your previous summary was too long. Compress the following into STRICTLY at " +
		"most %d tokens, a few words per item.\n\n%s",
}

// composePrompt builds the level-specific prompt text for s, per §4.5 step 3.
// tighter selects the retry template used after a failed validation.
func composePrompt(level contextmodel.CheckpointLevel, s span, tighter bool) string {
	templates := levelTemplates
	if tighter {
		templates = tighterLevelTemplates
	}
	return fmt.Sprintf(templates[level], levelBudgets[level], serializeSpan(s))
}

func serializeSpan(s span) string {
	var b strings.Builder
	for _, cp := range s.checkpoints {
		fmt.Fprintf(&b, "[checkpoint level=%d] %s\n", cp.Level, cp.SummaryText)
	}
	for _, msg := range s.messages {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
	}
	return b.String()
}
