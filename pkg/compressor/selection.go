package compressor

import "contextcore/pkg/contextmodel"

// floorMessages and floorCheckpointPair are the minimum span sizes §4.5 step
// 1 allows: a span must cover at least this many messages, or at least one
// checkpoint, before it is worth compressing at all.
const (
	floorMessages       = 2
	floorCheckpointPair = 1
)

// span is a candidate compression target: a contiguous oldest-first run of
// checkpoints followed by a contiguous oldest-first run of recent messages.
type span struct {
	checkpoints []contextmodel.Checkpoint
	messages    []contextmodel.Message
	tokens      int
}

func (s span) empty() bool {
	return len(s.checkpoints) == 0 && len(s.messages) == 0
}

// selectSpan walks checkpoints oldest-first, then recent_messages oldest
// first (stopping recentKeepMin short of the end), accumulating tokens until
// the running total meets targetTokens. It never returns a span narrower than
// the floor once there is anything at all to compress.
//
// Ties are broken per §4.5: among spans that meet the target, prefer the one
// with fewest messages replaced; since this walk grows monotonically and
// stops at the first point the target is met, it already returns the
// minimal-size qualifying span, and checkpoints (older) are always consumed
// before recent messages (newer), satisfying "prefer older messages" too.
func selectSpan(checkpoints []contextmodel.Checkpoint, recent []contextmodel.Message, recentKeepMin int, targetTokens int) span {
	compressible := recent
	if recentKeepMin > 0 && recentKeepMin < len(recent) {
		compressible = recent[:len(recent)-recentKeepMin]
	} else if recentKeepMin >= len(recent) {
		compressible = nil
	}

	var out span
	for _, cp := range checkpoints {
		out.checkpoints = append(out.checkpoints, cp)
		out.tokens += cp.TokenCount
		if met(out, targetTokens) {
			return out
		}
	}
	for _, msg := range compressible {
		out.messages = append(out.messages, msg)
		out.tokens += msg.TokenCount
		if met(out, targetTokens) {
			return out
		}
	}
	// Checkpoints and compressible messages ran out before the floor was
	// reached (e.g. one leftover message against floorMessages=2) — refuse
	// rather than hand compressOnce a below-floor span.
	if !floorMet(out) {
		return span{}
	}
	return out
}

func met(s span, targetTokens int) bool {
	if s.tokens < targetTokens {
		return false
	}
	return floorMet(s)
}

func floorMet(s span) bool {
	if len(s.checkpoints) >= floorCheckpointPair {
		return true
	}
	return len(s.messages) >= floorMessages
}

// targetTokens implements §4.5 step 1's reclamation target:
// compress_target_ratio × (active.total − soft_cap), floored at zero (a
// session under soft_cap that was triggered by recent_keep_max overflow
// still needs a span selected, just not for token reclamation reasons).
func targetTokens(activeTotal, softCap int, ratio float64) int {
	deficit := activeTotal - softCap
	if deficit <= 0 {
		return 0
	}
	return int(ratio * float64(deficit))
}
