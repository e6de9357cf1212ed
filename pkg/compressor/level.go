package compressor

import "contextcore/pkg/contextmodel"

// levelBudgets gives each output level's target summary token budget
// B_level, with B_1 < B_2 < B_3 per §4.5 step 3 — the more aggressively
// compressed a level is, the smaller its allotted summary.
var levelBudgets = map[contextmodel.CheckpointLevel]int{
	contextmodel.LevelCompact:  80,
	contextmodel.LevelModerate: 200,
	contextmodel.LevelDetailed: 400,
}

// outputMargin bounds max_output_tokens above B_level per §4.5 step 4.
const outputMargin = 32

// validationSlack is the §4.5 step 5 tolerance: output may run up to
// B_level * 1.25 before it is rejected.
const validationSlack = 1.25

// selectLevel implements §4.5 step 2. A span with no checkpoints is a first
// compression of raw messages and always produces a level-3 checkpoint. A
// span of checkpoints produces a checkpoint one level more compressed than
// the oldest (i.e. lowest-numbered) level present, floored at LevelCompact —
// merging two level-1 checkpoints stays at level 1.
func selectLevel(s span) contextmodel.CheckpointLevel {
	if len(s.checkpoints) == 0 {
		return contextmodel.LevelDetailed
	}

	oldest := s.checkpoints[0].Level
	for _, cp := range s.checkpoints[1:] {
		if cp.Level < oldest {
			oldest = cp.Level
		}
	}

	switch oldest {
	case contextmodel.LevelDetailed:
		return contextmodel.LevelModerate
	case contextmodel.LevelModerate:
		return contextmodel.LevelCompact
	default:
		return contextmodel.LevelCompact
	}
}
