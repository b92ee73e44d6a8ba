package traincontrol

import (
	"time"

	"go.shisen.dev/unten/topology"
)

// NewPosition computes the new within-block position after feedback at
// rawIndex (its index into Block.Feedbacks, natural previous→next
// order) transitions to detected, for a train travelling dir through a
// block with feedbackCount feedbacks. It does not mutate anything; the
// caller decides whether to persist the result.
//
// In strict mode, only the feedback exactly ahead of the current
// position advances it (by one). In lenient mode, any feedback ahead
// of position jumps position to just past it — used both for normal
// lenient-mode travel and for the single jump into a newly entered
// block, where the entry feedback is always "ahead" of position 0.
func NewPosition(currentPosition, rawIndex int, dir topology.Direction, strict bool, feedbackCount int) (newPosition int, changed bool) {
	ahead := rawIndex
	if dir == topology.Previous {
		ahead = feedbackCount - 1 - rawIndex
	}
	if strict {
		if ahead == currentPosition {
			return currentPosition + 1, true
		}
		return currentPosition, false
	}
	if ahead >= currentPosition {
		return ahead + 1, true
	}
	return currentPosition, false
}

// EntryFeedbackRawIndex returns the raw (natural-order) feedback index
// a train travelling dir hits first upon entering a block with
// feedbackCount feedbacks.
func EntryFeedbackRawIndex(dir topology.Direction, feedbackCount int) int {
	if dir == topology.Next {
		return 0
	}
	return feedbackCount - 1
}

const defaultRestartDelay = 10 * time.Second

// restartDelay resolves a station dwell: the route step's override,
// else the block's default, else the flat runtime fallback.
func restartDelay(route *topology.Route, stepIndex int, block *topology.Block) time.Duration {
	if d := route.WaitingTimeFor(stepIndex); d != nil {
		return *d
	}
	if block.WaitingTime != nil {
		return *block.WaitingTime
	}
	return defaultRestartDelay
}
