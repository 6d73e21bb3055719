// Package gating derives thread accessibility and aggregate progress from
// puzzle-completion state.
//
// Every function here is pure: it reads its arguments, never mutates them,
// and never fails. Missing data degrades to "locked" or zero.
package gating

import "github.com/roach88/puzzlegate/internal/forum"

// IsUnlocked reports whether content gated by puzzleID is accessible.
//
// A nil puzzleID is always unlocked. Otherwise the puzzle must be present in
// puzzles and completed; an unknown id is locked (fail-closed).
func IsUnlocked(puzzleID *int64, puzzles []forum.Puzzle) bool {
	if puzzleID == nil {
		return true
	}
	p, ok := findPuzzle(*puzzleID, puzzles)
	if !ok {
		return false
	}
	return p.Completed
}

// ThreadUnlocked is IsUnlocked applied to a thread's requirement.
func ThreadUnlocked(t forum.Thread, puzzles []forum.Puzzle) bool {
	return IsUnlocked(t.RequiredPuzzleID, puzzles)
}

// RecomputeStats derives AggregateStats from the current collections.
// It is recomputed from scratch on every call.
func RecomputeStats(puzzles []forum.Puzzle, threads []forum.Thread) forum.AggregateStats {
	stats := forum.AggregateStats{
		TotalPuzzles: len(puzzles),
		TotalThreads: len(threads),
	}
	for _, p := range puzzles {
		if p.Completed {
			stats.PuzzlesCompleted++
		}
	}
	idx := index(puzzles)
	for _, t := range threads {
		if unlockedIndexed(t.RequiredPuzzleID, idx) {
			stats.ThreadsUnlocked++
		}
	}
	return stats
}

// Unlocks returns the ids of threads that are unlocked under after but were
// locked under before, in thread order.
func Unlocks(threads []forum.Thread, before, after []forum.Puzzle) []int64 {
	bi, ai := index(before), index(after)
	var ids []int64
	for _, t := range threads {
		if !unlockedIndexed(t.RequiredPuzzleID, bi) && unlockedIndexed(t.RequiredPuzzleID, ai) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// RequiredPuzzleName returns the name of the puzzle gating t, "" when the
// thread is ungated and "Unknown" when the puzzle is not loaded.
func RequiredPuzzleName(t forum.Thread, puzzles []forum.Puzzle) string {
	if t.RequiredPuzzleID == nil {
		return ""
	}
	if p, ok := findPuzzle(*t.RequiredPuzzleID, puzzles); ok {
		return p.Name
	}
	return "Unknown"
}

func findPuzzle(id int64, puzzles []forum.Puzzle) (forum.Puzzle, bool) {
	for _, p := range puzzles {
		if p.ID == id {
			return p, true
		}
	}
	return forum.Puzzle{}, false
}

func index(puzzles []forum.Puzzle) map[int64]bool {
	m := make(map[int64]bool, len(puzzles))
	for _, p := range puzzles {
		// first occurrence wins, matching findPuzzle
		if _, seen := m[p.ID]; !seen {
			m[p.ID] = p.Completed
		}
	}
	return m
}

func unlockedIndexed(puzzleID *int64, completed map[int64]bool) bool {
	if puzzleID == nil {
		return true
	}
	return completed[*puzzleID]
}
