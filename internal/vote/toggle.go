package vote

import "github.com/roach88/puzzlegate/internal/forum"

// Delta is a change to an item's vote counters.
type Delta struct {
	Up   int
	Down int
}

// Inverse returns the delta that undoes d.
func (d Delta) Inverse() Delta { return Delta{Up: -d.Up, Down: -d.Down} }

// IsZero reports whether d changes nothing.
func (d Delta) IsZero() bool { return d.Up == 0 && d.Down == 0 }

// Toggle computes the actor's next vote and the counter delta for pressing
// direction while holding current.
//
//   - same direction: retract, that counter -1
//   - opposite direction: switch, old counter -1 and new counter +1
//   - from none: cast, new counter +1
//
// A VoteNone direction is a no-op.
func Toggle(current, direction forum.Vote) (forum.Vote, Delta) {
	if direction == forum.VoteNone {
		return current, Delta{}
	}
	if current == direction {
		return forum.VoteNone, unit(direction, -1)
	}
	d := unit(direction, 1)
	if current != forum.VoteNone {
		old := unit(current, -1)
		d.Up += old.Up
		d.Down += old.Down
	}
	return direction, d
}

// Transition names the move from prev to next: "cast", "retract", "switch"
// or "none".
func Transition(prev, next forum.Vote) string {
	switch {
	case prev == next:
		return "none"
	case prev == forum.VoteNone:
		return "cast"
	case next == forum.VoteNone:
		return "retract"
	default:
		return "switch"
	}
}

func unit(v forum.Vote, n int) Delta {
	switch v {
	case forum.VoteUp:
		return Delta{Up: n}
	case forum.VoteDown:
		return Delta{Down: n}
	}
	return Delta{}
}
