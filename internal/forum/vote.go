package forum

import (
	"encoding/json"
	"fmt"
)

// Vote is the actor's vote on a single item. The zero value is VoteNone.
type Vote int

const (
	VoteNone Vote = iota
	VoteUp
	VoteDown
)

func (v Vote) String() string {
	switch v {
	case VoteUp:
		return "up"
	case VoteDown:
		return "down"
	default:
		return "none"
	}
}

// Action returns the wire form used by the vote endpoint: "upvote",
// "downvote", or "" for a retracted vote (sent as null).
func (v Vote) Action() string {
	switch v {
	case VoteUp:
		return "upvote"
	case VoteDown:
		return "downvote"
	default:
		return ""
	}
}

// Opposite returns the other direction. VoteNone has no opposite.
func (v Vote) Opposite() Vote {
	switch v {
	case VoteUp:
		return VoteDown
	case VoteDown:
		return VoteUp
	default:
		return VoteNone
	}
}

// ParseVote accepts "up", "down", "none", their wire forms and "".
func ParseVote(s string) (Vote, error) {
	switch s {
	case "up", "upvote", "+":
		return VoteUp, nil
	case "down", "downvote", "-":
		return VoteDown, nil
	case "none", "":
		return VoteNone, nil
	}
	return VoteNone, NewValidationError("parse vote", fmt.Sprintf("unknown vote %q", s))
}

// ParseDirection is ParseVote restricted to up and down.
func ParseDirection(s string) (Vote, error) {
	v, err := ParseVote(s)
	if err != nil {
		return VoteNone, err
	}
	if v == VoteNone {
		return VoteNone, NewValidationError("parse direction", "direction must be up or down")
	}
	return v, nil
}

// MarshalJSON encodes the wire form, with VoteNone as null.
func (v Vote) MarshalJSON() ([]byte, error) {
	if v == VoteNone {
		return []byte("null"), nil
	}
	return json.Marshal(v.Action())
}

// UnmarshalJSON decodes the wire form.
func (v *Vote) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = VoteNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVote(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
