package devserver

import (
	"fmt"
	"time"

	"github.com/roach88/puzzlegate/internal/forum"
)

// Seed is the initial content of a Server.
type Seed struct {
	Users   []SeedUser
	Puzzles []SeedPuzzle
	Threads []SeedThread
}

// SeedUser is an account created at startup.
type SeedUser struct {
	Username string
	Email    string
	Password string
}

// SeedPuzzle is a puzzle and its solution keyword. Puzzles get ids in order,
// starting at 1.
type SeedPuzzle struct {
	Name        string
	Description string
	Link        string
	Solution    string
}

// SeedThread is a thread with its posts. RequiredPuzzle is a puzzle id, or
// zero for an ungated thread.
type SeedThread struct {
	Name           string
	Description    string
	Author         string
	RequiredPuzzle int64
	Posts          []string
}

// seedEpoch stamps seed content so listings are stable across runs.
var seedEpoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// Default admin credentials of the dev server.
const (
	AdminUsername = "admin"
	AdminPassword = "admin"
)

// DefaultSeed returns the admin account, a small puzzle set, the
// introductions thread with its welcome posts and one gated thread per
// puzzle.
func DefaultSeed() Seed {
	return Seed{
		Users: []SeedUser{
			{Username: AdminUsername, Email: "admin@example.com", Password: AdminPassword},
		},
		Puzzles: []SeedPuzzle{
			{
				Name:        "Caesar's Secret",
				Description: "Shift every letter of WKH HWHUQDO FLWB back by three.",
				Solution:    "the eternal city",
			},
			{
				Name:        "Vigenere Vault",
				Description: "The key is the fruit that makes lemonade.",
				Solution:    "lemon",
			},
			{
				Name:        "Morse Relay",
				Description: "... .. --. -. .- .-..",
				Solution:    "signal",
			},
		},
		Threads: []SeedThread{
			{
				Name:        "Introductions Thread",
				Description: "Say hello to the community.",
				Author:      AdminUsername,
				Posts: []string{
					"Welcome to our puzzle community! Feel free to introduce yourself.",
					"Hi everyone! Excited to solve puzzles with you all.",
				},
			},
			{
				Name:           "Roman Roads",
				Description:    "For those who found the eternal city.",
				Author:         AdminUsername,
				RequiredPuzzle: 1,
			},
			{
				Name:           "Polyalphabetic Parlour",
				Description:    "Vigenere solvers only.",
				Author:         AdminUsername,
				RequiredPuzzle: 2,
			},
			{
				Name:           "Dots and Dashes",
				Description:    "Telegraph operators gather here.",
				Author:         AdminUsername,
				RequiredPuzzle: 3,
			},
		},
	}
}

func (s *Server) seed(seed Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range seed.Users {
		if _, err := s.addUserLocked(u.Username, u.Email, u.Password); err != nil {
			return fmt.Errorf("seed user %q: %w", u.Username, err)
		}
	}
	for _, p := range seed.Puzzles {
		s.addPuzzleLocked(p.Name, p.Description, p.Link, p.Solution)
	}
	for i, t := range seed.Threads {
		if _, ok := s.users[t.Author]; !ok {
			return fmt.Errorf("seed thread %q: unknown author %q", t.Name, t.Author)
		}
		th := forum.Thread{
			Name:        t.Name,
			Description: t.Description,
			Author:      t.Author,
			Created:     seedEpoch.Add(time.Duration(i) * time.Hour),
		}
		if t.RequiredPuzzle != 0 {
			if s.puzzleLocked(t.RequiredPuzzle) == nil {
				return fmt.Errorf("seed thread %q: unknown puzzle %d", t.Name, t.RequiredPuzzle)
			}
			th.RequiredPuzzleID = forum.PuzzleRef(t.RequiredPuzzle)
		}
		id := s.addThreadLocked(th)
		for j, text := range t.Posts {
			s.addPostLocked(forum.Post{
				ThreadID:  id,
				Author:    t.Author,
				Text:      text,
				Timestamp: th.Created.Add(time.Duration(j+1) * time.Minute),
			})
		}
	}
	return nil
}
