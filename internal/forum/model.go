package forum

import (
	"fmt"
	"time"
)

// User is the signed-in actor. It is owned by the session and does not
// change until logout.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Puzzle is a puzzle as fetched for the current user.
//
// Completed is the per-(user, puzzle) flag. It is only ever set to true by a
// successful attempt and never reset. The solution keyword lives on the
// server and has no client-side field.
type Puzzle struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
	Completed   bool   `json:"completed"`
}

// Thread is a forum thread. A nil RequiredPuzzleID means the thread is
// always unlocked.
type Thread struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Author           string    `json:"author"`
	Created          time.Time `json:"timestamp"`
	RequiredPuzzleID *int64    `json:"requiredPuzzleId"`
	PuzzleName       string    `json:"puzzleName,omitempty"`
	Snippet          string    `json:"snippet,omitempty"`
	PostCount        int       `json:"postCount"`
	Upvotes          int       `json:"upvotes"`
	Downvotes        int       `json:"downvotes"`
}

// Net returns upvotes minus downvotes.
func (t Thread) Net() int { return t.Upvotes - t.Downvotes }

// Post is a message within a thread.
type Post struct {
	ID        int64     `json:"id"`
	ThreadID  int64     `json:"threadId"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
}

// Net returns upvotes minus downvotes.
func (p Post) Net() int { return p.Upvotes - p.Downvotes }

// AggregateStats is a derived view over the puzzle and thread collections.
// It is recomputed, never patched.
type AggregateStats struct {
	PuzzlesCompleted int `json:"puzzlesCompleted"`
	TotalPuzzles     int `json:"totalPuzzles"`
	ThreadsUnlocked  int `json:"threadsUnlocked"`
	TotalThreads     int `json:"totalThreads"`
}

// ItemType names a votable collection. Threads and posts keep independent
// vote state. The value doubles as the URL segment of the vote endpoint.
type ItemType string

const (
	ItemThreads ItemType = "threads"
	ItemPosts   ItemType = "posts"
)

// ParseItemType accepts the plural collection name or its singular form.
func ParseItemType(s string) (ItemType, error) {
	switch s {
	case "threads", "thread":
		return ItemThreads, nil
	case "posts", "post":
		return ItemPosts, nil
	}
	return "", NewValidationError("parse item type", fmt.Sprintf("unknown item type %q", s))
}

// ItemKey identifies one votable item.
type ItemKey struct {
	Type ItemType
	ID   int64
}

func (k ItemKey) String() string { return fmt.Sprintf("%s/%d", k.Type, k.ID) }

// PuzzleRef returns a pointer suitable for Thread.RequiredPuzzleID.
func PuzzleRef(id int64) *int64 { return &id }

// FormatNet renders a net vote count with an explicit sign for
// non-negative values ("+0", "+3", "-2").
func FormatNet(n int) string {
	if n >= 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}

// CommentLabel renders a post count as "1 comment" / "N comments".
func CommentLabel(n int) string {
	if n == 1 {
		return "1 comment"
	}
	return fmt.Sprintf("%d comments", n)
}
