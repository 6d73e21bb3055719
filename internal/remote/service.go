// Package remote defines the contract of the forum data service and its
// HTTP implementation.
//
// Every call takes a context and is bounded by the client timeout. Failures
// are reported as *forum.Error values: NotFound, Unauthorized,
// ValidationFailure or TransportFailure, depending on the response status.
package remote

import (
	"context"
	"time"

	"github.com/roach88/puzzlegate/internal/forum"
)

// Service is the remote data service used by the consistency engine.
type Service interface {
	Threads(ctx context.Context) ([]forum.Thread, error)
	Puzzles(ctx context.Context) ([]forum.Puzzle, error)
	CompletedPuzzles(ctx context.Context, userID int64) ([]int64, error)

	// Attempt submits a solution. It returns false when the service rejects
	// the answer; a nil error with false is not a failure.
	Attempt(ctx context.Context, puzzleID int64, username, solution string) (bool, error)

	CreateThread(ctx context.Context, t NewThread) (int64, error)
	DeleteThread(ctx context.Context, id int64, username string) error

	// Posts returns the posts of a thread ordered by timestamp.
	Posts(ctx context.Context, threadID int64) ([]forum.Post, error)
	CreatePost(ctx context.Context, p NewPost) (forum.Post, error)
	DeletePost(ctx context.Context, id int64, username string) error

	// Vote confirms the actor's vote on an item. VoteNone is sent as a null
	// action.
	Vote(ctx context.Context, itemType forum.ItemType, id int64, v forum.Vote) error

	Login(ctx context.Context, username, password string) (forum.User, error)
	Register(ctx context.Context, r Registration) error
}

// NewThread is the create-thread request body.
type NewThread struct {
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Author           string    `json:"author"`
	Timestamp        time.Time `json:"timestamp"`
	RequiredPuzzleID *int64    `json:"requiredPuzzleId"`
}

// NewPost is the create-post request body.
type NewPost struct {
	ThreadID int64  `json:"threadId"`
	Author   string `json:"author"`
	Text     string `json:"text"`
}

// Registration is the sign-up request body.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AttemptRequest is the puzzle attempt request body.
type AttemptRequest struct {
	Username string `json:"username"`
	Solution string `json:"solution"`
}

// AttemptResponse is the puzzle attempt response body.
type AttemptResponse struct {
	Success bool `json:"success"`
}

// CompletedResponse lists the puzzles a user has completed.
type CompletedResponse struct {
	CompletedPuzzleIDs []int64 `json:"completed_puzzle_ids"`
}

// CreatedResponse carries the id assigned by the service.
type CreatedResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status,omitempty"`
}

// VoteRequest is the vote confirmation body.
type VoteRequest struct {
	Action forum.Vote `json:"action"`
}

// LoginRequest is the login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ErrorResponse is the body of a non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
