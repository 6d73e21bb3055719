// Package attempt resolves puzzle solution attempts against the remote
// service and applies the resulting completion to the entity store.
package attempt

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/puzzlegate/internal/entity"
	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/gating"
	"github.com/roach88/puzzlegate/internal/metrics"
)

// Submitter sends an attempt to the remote service. Implemented by
// remote.Client.
type Submitter interface {
	Attempt(ctx context.Context, puzzleID int64, username, solution string) (bool, error)
}

// Outcome is the result of an accepted submission.
type Outcome string

const (
	Solved   Outcome = "solved"
	Rejected Outcome = "rejected"
)

// Result describes a resolved attempt.
type Result struct {
	PuzzleID int64   `json:"puzzleId"`
	Outcome  Outcome `json:"outcome"`

	// AlreadySolved is set when the puzzle was complete before the attempt
	// and no remote call was made.
	AlreadySolved bool `json:"alreadySolved,omitempty"`

	// Unlocked lists threads that became accessible through this attempt.
	Unlocked []int64 `json:"unlocked,omitempty"`

	Stats forum.AggregateStats `json:"stats"`
}

// Normalize canonicalizes a raw answer: surrounding whitespace is trimmed,
// the text is NFC-normalized and case folded.
func Normalize(raw string) string {
	s := norm.NFC.String(strings.TrimSpace(raw))
	// Casers carry state; one per call.
	return cases.Fold().String(s)
}

// Resolver submits attempts.
type Resolver struct {
	entities *entity.Store
	remote   Submitter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMetrics counts attempts by result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver.
func NewResolver(entities *entity.Store, remote Submitter, opts ...Option) *Resolver {
	r := &Resolver{
		entities: entities,
		remote:   remote,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit resolves an attempt at puzzleID by actor.
//
// Local state only changes on a successful attempt: the puzzle is marked
// completed (never reset) and aggregate stats are recomputed. A rejected
// answer or a failed call leaves everything untouched and is not retried.
func (r *Resolver) Submit(ctx context.Context, puzzleID int64, raw string, actor forum.User) (Result, error) {
	const op = "attempt puzzle"

	p, ok := r.entities.Puzzle(puzzleID)
	if !ok {
		r.metrics.Attempt("error")
		return Result{}, forum.NewNotFoundError(op, "puzzle", puzzleID)
	}
	if p.Completed {
		r.metrics.Attempt("already_solved")
		return Result{
			PuzzleID:      puzzleID,
			Outcome:       Solved,
			AlreadySolved: true,
			Stats:         r.entities.Stats(),
		}, nil
	}

	answer := Normalize(raw)
	if answer == "" {
		r.metrics.Attempt("error")
		return Result{}, forum.NewValidationError(op, "answer is required")
	}

	ok, err := r.remote.Attempt(ctx, puzzleID, actor.Username, answer)
	if err != nil {
		r.metrics.Attempt("error")
		var fe *forum.Error
		if errors.As(err, &fe) {
			return Result{}, err
		}
		return Result{}, forum.NewTransportError(op, err)
	}
	if !ok {
		r.metrics.Attempt("rejected")
		return Result{PuzzleID: puzzleID, Outcome: Rejected, Stats: r.entities.Stats()}, nil
	}

	before, threads := r.entities.Snapshot()
	if _, err := r.entities.MarkCompleted(puzzleID); err != nil {
		// Removed by a concurrent reload.
		r.metrics.Attempt("error")
		return Result{}, err
	}
	after := r.entities.Puzzles()

	r.metrics.Attempt("solved")
	res := Result{
		PuzzleID: puzzleID,
		Outcome:  Solved,
		Unlocked: gating.Unlocks(threads, before, after),
		Stats:    r.entities.Stats(),
	}
	r.logger.Info("puzzle solved",
		"puzzle_id", puzzleID,
		"puzzle", p.Name,
		"unlocked", len(res.Unlocked))
	return res, nil
}
