// Package client is the consistency engine facade. It owns the entity
// store and wires the gating, vote and attempt engines to the remote
// service and the session.
//
// Data flow: remote fetch -> entity store -> gating derives visibility and
// stats -> caller acts -> vote/attempt engines mutate the store -> remote
// confirmation -> store reconciled -> gating re-derives.
package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/puzzlegate/internal/attempt"
	"github.com/roach88/puzzlegate/internal/entity"
	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/gating"
	"github.com/roach88/puzzlegate/internal/metrics"
	"github.com/roach88/puzzlegate/internal/remote"
	"github.com/roach88/puzzlegate/internal/session"
	"github.com/roach88/puzzlegate/internal/vote"
)

// StateFactory returns the vote state backend for an actor.
type StateFactory func(actor string) vote.StateStore

// Client is the consistency engine for one signed-in actor at a time.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	remote   remote.Service
	session  *session.Manager
	entities *entity.Store
	attempts *attempt.Resolver

	newState     StateFactory
	rollback     bool
	voteTimeout  time.Duration
	onVoteFailed func(vote.Failure)

	perPage int
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
	loads   singleflight.Group

	votesMu    sync.Mutex
	votes      *vote.Engine
	votesActor string
}

// Option configures a Client.
type Option func(*Client)

// WithStateFactory sets where actor votes are kept. Default: in memory.
func WithStateFactory(f StateFactory) Option {
	return func(c *Client) { c.newState = f }
}

// WithRollbackOnFailure sets the vote failure policy. Default: true.
func WithRollbackOnFailure(on bool) Option {
	return func(c *Client) { c.rollback = on }
}

// WithVoteTimeout bounds each vote confirmation.
func WithVoteTimeout(d time.Duration) Option {
	return func(c *Client) { c.voteTimeout = d }
}

// WithOnVoteFailure is called for every rejected vote confirmation.
func WithOnVoteFailure(fn func(vote.Failure)) Option {
	return func(c *Client) { c.onVoteFailed = fn }
}

// WithPerPage sets the default listing page size.
func WithPerPage(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.perPage = n
		}
	}
}

// WithClock sets the time source used to stamp new threads.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. The entity store starts empty; call Load after
// restoring or establishing a session.
func New(svc remote.Service, sess *session.Manager, opts ...Option) *Client {
	c := &Client{
		remote:   svc,
		session:  sess,
		entities: entity.New(),
		newState: func(string) vote.StateStore { return vote.NewMemoryState() },
		rollback: true,
		perPage:  gating.DefaultPerPage,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.attempts = attempt.NewResolver(c.entities, svc,
		attempt.WithMetrics(c.metrics),
		attempt.WithLogger(c.logger),
	)
	return c
}

// Entities exposes the entity store for read access.
func (c *Client) Entities() *entity.Store { return c.entities }

// Session returns the session manager.
func (c *Client) Session() *session.Manager { return c.session }

// Restore loads the persisted session and, when someone is signed in, the
// entity collections.
func (c *Client) Restore(ctx context.Context) (*forum.User, error) {
	u, err := c.session.Restore(ctx)
	if err != nil || u == nil {
		return u, err
	}
	if _, err := c.Load(ctx); err != nil {
		return u, err
	}
	return u, nil
}

// Login signs in and loads the entity collections.
func (c *Client) Login(ctx context.Context, username, password string) (forum.User, error) {
	prev := c.session.Current()
	u, err := c.session.Login(ctx, username, password)
	if err != nil {
		return forum.User{}, err
	}
	if prev != nil && prev.Username != u.Username {
		// Completion flags belong to the previous actor.
		c.entities.Reset()
	}
	if _, err := c.Load(ctx); err != nil {
		return u, err
	}
	return u, nil
}

// Register creates an account without signing in.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	return c.session.Register(ctx, username, email, password)
}

// Logout waits for pending vote confirmations, clears the session and
// empties the entity store.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.closeVotes(ctx); err != nil {
		return err
	}
	if err := c.session.Logout(ctx); err != nil {
		return err
	}
	c.entities.Reset()
	return nil
}

// Load fetches threads, puzzles and the actor's completed puzzles
// concurrently and replaces the entity collections. Concurrent calls share
// one fetch.
//
// Completion is monotonic: a puzzle completed locally stays completed even
// if the fetched flags lag behind.
func (c *Client) Load(ctx context.Context) (forum.AggregateStats, error) {
	v, err, _ := c.loads.Do("load", func() (any, error) {
		return c.load(ctx)
	})
	if err != nil {
		return forum.AggregateStats{}, err
	}
	return v.(forum.AggregateStats), nil
}

func (c *Client) load(ctx context.Context) (forum.AggregateStats, error) {
	var (
		threads   []forum.Thread
		puzzles   []forum.Puzzle
		completed []int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		threads, err = c.remote.Threads(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		puzzles, err = c.remote.Puzzles(gctx)
		return err
	})
	if u := c.session.Current(); u != nil && u.ID != 0 {
		g.Go(func() error {
			var err error
			completed, err = c.remote.CompletedPuzzles(gctx, u.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return forum.AggregateStats{}, err
	}

	done := make(map[int64]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	for i := range puzzles {
		if done[puzzles[i].ID] {
			puzzles[i].Completed = true
		}
	}

	c.entities.Refresh(puzzles, threads)
	stats := c.entities.Stats()
	c.logger.Debug("entities loaded",
		"threads", len(threads),
		"puzzles", len(puzzles),
		"completed", stats.PuzzlesCompleted)
	return stats, nil
}

// Stats returns the aggregate stats over the current collections.
func (c *Client) Stats() forum.AggregateStats { return c.entities.Stats() }

// Puzzles returns the puzzle collection.
func (c *Client) Puzzles() []forum.Puzzle { return c.entities.Puzzles() }

// List projects the thread collection. A zero PerPage uses the configured
// page size.
func (c *Client) List(q gating.Query) gating.Page {
	if q.PerPage == 0 {
		q.PerPage = c.perPage
	}
	puzzles, threads := c.entities.Snapshot()
	return gating.List(threads, puzzles, q)
}

// Solve submits an answer for a puzzle.
func (c *Client) Solve(ctx context.Context, puzzleID int64, answer string) (attempt.Result, error) {
	u, err := c.session.Require("attempt puzzle")
	if err != nil {
		return attempt.Result{}, err
	}
	return c.attempts.Submit(ctx, puzzleID, answer, u)
}

// Vote presses direction on a thread or post.
func (c *Client) Vote(ctx context.Context, itemType forum.ItemType, id int64, direction forum.Vote) (vote.Outcome, error) {
	e, err := c.voteEngine()
	if err != nil {
		return vote.Outcome{}, err
	}
	return e.Toggle(ctx, itemType, id, direction)
}

// MyVotes returns the actor's recorded votes in one collection.
func (c *Client) MyVotes(ctx context.Context, itemType forum.ItemType) (map[int64]forum.Vote, error) {
	e, err := c.voteEngine()
	if err != nil {
		return nil, err
	}
	return e.State().All(ctx, itemType)
}

// VoteFailures returns the number of rejected vote confirmations of the
// current actor.
func (c *Client) VoteFailures() int64 {
	c.votesMu.Lock()
	defer c.votesMu.Unlock()
	if c.votes == nil {
		return 0
	}
	return c.votes.Failures()
}

// Flush waits for pending vote confirmations.
func (c *Client) Flush(ctx context.Context) error {
	c.votesMu.Lock()
	e := c.votes
	c.votesMu.Unlock()
	if e == nil {
		return nil
	}
	return e.Flush(ctx)
}

// Close drains pending vote confirmations and releases the vote engine.
func (c *Client) Close() error {
	return c.closeVotes(context.Background())
}

// voteEngine returns the engine of the current actor, creating it on first
// use and replacing it when the actor changed.
func (c *Client) voteEngine() (*vote.Engine, error) {
	u, err := c.session.Require("vote")
	if err != nil {
		return nil, err
	}

	c.votesMu.Lock()
	defer c.votesMu.Unlock()

	if c.votes != nil && c.votesActor == u.Username {
		return c.votes, nil
	}
	if c.votes != nil {
		_ = c.votes.Close()
	}

	opts := []vote.Option{
		vote.WithRollbackOnFailure(c.rollback),
		vote.WithConfirmTimeout(c.voteTimeout),
		vote.WithMetrics(c.metrics),
		vote.WithLogger(c.logger),
	}
	if c.onVoteFailed != nil {
		opts = append(opts, vote.WithOnFailure(c.onVoteFailed))
	}

	c.votes = vote.New(c.entities, c.newState(u.Username), c.remote, opts...)
	c.votesActor = u.Username
	return c.votes, nil
}

func (c *Client) closeVotes(ctx context.Context) error {
	c.votesMu.Lock()
	e := c.votes
	c.votes = nil
	c.votesActor = ""
	c.votesMu.Unlock()

	if e == nil {
		return nil
	}
	if err := e.Flush(ctx); err != nil {
		return err
	}
	return e.Close()
}

// forgetVotes drops the actor's vote records for deleted items.
func (c *Client) forgetVotes(ctx context.Context, keys ...forum.ItemKey) {
	e, err := c.voteEngine()
	if err != nil {
		return
	}
	for _, k := range keys {
		e.Forget(k)
		if err := e.State().Put(ctx, k, forum.VoteNone); err != nil {
			c.logger.Warn("clear vote record failed", "item", k.String(), "error", err)
		}
	}
}
