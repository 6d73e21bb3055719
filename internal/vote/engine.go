package vote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/puzzlegate/internal/entity"
	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/metrics"
)

// Confirmer sends a vote confirmation to the remote service.
// Implemented by remote.Client.
type Confirmer interface {
	Vote(ctx context.Context, itemType forum.ItemType, id int64, v forum.Vote) error
}

// ErrClosed is returned by Toggle after Close.
var ErrClosed = errors.New("vote engine closed")

// DefaultConfirmTimeout bounds each confirmation call.
const DefaultConfirmTimeout = 10 * time.Second

// Outcome describes one applied toggle.
type Outcome struct {
	Key       forum.ItemKey
	Previous  forum.Vote
	Current   forum.Vote
	Delta     Delta
	Upvotes   int
	Downvotes int
}

// Net returns upvotes minus downvotes after the toggle.
func (o Outcome) Net() int { return o.Upvotes - o.Downvotes }

// Failure describes a rejected confirmation. Superseded is set when a later
// toggle or a reload of the entity store replaced the optimistic counters.
type Failure struct {
	Key        forum.ItemKey
	Vote       forum.Vote
	Err        error
	RolledBack bool
	Superseded bool
}

// Engine applies vote toggles optimistically and confirms them in the
// background.
//
// Thread-safety model:
//   - Toggle(): safe from any goroutine; serialized per item key
//   - the dispatcher goroutine sends confirmations in FIFO order
//   - Flush(), Close(): safe from any goroutine
type Engine struct {
	entities *entity.Store
	state    StateStore
	remote   Confirmer

	locks   *keyedMutex
	queue   *confirmQueue
	pending pending
	seq     atomic.Uint64

	latestMu sync.Mutex
	latest   map[forum.ItemKey]uint64

	timeout   time.Duration
	rollback  bool
	onFailure func(Failure)
	failures  atomic.Int64

	metrics *metrics.Metrics
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithRollbackOnFailure sets whether a rejected confirmation reverts the
// optimistic change. Default: true.
func WithRollbackOnFailure(on bool) Option {
	return func(e *Engine) { e.rollback = on }
}

// WithConfirmTimeout bounds each confirmation call.
func WithConfirmTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithOnFailure registers a callback invoked from the dispatcher goroutine
// for every rejected confirmation.
func WithOnFailure(fn func(Failure)) Option {
	return func(e *Engine) { e.onFailure = fn }
}

// WithMetrics records transitions and confirmation failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine and starts its dispatcher. Call Close to stop it.
func New(entities *entity.Store, state StateStore, remote Confirmer, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		entities: entities,
		state:    state,
		remote:   remote,
		locks:    newKeyedMutex(),
		queue:    newConfirmQueue(),
		latest:   make(map[forum.ItemKey]uint64),
		timeout:  DefaultConfirmTimeout,
		rollback: true,
		logger:   slog.Default(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.run(ctx)
	return e
}

// State returns the vote state backend.
func (e *Engine) State() StateStore { return e.state }

// Current returns the actor's vote on key.
func (e *Engine) Current(ctx context.Context, key forum.ItemKey) (forum.Vote, error) {
	return e.state.Get(ctx, key)
}

// Toggle presses direction on an item.
//
// The transition is applied to the entity store in one critical section and
// the new actor vote is recorded before Toggle returns. The remote
// confirmation is queued and sent by the dispatcher.
func (e *Engine) Toggle(ctx context.Context, itemType forum.ItemType, id int64, direction forum.Vote) (Outcome, error) {
	if direction == forum.VoteNone {
		return Outcome{}, forum.NewValidationError("vote", "direction must be up or down")
	}
	key := forum.ItemKey{Type: itemType, ID: id}

	unlock := e.locks.Lock(key)
	defer unlock()

	if _, _, err := e.entities.Counts(key); err != nil {
		return Outcome{}, err
	}

	prev, err := e.state.Get(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	next, d := Toggle(prev, direction)

	applied, err := e.entities.ApplyVoteDelta(key, d.Up, d.Down)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.state.Put(ctx, key, next); err != nil {
		// Keep counters and actor vote in step.
		_, _ = e.entities.UndoVoteDelta(key, applied)
		return Outcome{}, err
	}

	c := confirmation{
		Seq:      e.seq.Add(1),
		Key:      key,
		Previous: prev,
		Vote:     next,
		Applied:  applied,
	}
	e.setLatest(key, c.Seq)
	e.pending.add()
	e.metrics.Pending(1)
	if !e.queue.Enqueue(c) {
		e.metrics.Pending(-1)
		e.pending.done()
		_, _ = e.entities.UndoVoteDelta(key, applied)
		_ = e.state.Put(ctx, key, prev)
		return Outcome{}, ErrClosed
	}
	e.metrics.Transition(string(itemType), Transition(prev, next))

	e.logger.Debug("vote applied",
		"item_type", itemType,
		"item_id", id,
		"previous", prev,
		"current", next)

	return Outcome{
		Key:       key,
		Previous:  prev,
		Current:   next,
		Delta:     d,
		Upvotes:   applied.Up,
		Downvotes: applied.Down,
	}, nil
}

// Forget drops tracking for an item, e.g. after it was deleted. It does not
// touch the vote state backend.
func (e *Engine) Forget(key forum.ItemKey) {
	e.latestMu.Lock()
	defer e.latestMu.Unlock()
	delete(e.latest, key)
}

// Failures returns the number of rejected confirmations so far.
func (e *Engine) Failures() int64 { return e.failures.Load() }

// Pending returns the number of queued confirmations.
func (e *Engine) Pending() int { return e.queue.Len() }

// Flush blocks until every queued confirmation has been sent or ctx is done.
func (e *Engine) Flush(ctx context.Context) error {
	select {
	case <-e.pending.wait():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting toggles, drains the queue and stops the dispatcher.
func (e *Engine) Close() error {
	e.queue.Close()
	<-e.done
	e.cancel()
	return nil
}

// run is the dispatcher loop. It is the only goroutine that sends
// confirmations, so they reach the service in the order they were queued.
//
// ERROR HANDLING: a failed confirmation is never retried. It is logged,
// counted, and rolled back when the policy asks for it.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	for {
		if c, ok := e.queue.TryDequeue(); ok {
			e.confirm(ctx, c)
			continue
		}

		select {
		case _, open := <-e.queue.Wait():
			if !open {
				// Closed: drain what is left, then stop.
				for {
					c, ok := e.queue.TryDequeue()
					if !ok {
						return
					}
					e.confirm(ctx, c)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) confirm(ctx context.Context, c confirmation) {
	defer e.pending.done()
	defer e.metrics.Pending(-1)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	err := e.remote.Vote(callCtx, c.Key.Type, c.Key.ID, c.Vote)
	cancel()
	if err == nil {
		return
	}

	e.failures.Add(1)
	f := Failure{Key: c.Key, Vote: c.Vote, Err: err}

	if e.rollback {
		f.RolledBack, f.Superseded = e.revert(c)
	}

	resolution := "kept"
	switch {
	case f.RolledBack:
		resolution = "rolled_back"
	case f.Superseded:
		resolution = "superseded"
	}
	e.metrics.ConfirmFailure(string(c.Key.Type), resolution)

	e.logger.Warn("vote confirmation failed",
		"item_type", c.Key.Type,
		"item_id", c.Key.ID,
		"vote", c.Vote,
		"resolution", resolution,
		"error", err)

	if e.onFailure != nil {
		e.onFailure(f)
	}
}

// revert undoes a failed transition if no later toggle on the same item has
// been applied since. A later toggle carries absolute state to the service,
// so it supersedes the failed one. A reload since the toggle supersedes the
// counter change too, but the actor's vote is still restored because the
// service never recorded the new one.
func (e *Engine) revert(c confirmation) (rolledBack, superseded bool) {
	unlock := e.locks.Lock(c.Key)
	defer unlock()

	if e.latestSeq(c.Key) != c.Seq {
		return false, true
	}

	_, err := e.entities.UndoVoteDelta(c.Key, c.Applied)
	switch {
	case errors.Is(err, entity.ErrReloaded):
		superseded = true
	case err != nil:
		// The item is gone; nothing left to correct.
		return false, false
	default:
		rolledBack = true
	}
	if err := e.state.Put(context.Background(), c.Key, c.Previous); err != nil {
		e.logger.Error("restore vote state failed",
			"item_type", c.Key.Type,
			"item_id", c.Key.ID,
			"error", err)
	}
	return rolledBack, superseded
}

func (e *Engine) setLatest(key forum.ItemKey, seq uint64) {
	e.latestMu.Lock()
	defer e.latestMu.Unlock()
	e.latest[key] = seq
}

func (e *Engine) latestSeq(key forum.ItemKey) uint64 {
	e.latestMu.Lock()
	defer e.latestMu.Unlock()
	return e.latest[key]
}
