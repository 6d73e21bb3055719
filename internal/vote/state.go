package vote

import (
	"context"
	"sync"

	"github.com/roach88/puzzlegate/internal/forum"
)

// StateStore holds the current actor's vote per item.
//
// Implemented by MemoryState (volatile, per session), RedisState and the
// SQLite-backed store.ActorVotes. Durable backends are read before the first
// toggle so a restarted client sees the vote it cast earlier.
type StateStore interface {
	Get(ctx context.Context, key forum.ItemKey) (forum.Vote, error)

	// Put records v. VoteNone removes the record.
	Put(ctx context.Context, key forum.ItemKey, v forum.Vote) error

	// All returns every recorded vote in one collection.
	All(ctx context.Context, itemType forum.ItemType) (map[int64]forum.Vote, error)

	// Clear drops every recorded vote.
	Clear(ctx context.Context) error
}

// MemoryState is a volatile StateStore. It is lost when the process exits.
//
// Thread-safety: MemoryState is safe for concurrent use.
type MemoryState struct {
	mu    sync.RWMutex
	votes map[forum.ItemKey]forum.Vote
}

var _ StateStore = (*MemoryState)(nil)

// NewMemoryState creates an empty volatile vote state.
func NewMemoryState() *MemoryState {
	return &MemoryState{votes: make(map[forum.ItemKey]forum.Vote)}
}

func (m *MemoryState) Get(_ context.Context, key forum.ItemKey) (forum.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.votes[key], nil
}

func (m *MemoryState) Put(_ context.Context, key forum.ItemKey, v forum.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v == forum.VoteNone {
		delete(m.votes, key)
		return nil
	}
	m.votes[key] = v
	return nil
}

func (m *MemoryState) All(_ context.Context, itemType forum.ItemType) (map[int64]forum.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]forum.Vote)
	for k, v := range m.votes {
		if k.Type == itemType {
			out[k.ID] = v
		}
	}
	return out, nil
}

func (m *MemoryState) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes = make(map[forum.ItemKey]forum.Vote)
	return nil
}
