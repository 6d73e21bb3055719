// Package entity holds the client's authoritative in-memory copy of users,
// puzzles, threads and posts.
//
// The Store is an explicit, injectable object. Every mutation happens in a
// single critical section, so readers never observe a half-applied update
// (a post appended without its thread's count moving, or a vote switch with
// only one counter changed). Reads return copies.
package entity

import (
	"errors"
	"sync"

	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/gating"
)

// Store is the Entity Store. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	puzzles []forum.Puzzle
	threads []forum.Thread
	posts   map[int64][]forum.Post // by thread id
	owner   map[int64]int64        // post id -> thread id
	version uint64
	// generation changes whenever the collections are replaced wholesale.
	generation uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		posts: make(map[int64][]forum.Post),
		owner: make(map[int64]int64),
	}
}

// Load replaces the puzzle and thread collections, e.g. after the initial
// fetch. Cached posts of threads that no longer exist are dropped.
func (s *Store) Load(puzzles []forum.Puzzle, threads []forum.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(puzzles, threads)
}

// Refresh is Load for a reload of a session already in progress: a puzzle
// completed locally stays completed even when the fetched copy predates it.
func (s *Store) Refresh(puzzles []forum.Puzzle, threads []forum.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(map[int64]bool, len(s.puzzles))
	for _, p := range s.puzzles {
		if p.Completed {
			done[p.ID] = true
		}
	}
	merged := append([]forum.Puzzle(nil), puzzles...)
	for i := range merged {
		if done[merged[i].ID] {
			merged[i].Completed = true
		}
	}
	s.load(merged, threads)
}

func (s *Store) load(puzzles []forum.Puzzle, threads []forum.Thread) {
	s.puzzles = append([]forum.Puzzle(nil), puzzles...)
	s.threads = append([]forum.Thread(nil), threads...)

	live := make(map[int64]bool, len(threads))
	for _, t := range threads {
		live[t.ID] = true
	}
	for threadID, posts := range s.posts {
		if live[threadID] {
			continue
		}
		for _, p := range posts {
			delete(s.owner, p.ID)
		}
		delete(s.posts, threadID)
	}
	s.version++
	s.generation++
}

// Reset empties the store (logout).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puzzles = nil
	s.threads = nil
	s.posts = make(map[int64][]forum.Post)
	s.owner = make(map[int64]int64)
	s.version++
	s.generation++
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Puzzles returns a copy of the puzzle collection.
func (s *Store) Puzzles() []forum.Puzzle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]forum.Puzzle(nil), s.puzzles...)
}

// Threads returns a copy of the thread collection.
func (s *Store) Threads() []forum.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]forum.Thread(nil), s.threads...)
}

// Snapshot returns consistent copies of both collections.
func (s *Store) Snapshot() ([]forum.Puzzle, []forum.Thread) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]forum.Puzzle(nil), s.puzzles...), append([]forum.Thread(nil), s.threads...)
}

// Stats recomputes AggregateStats from the current collections.
func (s *Store) Stats() forum.AggregateStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return gating.RecomputeStats(s.puzzles, s.threads)
}

// Puzzle returns the puzzle with the given id.
func (s *Store) Puzzle(id int64) (forum.Puzzle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.puzzleIndex(id)
	if i < 0 {
		return forum.Puzzle{}, false
	}
	return s.puzzles[i], true
}

// Thread returns the thread with the given id.
func (s *Store) Thread(id int64) (forum.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.threadIndex(id)
	if i < 0 {
		return forum.Thread{}, false
	}
	return s.threads[i], true
}

// Unlocked reports whether thread id exists and is unlocked.
func (s *Store) Unlocked(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.threadIndex(id)
	if i < 0 {
		return false
	}
	return gating.ThreadUnlocked(s.threads[i], s.puzzles)
}

// MarkCompleted sets a puzzle's Completed flag. The flag is monotonic:
// changed is false when the puzzle was already completed.
func (s *Store) MarkCompleted(id int64) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.puzzleIndex(id)
	if i < 0 {
		return false, forum.NewNotFoundError("mark completed", "puzzle", id)
	}
	if s.puzzles[i].Completed {
		return false, nil
	}
	s.puzzles[i].Completed = true
	s.version++
	return true, nil
}

// AddThread appends a thread. The thread must carry its authoritative id.
func (s *Store) AddThread(t forum.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.threadIndex(t.ID); i >= 0 {
		s.threads[i] = t
	} else {
		s.threads = append(s.threads, t)
	}
	s.version++
}

// RemoveThread removes a thread and its cached posts.
func (s *Store) RemoveThread(id int64) (forum.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.threadIndex(id)
	if i < 0 {
		return forum.Thread{}, forum.NewNotFoundError("remove thread", "thread", id)
	}
	removed := s.threads[i]
	s.threads = append(s.threads[:i:i], s.threads[i+1:]...)
	for _, p := range s.posts[id] {
		delete(s.owner, p.ID)
	}
	delete(s.posts, id)
	s.version++
	return removed, nil
}

// SetPosts replaces the cached posts of a thread with a freshly fetched list.
// The fetched list is authoritative, so the thread's PostCount is set to its
// length.
func (s *Store) SetPosts(threadID int64, posts []forum.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.threadIndex(threadID)
	if i < 0 {
		return forum.NewNotFoundError("set posts", "thread", threadID)
	}
	for _, p := range s.posts[threadID] {
		delete(s.owner, p.ID)
	}
	cp := make([]forum.Post, len(posts))
	for j, p := range posts {
		p.ThreadID = threadID
		cp[j] = p
		s.owner[p.ID] = threadID
	}
	s.posts[threadID] = cp
	s.threads[i].PostCount = len(cp)
	s.version++
	s.generation++
	return nil
}

// Posts returns a copy of the cached posts of a thread.
func (s *Store) Posts(threadID int64) []forum.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]forum.Post(nil), s.posts[threadID]...)
}

// Post returns a cached post by id.
func (s *Store) Post(id int64) (forum.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	threadID, ok := s.owner[id]
	if !ok {
		return forum.Post{}, false
	}
	for _, p := range s.posts[threadID] {
		if p.ID == id {
			return p, true
		}
	}
	return forum.Post{}, false
}

// AddPost appends a post to its thread and increments the thread's
// PostCount by one, as one update.
func (s *Store) AddPost(p forum.Post) (forum.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.threadIndex(p.ThreadID)
	if i < 0 {
		return forum.Thread{}, forum.NewNotFoundError("add post", "thread", p.ThreadID)
	}
	if _, dup := s.owner[p.ID]; dup {
		return s.threads[i], nil
	}
	s.posts[p.ThreadID] = append(s.posts[p.ThreadID], p)
	s.owner[p.ID] = p.ThreadID
	s.threads[i].PostCount++
	s.version++
	return s.threads[i], nil
}

// RemovePost removes a post and decrements its thread's PostCount by one,
// never below zero, as one update. The thread is returned when it is still
// present.
func (s *Store) RemovePost(id int64) (forum.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	threadID, ok := s.owner[id]
	if !ok {
		return forum.Post{}, forum.NewNotFoundError("remove post", "post", id)
	}
	posts := s.posts[threadID]
	var removed forum.Post
	for j, p := range posts {
		if p.ID == id {
			removed = p
			s.posts[threadID] = append(posts[:j:j], posts[j+1:]...)
			break
		}
	}
	delete(s.owner, id)
	if i := s.threadIndex(threadID); i >= 0 && s.threads[i].PostCount > 0 {
		s.threads[i].PostCount--
	}
	s.version++
	return removed, nil
}

// Counts returns the vote counters of an item.
func (s *Store) Counts(key forum.ItemKey) (up, down int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	up, down, ok := s.counts(key)
	if !ok {
		return 0, 0, forum.NewNotFoundError("vote counts", singular(key.Type), key.ID)
	}
	return up, down, nil
}

// VoteUpdate is the result of ApplyVoteDelta.
type VoteUpdate struct {
	Up, Down int
	// AppliedUp and AppliedDown are the change actually made after the
	// counters were clamped at zero.
	AppliedUp, AppliedDown int
	// Generation identifies the loaded collections the counters belong to.
	Generation uint64
}

// ErrReloaded is returned by UndoVoteDelta when the collections were
// replaced after the update it would undo.
var ErrReloaded = errors.New("entity store reloaded")

// ApplyVoteDelta moves an item's counters by (du, dd) in one update.
// Counters are clamped at zero.
func (s *Store) ApplyVoteDelta(key forum.ItemKey, du, dd int) (VoteUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyVoteDelta(key, du, dd)
}

// UndoVoteDelta reverses exactly what u applied. Nothing changes when the
// collections were loaded again since u; the new counters already came
// from the service.
func (s *Store) UndoVoteDelta(key forum.ItemKey, u VoteUpdate) (VoteUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != u.Generation {
		return VoteUpdate{}, ErrReloaded
	}
	return s.applyVoteDelta(key, -u.AppliedUp, -u.AppliedDown)
}

func (s *Store) applyVoteDelta(key forum.ItemKey, du, dd int) (VoteUpdate, error) {
	res := VoteUpdate{Generation: s.generation}
	apply := func(u, d *int) {
		nu, nd := clamp(*u+du), clamp(*d+dd)
		res = VoteUpdate{
			Up:          nu,
			Down:        nd,
			AppliedUp:   nu - *u,
			AppliedDown: nd - *d,
			Generation:  s.generation,
		}
		*u, *d = nu, nd
	}

	switch key.Type {
	case forum.ItemThreads:
		i := s.threadIndex(key.ID)
		if i < 0 {
			return VoteUpdate{}, forum.NewNotFoundError("apply vote", "thread", key.ID)
		}
		apply(&s.threads[i].Upvotes, &s.threads[i].Downvotes)
	case forum.ItemPosts:
		threadID, ok := s.owner[key.ID]
		if !ok {
			return VoteUpdate{}, forum.NewNotFoundError("apply vote", "post", key.ID)
		}
		posts := s.posts[threadID]
		for j := range posts {
			if posts[j].ID == key.ID {
				apply(&posts[j].Upvotes, &posts[j].Downvotes)
				break
			}
		}
	default:
		return VoteUpdate{}, forum.NewValidationError("apply vote", "unknown item type "+string(key.Type))
	}
	s.version++
	return res, nil
}

func (s *Store) counts(key forum.ItemKey) (int, int, bool) {
	switch key.Type {
	case forum.ItemThreads:
		if i := s.threadIndex(key.ID); i >= 0 {
			return s.threads[i].Upvotes, s.threads[i].Downvotes, true
		}
	case forum.ItemPosts:
		if threadID, ok := s.owner[key.ID]; ok {
			for _, p := range s.posts[threadID] {
				if p.ID == key.ID {
					return p.Upvotes, p.Downvotes, true
				}
			}
		}
	}
	return 0, 0, false
}

func (s *Store) puzzleIndex(id int64) int {
	for i := range s.puzzles {
		if s.puzzles[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) threadIndex(id int64) int {
	for i := range s.threads {
		if s.threads[i].ID == id {
			return i
		}
	}
	return -1
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func singular(t forum.ItemType) string {
	if t == forum.ItemPosts {
		return "post"
	}
	return "thread"
}
