package entity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/puzzlegate/internal/forum"
)

func loaded(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.Load(
		[]forum.Puzzle{{ID: 7, Name: "Vigenere"}},
		[]forum.Thread{
			{ID: 1, Name: "Introductions Thread"},
			{ID: 3, Name: "Vigenere spoilers", RequiredPuzzleID: forum.PuzzleRef(7)},
		},
	)
	return s
}

func TestLoad_CopiesInput(t *testing.T) {
	threads := []forum.Thread{{ID: 1}}
	s := New()
	s.Load(nil, threads)

	threads[0].Name = "mutated"
	got, ok := s.Thread(1)
	require.True(t, ok)
	assert.Empty(t, got.Name)

	out := s.Threads()
	out[0].Name = "also mutated"
	got, _ = s.Thread(1)
	assert.Empty(t, got.Name)
}

func TestMarkCompleted_Monotonic(t *testing.T) {
	s := loaded(t)
	assert.False(t, s.Unlocked(3))

	changed, err := s.MarkCompleted(7)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, s.Unlocked(3))

	changed, err = s.MarkCompleted(7)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.MarkCompleted(99)
	assert.True(t, forum.IsNotFound(err))
}

func TestStats_RecomputedFromCollections(t *testing.T) {
	s := loaded(t)
	assert.Equal(t, forum.AggregateStats{TotalPuzzles: 1, ThreadsUnlocked: 1, TotalThreads: 2}, s.Stats())

	_, _ = s.MarkCompleted(7)
	s.AddThread(forum.Thread{ID: 9})
	assert.Equal(t, forum.AggregateStats{PuzzlesCompleted: 1, TotalPuzzles: 1, ThreadsUnlocked: 3, TotalThreads: 3}, s.Stats())

	_, err := s.RemoveThread(9)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Stats().TotalThreads)
}

func TestPostCount_CreateThenDelete(t *testing.T) {
	s := loaded(t)

	th, err := s.AddPost(forum.Post{ID: 10, ThreadID: 3, Author: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, th.PostCount)
	assert.Len(t, s.Posts(3), 1)

	removed, err := s.RemovePost(10)
	require.NoError(t, err)
	assert.Equal(t, "alice", removed.Author)

	got, _ := s.Thread(3)
	assert.Equal(t, 0, got.PostCount)
	assert.Empty(t, s.Posts(3))

	_, err = s.RemovePost(10)
	assert.True(t, forum.IsNotFound(err))
	got, _ = s.Thread(3)
	assert.Equal(t, 0, got.PostCount)
}

func TestPostCount_NeverNegative(t *testing.T) {
	s := loaded(t)
	require.NoError(t, s.SetPosts(1, []forum.Post{{ID: 1}, {ID: 2}}))

	// server-reported count drifted below the cached list
	s.mu.Lock()
	s.threads[0].PostCount = 0
	s.mu.Unlock()

	_, err := s.RemovePost(1)
	require.NoError(t, err)
	got, _ := s.Thread(1)
	assert.Equal(t, 0, got.PostCount)
}

func TestPostCount_ConcurrentCreatesAndDeletes(t *testing.T) {
	s := loaded(t)
	const n, m = 50, 30

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = s.AddPost(forum.Post{ID: id, ThreadID: 3})
		}(int64(i))
	}
	wg.Wait()

	for i := 1; i <= m; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = s.RemovePost(id)
		}(int64(i))
	}
	wg.Wait()

	got, _ := s.Thread(3)
	assert.Equal(t, n-m, got.PostCount)
	assert.Len(t, s.Posts(3), n-m)
}

func TestAddPost_DuplicateIDCountedOnce(t *testing.T) {
	s := loaded(t)
	_, err := s.AddPost(forum.Post{ID: 5, ThreadID: 1})
	require.NoError(t, err)
	th, err := s.AddPost(forum.Post{ID: 5, ThreadID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, th.PostCount)
}

func TestAddPost_UnknownThread(t *testing.T) {
	s := loaded(t)
	_, err := s.AddPost(forum.Post{ID: 1, ThreadID: 404})
	assert.True(t, forum.IsNotFound(err))
}

func TestRemoveThread_DropsPosts(t *testing.T) {
	s := loaded(t)
	require.NoError(t, s.SetPosts(3, []forum.Post{{ID: 11}}))

	_, err := s.RemoveThread(3)
	require.NoError(t, err)

	_, ok := s.Post(11)
	assert.False(t, ok)
	_, err = s.RemoveThread(3)
	assert.True(t, forum.IsNotFound(err))
}

func TestApplyVoteDelta_ClampsAtZero(t *testing.T) {
	s := loaded(t)
	key := forum.ItemKey{Type: forum.ItemThreads, ID: 1}

	u, err := s.ApplyVoteDelta(key, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, [2]int{1, 0}, [2]int{u.Up, u.Down})

	u, err = s.ApplyVoteDelta(key, -1, -1)
	require.NoError(t, err)
	assert.Equal(t, [2]int{0, 0}, [2]int{u.Up, u.Down})
	assert.Equal(t, -1, u.AppliedUp)
	assert.Zero(t, u.AppliedDown, "clamped counter reports no change")
}

func TestUndoVoteDelta_ReversesAppliedChangeOnly(t *testing.T) {
	s := loaded(t)
	key := forum.ItemKey{Type: forum.ItemThreads, ID: 1}

	u, err := s.ApplyVoteDelta(key, -1, 0)
	require.NoError(t, err)
	assert.Zero(t, u.AppliedUp)

	back, err := s.UndoVoteDelta(key, u)
	require.NoError(t, err)
	assert.Equal(t, [2]int{0, 0}, [2]int{back.Up, back.Down})
}

func TestUndoVoteDelta_SkippedAfterReload(t *testing.T) {
	s := New()
	s.Load(nil, []forum.Thread{{ID: 1, Upvotes: 5}})
	key := forum.ItemKey{Type: forum.ItemThreads, ID: 1}

	u, err := s.ApplyVoteDelta(key, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, u.Up)

	s.Refresh(nil, []forum.Thread{{ID: 1, Upvotes: 5}})

	_, err = s.UndoVoteDelta(key, u)
	assert.ErrorIs(t, err, ErrReloaded)
	up, _, err := s.Counts(key)
	require.NoError(t, err)
	assert.Equal(t, 5, up)
}

func TestApplyVoteDelta_Posts(t *testing.T) {
	s := loaded(t)
	require.NoError(t, s.SetPosts(1, []forum.Post{{ID: 20, Downvotes: 1}}))
	key := forum.ItemKey{Type: forum.ItemPosts, ID: 20}

	u, err := s.ApplyVoteDelta(key, 1, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Up)
	assert.Equal(t, 0, u.Down)

	p, ok := s.Post(20)
	require.True(t, ok)
	assert.Equal(t, 1, p.Net())

	_, err = s.ApplyVoteDelta(forum.ItemKey{Type: forum.ItemPosts, ID: 404}, 1, 0)
	assert.True(t, forum.IsNotFound(err))
}

func TestRefresh_KeepsLocalCompletion(t *testing.T) {
	s := loaded(t)
	_, err := s.MarkCompleted(7)
	require.NoError(t, err)

	// A fetch that started before the solve still reports it open.
	s.Refresh([]forum.Puzzle{{ID: 7, Name: "Vigenere"}}, s.Threads())

	p, ok := s.Puzzle(7)
	require.True(t, ok)
	assert.True(t, p.Completed)
	assert.True(t, s.Unlocked(3))

	s.Load([]forum.Puzzle{{ID: 7, Name: "Vigenere"}}, s.Threads())
	p, _ = s.Puzzle(7)
	assert.False(t, p.Completed, "Load replaces flags as given")
}

func TestRefresh_ConcurrentWithMarkCompleted(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := loaded(t)
		stale := []forum.Puzzle{{ID: 7, Name: "Vigenere"}}
		threads := s.Threads()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.MarkCompleted(7)
		}()
		go func() {
			defer wg.Done()
			s.Refresh(stale, threads)
		}()
		wg.Wait()

		p, _ := s.Puzzle(7)
		require.True(t, p.Completed, "iteration %d lost a completion", i)
	}
}

func TestLoad_DropsPostsOfVanishedThreads(t *testing.T) {
	s := loaded(t)
	require.NoError(t, s.SetPosts(3, []forum.Post{{ID: 11}}))

	s.Load(s.Puzzles(), []forum.Thread{{ID: 1}})

	_, ok := s.Post(11)
	assert.False(t, ok)
}

func TestVersion_IncreasesOnMutation(t *testing.T) {
	s := loaded(t)
	v := s.Version()
	_, _ = s.MarkCompleted(7)
	assert.Greater(t, s.Version(), v)
}
