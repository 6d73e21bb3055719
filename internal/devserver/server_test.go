package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/remote"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{
		WithBcryptCost(bcrypt.MinCost),
		WithClock(func() time.Time { return testNow }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	s, err := New(opts...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestSeed_IntroductionsThread(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s.Handler(), http.MethodGet, "/api/threads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	threads := decode[[]forum.Thread](t, w)
	require.Len(t, threads, 4)

	intro := threads[0]
	assert.Equal(t, "Introductions Thread", intro.Name)
	assert.Nil(t, intro.RequiredPuzzleID)
	assert.Equal(t, GeneralPuzzleName, intro.PuzzleName)
	assert.Equal(t, 2, intro.PostCount)
	assert.Equal(t, "Welcome to our puzzle community! Feel free to introduce yourself.", intro.Snippet)
	assert.Equal(t, AdminUsername, intro.Author)

	require.NotNil(t, threads[1].RequiredPuzzleID)
	assert.Equal(t, "Caesar's Secret", threads[1].PuzzleName)
}

func TestSnippet_Truncates(t *testing.T) {
	long := strings.Repeat("ä", SnippetLength+5)
	got := snippet(long)
	assert.Equal(t, strings.Repeat("ä", SnippetLength)+"...", got)
	assert.Equal(t, "short", snippet("short"))
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/api/register", remote.Registration{
		Username: "alice", Email: "alice@gmail.com", Password: "pw",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, http.MethodPost, "/api/register", remote.Registration{
		Username: "alice", Email: "alice@gmail.com", Password: "pw",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Username already exists", decode[remote.ErrorResponse](t, w).Error)

	w = do(t, h, http.MethodPost, "/api/login", remote.LoginRequest{Username: "alice", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", decode[remote.ErrorResponse](t, w).Error)

	w = do(t, h, http.MethodPost, "/api/login", remote.LoginRequest{Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	u := decode[forum.User](t, w)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice@gmail.com", u.Email)
	assert.NotZero(t, u.ID)
}

func TestRegister_RequiresFields(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s.Handler(), http.MethodPost, "/api/register", map[string]string{"username": "bob"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttempt_NormalizesAndRecordsCompletion(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	u, err := s.AddUser("alice", "", "pw")
	require.NoError(t, err)

	w := do(t, h, http.MethodPost, "/api/puzzles/2/attempt", remote.AttemptRequest{Username: "alice", Solution: "orange"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[remote.AttemptResponse](t, w).Success)

	w = do(t, h, http.MethodPost, "/api/puzzles/2/attempt", remote.AttemptRequest{Username: "alice", Solution: "  LEMON "})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[remote.AttemptResponse](t, w).Success)

	w = do(t, h, http.MethodGet, "/api/users/"+itoa(u.ID)+"/completed-puzzles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{2}, decode[remote.CompletedResponse](t, w).CompletedPuzzleIDs)

	w = do(t, h, http.MethodPost, "/api/puzzles/99/attempt", remote.AttemptRequest{Username: "alice", Solution: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPuzzles_HideSolutions(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s.Handler(), http.MethodGet, "/api/puzzles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "solution")
	assert.Len(t, decode[[]forum.Puzzle](t, w), 3)
}

func TestThreadLifecycle(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	_, err := s.AddUser("alice", "", "pw")
	require.NoError(t, err)

	w := do(t, h, http.MethodPost, "/api/threads", remote.NewThread{
		Name: "Hints", Author: "alice", RequiredPuzzleID: forum.PuzzleRef(1),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[remote.CreatedResponse](t, w)
	assert.Equal(t, int64(5), created.ID)
	assert.Equal(t, "Thread created", created.Status)

	w = do(t, h, http.MethodPost, "/api/threads", remote.NewThread{
		Name: "Bad", Author: "alice", RequiredPuzzleID: forum.PuzzleRef(42),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodDelete, "/api/threads/5?username=admin", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodDelete, "/api/threads/5?username=alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodDelete, "/api/threads/5?username=alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostLifecycle(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	_, err := s.AddUser("alice", "", "pw")
	require.NoError(t, err)

	w := do(t, h, http.MethodPost, "/api/posts", remote.NewPost{ThreadID: 1, Author: "alice", Text: "hello"})
	require.Equal(t, http.StatusCreated, w.Code)
	p := decode[forum.Post](t, w)
	assert.Equal(t, "hello", p.Text)
	assert.Equal(t, testNow, p.Timestamp)

	w = do(t, h, http.MethodGet, "/api/posts?threadId=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	posts := decode[[]forum.Post](t, w)
	require.Len(t, posts, 3)
	assert.Equal(t, p.ID, posts[2].ID, "ordered by timestamp")

	w = do(t, h, http.MethodDelete, "/api/posts/"+itoa(p.ID)+"?username=bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, h, http.MethodDelete, "/api/posts/"+itoa(p.ID)+"?username=alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/posts?threadId=1", nil)
	assert.Len(t, decode[[]forum.Post](t, w), 2)

	w = do(t, h, http.MethodGet, "/api/posts?threadId=3", nil)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestVote_IncrementsPerAction(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	for _, body := range []string{`{"action":"upvote"}`, `{"action":"downvote"}`, `{"action":null}`, `{"action":"upvote"}`} {
		req := httptest.NewRequest(http.MethodPatch, "/api/threads/1/vote", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, body)
	}

	threads := decode[[]forum.Thread](t, do(t, h, http.MethodGet, "/api/threads", nil))
	assert.Equal(t, 2, threads[0].Upvotes)
	assert.Equal(t, 1, threads[0].Downvotes)

	w := do(t, h, http.MethodPatch, "/api/posts/99/vote", map[string]any{"action": "upvote"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS_AllowsWebOrigin(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/threads", nil)
	req.Header.Set("Origin", DefaultAllowedOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, DefaultAllowedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics_ServedWhenConfigured(t *testing.T) {
	w := do(t, newTestServer(t).Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	reg := prometheus.NewRegistry()
	requests := prometheus.NewCounter(prometheus.CounterOpts{Name: "devserver_test_total", Help: "test"})
	reg.MustRegister(requests)
	requests.Inc()

	w = do(t, newTestServer(t, WithMetrics(reg)).Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "devserver_test_total 1")
}

func TestSeed_UnknownAuthor(t *testing.T) {
	_, err := New(
		WithBcryptCost(bcrypt.MinCost),
		WithSeed(Seed{Threads: []SeedThread{{Name: "x", Author: "ghost"}}}),
	)
	assert.Error(t, err)
}

// The remote client and the dev server speak the same contract.
func TestRemoteClientRoundTrip(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	c, err := remote.New(srv.URL + "/api/")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, remote.Registration{Username: "alice", Email: "alice@gmail.com", Password: "pw"}))
	u, err := c.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = c.Login(ctx, "alice", "bad")
	assert.True(t, forum.IsUnauthorized(err))

	ok, err := c.Attempt(ctx, 1, u.Username, "the eternal city")
	require.NoError(t, err)
	assert.True(t, ok)
	done, err := c.CompletedPuzzles(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, done)

	id, err := c.CreateThread(ctx, remote.NewThread{Name: "Mine", Author: "alice", Timestamp: testNow})
	require.NoError(t, err)
	post, err := c.CreatePost(ctx, remote.NewPost{ThreadID: id, Author: "alice", Text: "first"})
	require.NoError(t, err)
	require.NoError(t, c.Vote(ctx, forum.ItemPosts, post.ID, forum.VoteUp))

	posts, err := c.Posts(ctx, id)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, 1, posts[0].Upvotes)

	err = c.DeleteThread(ctx, 1, "alice")
	assert.True(t, forum.IsUnauthorized(err))
	require.NoError(t, c.DeletePost(ctx, post.ID, "alice"))
	require.NoError(t, c.DeleteThread(ctx, id, "alice"))
	assert.True(t, forum.IsNotFound(c.DeleteThread(ctx, id, "alice")))
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
