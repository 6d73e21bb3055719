// Package devserver is an in-memory implementation of the forum data
// service. It serves the same HTTP contract the remote client speaks and is
// used for local development, scenarios and end-to-end tests.
//
// Solution keywords never leave the server. Votes follow the service
// contract: "upvote" and "downvote" each increment their counter and a null
// action changes nothing.
package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/puzzlegate/internal/attempt"
	"github.com/roach88/puzzlegate/internal/forum"
)

// SnippetLength is the number of characters of the first post shown on a
// thread listing.
const SnippetLength = 120

// GeneralPuzzleName labels threads that need no puzzle.
const GeneralPuzzleName = "General"

// DefaultAllowedOrigin is the web client origin allowed by CORS.
const DefaultAllowedOrigin = "http://localhost:3000"

// ErrUsernameTaken is returned by AddUser for a duplicate username.
var ErrUsernameTaken = errors.New("username already exists")

type account struct {
	forum.User
	hash []byte
}

type puzzle struct {
	forum.Puzzle
	solution string
}

// Server holds the forum data in memory.
//
// Thread-safety: Server is safe for concurrent use; every handler runs under
// one mutex.
type Server struct {
	mu        sync.Mutex
	users     map[string]*account
	usersByID map[int64]*account
	puzzles   []*puzzle
	threads   map[int64]*forum.Thread
	posts     map[int64]*forum.Post
	completed map[int64]map[int64]bool // user id -> puzzle ids
	nextUser  int64
	nextThr   int64
	nextPost  int64

	now        func() time.Time
	cost       int
	origins    []string
	logger     *slog.Logger
	seedData   bool
	seedConfig Seed
	gatherer   prometheus.Gatherer

	engine *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the time source for new posts and threads.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithBcryptCost sets the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) { s.cost = cost }
}

// WithAllowedOrigins sets the CORS origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithSeed replaces the default seed data.
func WithSeed(seed Seed) Option {
	return func(s *Server) { s.seedConfig = seed }
}

// WithMetrics serves the gathered metrics on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithoutSeed starts with no users, puzzles or threads.
func WithoutSeed() Option {
	return func(s *Server) { s.seedData = false }
}

// New creates a Server and loads its seed data.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		users:      make(map[string]*account),
		usersByID:  make(map[int64]*account),
		threads:    make(map[int64]*forum.Thread),
		posts:      make(map[int64]*forum.Post),
		completed:  make(map[int64]map[int64]bool),
		now:        time.Now,
		cost:       bcrypt.DefaultCost,
		origins:    []string{DefaultAllowedOrigin},
		logger:     slog.Default(),
		seedData:   true,
		seedConfig: DefaultSeed(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seedData {
		if err := s.seed(s.seedConfig); err != nil {
			return nil, err
		}
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving /api/.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("dev server listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins: s.origins,
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "X-Request-ID"},
		MaxAge:       12 * time.Hour,
	}))

	api := r.Group("/api")
	{
		api.POST("/register", s.register)
		api.POST("/login", s.login)

		api.GET("/puzzles", s.listPuzzles)
		api.POST("/puzzles/:id/attempt", s.attemptPuzzle)
		api.GET("/users/:id/completed-puzzles", s.completedPuzzles)

		api.GET("/threads", s.listThreads)
		api.POST("/threads", s.createThread)
		api.DELETE("/threads/:id", s.deleteThread)
		api.PATCH("/threads/:id/vote", s.voteThread)

		api.GET("/posts", s.listPosts)
		api.POST("/posts", s.createPost)
		api.DELETE("/posts/:id", s.deletePost)
		api.PATCH("/posts/:id/vote", s.votePost)
	}

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"request_id", c.GetHeader("X-Request-ID"),
			"elapsed", time.Since(start))
	}
}

// AddUser registers an account.
func (s *Server) AddUser(username, email, password string) (forum.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, email, password)
}

func (s *Server) addUserLocked(username, email, password string) (forum.User, error) {
	if _, ok := s.users[username]; ok {
		return forum.User{}, ErrUsernameTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return forum.User{}, err
	}
	s.nextUser++
	a := &account{
		User: forum.User{ID: s.nextUser, Username: username, Email: email},
		hash: hash,
	}
	s.users[username] = a
	s.usersByID[a.ID] = a
	return a.User, nil
}

// AddPuzzle adds a puzzle with its solution keyword.
func (s *Server) AddPuzzle(name, description, link, solution string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addPuzzleLocked(name, description, link, solution)
}

func (s *Server) addPuzzleLocked(name, description, link, solution string) int64 {
	id := int64(len(s.puzzles) + 1)
	s.puzzles = append(s.puzzles, &puzzle{
		Puzzle:   forum.Puzzle{ID: id, Name: name, Description: description, Link: link},
		solution: attempt.Normalize(solution),
	})
	return id
}

func (s *Server) puzzleLocked(id int64) *puzzle {
	for _, p := range s.puzzles {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Server) addThreadLocked(t forum.Thread) int64 {
	s.nextThr++
	t.ID = s.nextThr
	if t.Created.IsZero() {
		t.Created = s.now().UTC()
	}
	t.PostCount, t.Upvotes, t.Downvotes = 0, 0, 0
	s.threads[t.ID] = &t
	return t.ID
}

func (s *Server) addPostLocked(p forum.Post) forum.Post {
	s.nextPost++
	p.ID = s.nextPost
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now().UTC()
	}
	s.posts[p.ID] = &p
	return p
}

// threadPostsLocked returns a thread's posts ordered by timestamp.
func (s *Server) threadPostsLocked(threadID int64) []forum.Post {
	var out []forum.Post
	for _, p := range s.posts {
		if p.ThreadID == threadID {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// listing renders a thread the way the listing endpoint returns it.
func (s *Server) listingLocked(t forum.Thread) forum.Thread {
	posts := s.threadPostsLocked(t.ID)
	t.PostCount = len(posts)
	t.Snippet = ""
	if len(posts) > 0 {
		t.Snippet = snippet(posts[0].Text)
	}
	t.PuzzleName = GeneralPuzzleName
	if t.RequiredPuzzleID != nil {
		if p := s.puzzleLocked(*t.RequiredPuzzleID); p != nil {
			t.PuzzleName = p.Name
		}
	}
	return t
}

func snippet(text string) string {
	if utf8.RuneCountInString(text) <= SnippetLength {
		return text
	}
	return string([]rune(text)[:SnippetLength]) + "..."
}
