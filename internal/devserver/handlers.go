package devserver

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/puzzlegate/internal/attempt"
	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/remote"
)

type registerRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type attemptRequest struct {
	Username string `json:"username" binding:"required"`
	Solution string `json:"solution"`
}

type threadRequest struct {
	Name             string     `json:"name" binding:"required,max=100"`
	Description      string     `json:"description"`
	Author           string     `json:"author" binding:"required"`
	Timestamp        *time.Time `json:"timestamp"`
	RequiredPuzzleID *int64     `json:"requiredPuzzleId"`
}

type postRequest struct {
	ThreadID int64  `json:"threadId" binding:"required"`
	Author   string `json:"author" binding:"required"`
	Text     string `json:"text" binding:"required"`
}

type voteRequest struct {
	Action forum.Vote `json:"action"`
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, remote.ErrorResponse{Error: msg})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.AddUser(req.Username, req.Email, req.Password); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			fail(c, http.StatusBadRequest, "Username already exists")
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully"})
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	a, ok := s.users[req.Username]
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(a.hash, []byte(req.Password)) != nil {
		fail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	c.JSON(http.StatusOK, a.User)
}

func (s *Server) listPuzzles(c *gin.Context) {
	s.mu.Lock()
	out := make([]forum.Puzzle, 0, len(s.puzzles))
	for _, p := range s.puzzles {
		out = append(out, p.Puzzle)
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) attemptPuzzle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req attemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.puzzleLocked(id)
	if p == nil {
		fail(c, http.StatusNotFound, "Puzzle not found")
		return
	}
	a, ok := s.users[req.Username]
	if !ok {
		fail(c, http.StatusNotFound, "User not found")
		return
	}

	success := attempt.Normalize(req.Solution) == p.solution
	if success {
		done := s.completed[a.ID]
		if done == nil {
			done = make(map[int64]bool)
			s.completed[a.ID] = done
		}
		done[id] = true
	}
	c.JSON(http.StatusOK, remote.AttemptResponse{Success: success})
}

func (s *Server) completedPuzzles(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByID[id]; !ok {
		fail(c, http.StatusNotFound, "User not found")
		return
	}
	ids := make([]int64, 0, len(s.completed[id]))
	for pid := range s.completed[id] {
		ids = append(ids, pid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	c.JSON(http.StatusOK, remote.CompletedResponse{CompletedPuzzleIDs: ids})
}

func (s *Server) listThreads(c *gin.Context) {
	s.mu.Lock()
	out := make([]forum.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, s.listingLocked(*t))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	c.JSON(http.StatusOK, out)
}

func (s *Server) createThread(c *gin.Context) {
	var req threadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[req.Author]; !ok {
		fail(c, http.StatusNotFound, "User not found")
		return
	}
	if req.RequiredPuzzleID != nil && s.puzzleLocked(*req.RequiredPuzzleID) == nil {
		fail(c, http.StatusBadRequest, "Unknown puzzle")
		return
	}

	t := forum.Thread{
		Name:             req.Name,
		Description:      req.Description,
		Author:           req.Author,
		RequiredPuzzleID: req.RequiredPuzzleID,
	}
	if req.Timestamp != nil {
		t.Created = req.Timestamp.UTC()
	}
	id := s.addThreadLocked(t)
	c.JSON(http.StatusCreated, remote.CreatedResponse{ID: id, Status: "Thread created"})
}

func (s *Server) deleteThread(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		fail(c, http.StatusNotFound, "Thread not found")
		return
	}
	if t.Author != c.Query("username") {
		fail(c, http.StatusForbidden, "Unauthorized")
		return
	}
	for pid, p := range s.posts {
		if p.ThreadID == id {
			delete(s.posts, pid)
		}
	}
	delete(s.threads, id)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) listPosts(c *gin.Context) {
	threadID, err := strconv.ParseInt(c.Query("threadId"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "threadId is required")
		return
	}

	s.mu.Lock()
	posts := s.threadPostsLocked(threadID)
	s.mu.Unlock()

	if posts == nil {
		posts = []forum.Post{}
	}
	c.JSON(http.StatusOK, posts)
}

func (s *Server) createPost(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[req.Author]; !ok {
		fail(c, http.StatusNotFound, "User not found")
		return
	}
	if _, ok := s.threads[req.ThreadID]; !ok {
		fail(c, http.StatusNotFound, "Thread not found")
		return
	}
	p := s.addPostLocked(forum.Post{
		ThreadID: req.ThreadID,
		Author:   req.Author,
		Text:     req.Text,
	})
	c.JSON(http.StatusCreated, p)
}

func (s *Server) deletePost(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		fail(c, http.StatusNotFound, "Post not found")
		return
	}
	if p.Author != c.Query("username") {
		fail(c, http.StatusForbidden, "Unauthorized")
		return
	}
	delete(s.posts, id)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) voteThread(c *gin.Context) {
	s.vote(c, func(id int64) (*int, *int, bool) {
		t, ok := s.threads[id]
		if !ok {
			return nil, nil, false
		}
		return &t.Upvotes, &t.Downvotes, true
	})
}

func (s *Server) votePost(c *gin.Context) {
	s.vote(c, func(id int64) (*int, *int, bool) {
		p, ok := s.posts[id]
		if !ok {
			return nil, nil, false
		}
		return &p.Upvotes, &p.Downvotes, true
	})
}

// vote applies an action to the counters returned by lookup, which runs
// under the server lock.
func (s *Server) vote(c *gin.Context, lookup func(id int64) (up, down *int, ok bool)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	up, down, ok := lookup(id)
	if !ok {
		fail(c, http.StatusNotFound, "Object not found")
		return
	}
	switch req.Action {
	case forum.VoteUp:
		*up++
	case forum.VoteDown:
		*down++
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
