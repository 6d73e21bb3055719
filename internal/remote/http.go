package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/metrics"
)

// DefaultTimeout bounds each remote call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// RequestIDHeader carries the per-call request id.
const RequestIDHeader = "X-Request-ID"

var tracer = otel.Tracer("github.com/roach88/puzzlegate/internal/remote")

// Client is the HTTP implementation of Service.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
	ids     RequestIDGenerator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ Service = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRequestIDs sets the request id generator.
func WithRequestIDs(g RequestIDGenerator) Option {
	return func(c *Client) { c.ids = g }
}

// WithMetrics records call outcomes and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the service rooted at baseURL, e.g.
// "http://localhost:5000/api/".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse base url: %q is not absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{},
		timeout: DefaultTimeout,
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Threads fetches every thread.
func (c *Client) Threads(ctx context.Context) ([]forum.Thread, error) {
	var out []forum.Thread
	if err := c.do(ctx, call{op: "list threads", endpoint: "threads.list", method: http.MethodGet, path: "threads"}, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Puzzles fetches every puzzle. Completion flags are not set; see
// CompletedPuzzles.
func (c *Client) Puzzles(ctx context.Context) ([]forum.Puzzle, error) {
	var out []forum.Puzzle
	if err := c.do(ctx, call{op: "list puzzles", endpoint: "puzzles.list", method: http.MethodGet, path: "puzzles"}, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CompletedPuzzles fetches the ids of the puzzles userID has completed.
func (c *Client) CompletedPuzzles(ctx context.Context, userID int64) ([]int64, error) {
	var out CompletedResponse
	path := "users/" + strconv.FormatInt(userID, 10) + "/completed-puzzles"
	if err := c.do(ctx, call{op: "completed puzzles", endpoint: "users.completed", method: http.MethodGet, path: path}, nil, &out); err != nil {
		return nil, err
	}
	return out.CompletedPuzzleIDs, nil
}

// Attempt submits a solution for puzzleID.
func (c *Client) Attempt(ctx context.Context, puzzleID int64, username, solution string) (bool, error) {
	var out AttemptResponse
	path := "puzzles/" + strconv.FormatInt(puzzleID, 10) + "/attempt"
	in := AttemptRequest{Username: username, Solution: solution}
	if err := c.do(ctx, call{op: "attempt puzzle", endpoint: "puzzles.attempt", method: http.MethodPost, path: path}, in, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

// CreateThread creates a thread and returns its id.
func (c *Client) CreateThread(ctx context.Context, t NewThread) (int64, error) {
	var out CreatedResponse
	if err := c.do(ctx, call{op: "create thread", endpoint: "threads.create", method: http.MethodPost, path: "threads"}, t, &out); err != nil {
		return 0, err
	}
	if out.ID == 0 {
		return 0, forum.NewTransportError("create thread", errors.New("response carried no id"))
	}
	return out.ID, nil
}

// DeleteThread deletes a thread owned by username.
func (c *Client) DeleteThread(ctx context.Context, id int64, username string) error {
	return c.do(ctx, call{
		op:       "delete thread",
		endpoint: "threads.delete",
		method:   http.MethodDelete,
		path:     "threads/" + strconv.FormatInt(id, 10),
		query:    url.Values{"username": {username}},
	}, nil, nil)
}

// Posts fetches the posts of threadID. The thread id is filled in on each
// post since the service omits it.
func (c *Client) Posts(ctx context.Context, threadID int64) ([]forum.Post, error) {
	var out []forum.Post
	err := c.do(ctx, call{
		op:       "list posts",
		endpoint: "posts.list",
		method:   http.MethodGet,
		path:     "posts",
		query:    url.Values{"threadId": {strconv.FormatInt(threadID, 10)}},
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ThreadID = threadID
	}
	return out, nil
}

// CreatePost creates a post and returns it as stored by the service.
func (c *Client) CreatePost(ctx context.Context, p NewPost) (forum.Post, error) {
	var out forum.Post
	if err := c.do(ctx, call{op: "create post", endpoint: "posts.create", method: http.MethodPost, path: "posts"}, p, &out); err != nil {
		return forum.Post{}, err
	}
	out.ThreadID = p.ThreadID
	return out, nil
}

// DeletePost deletes a post owned by username.
func (c *Client) DeletePost(ctx context.Context, id int64, username string) error {
	return c.do(ctx, call{
		op:       "delete post",
		endpoint: "posts.delete",
		method:   http.MethodDelete,
		path:     "posts/" + strconv.FormatInt(id, 10),
		query:    url.Values{"username": {username}},
	}, nil, nil)
}

// Vote sends PATCH {itemType}/{id}/vote.
func (c *Client) Vote(ctx context.Context, itemType forum.ItemType, id int64, v forum.Vote) error {
	return c.do(ctx, call{
		op:       "vote",
		endpoint: string(itemType) + ".vote",
		method:   http.MethodPatch,
		path:     string(itemType) + "/" + strconv.FormatInt(id, 10) + "/vote",
	}, VoteRequest{Action: v}, nil)
}

// Login authenticates a user.
func (c *Client) Login(ctx context.Context, username, password string) (forum.User, error) {
	var out forum.User
	in := LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, call{op: "login", endpoint: "auth.login", method: http.MethodPost, path: "login"}, in, &out); err != nil {
		return forum.User{}, err
	}
	return out, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, r Registration) error {
	return c.do(ctx, call{op: "register", endpoint: "auth.register", method: http.MethodPost, path: "register"}, r, nil)
}

type call struct {
	op       string
	endpoint string
	method   string
	path     string
	query    url.Values
}

// do performs one JSON round trip. in and out may be nil.
func (c *Client) do(ctx context.Context, cl call, in, out any) (err error) {
	start := time.Now()
	requestID := c.ids.Generate()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "remote."+cl.endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", cl.method),
			attribute.String("http.route", cl.path),
			attribute.String("request.id", requestID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.metrics.ObserveRemote(cl.endpoint, outcome(err), time.Since(start))
		if err != nil {
			c.logger.Debug("remote call failed",
				"endpoint", cl.endpoint,
				"request_id", requestID,
				"error", err)
		}
	}()

	target := c.baseURL.ResolveReference(&url.URL{Path: cl.path})
	if len(cl.query) > 0 {
		target.RawQuery = cl.query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", cl.op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return forum.NewTransportError(cl.op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return forum.NewTransportError(cl.op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(cl.op, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return forum.NewTransportError(cl.op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// statusError maps a non-2xx status to the error taxonomy.
func statusError(op string, status int, body []byte) error {
	msg := http.StatusText(status)
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}

	switch status {
	case http.StatusNotFound:
		return &forum.Error{Code: forum.ErrCodeNotFound, Op: op, Message: msg}
	case http.StatusUnauthorized, http.StatusForbidden:
		return forum.NewUnauthorizedError(op, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return forum.NewValidationError(op, msg)
	default:
		return forum.NewTransportError(op, fmt.Errorf("status %d: %s", status, msg))
	}
}

// outcome returns the metric label for a call result.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch forum.CodeOf(err) {
	case forum.ErrCodeNotFound:
		return "not_found"
	case forum.ErrCodeUnauthorized:
		return "unauthorized"
	case forum.ErrCodeValidation:
		return "validation"
	default:
		return "transport"
	}
}
