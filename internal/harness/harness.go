package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/puzzlegate/internal/client"
	"github.com/roach88/puzzlegate/internal/devserver"
	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/gating"
	"github.com/roach88/puzzlegate/internal/remote"
	"github.com/roach88/puzzlegate/internal/session"
	"github.com/roach88/puzzlegate/internal/store"
	"github.com/roach88/puzzlegate/internal/testutil"
	"github.com/roach88/puzzlegate/internal/vote"
)

// Harness executes one scenario.
type Harness struct {
	client *client.Client
	logger *slog.Logger
	seq    int64
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh dev server and a fresh in-memory
// database. Execution flow:
//  1. Start the dev server and register the scenario users
//  2. Wire the client: remote, session and vote records on SQLite
//  3. Execute steps, checking expect clauses
//  4. Wait for pending vote confirmations
//  5. Evaluate assertions and capture the final listing
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewStepClock(time.Time{}, time.Minute)

	dev, err := devserver.New(
		devserver.WithClock(clock.Now),
		devserver.WithBcryptCost(bcrypt.MinCost),
		devserver.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start dev server: %w", err)
	}
	for _, u := range scenario.Users {
		if _, err := dev.AddUser(u.Username, u.Email, u.Password); err != nil {
			return nil, fmt.Errorf("failed to add user %q: %w", u.Username, err)
		}
	}

	srv := httptest.NewServer(withFaults(dev.Handler(), scenario.Faults))
	defer srv.Close()

	rc, err := remote.New(srv.URL+"/api/",
		remote.WithRequestIDs(testutil.NewFixedRequestIDGenerator(scenario.Name)),
		remote.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	rollback := true
	if scenario.RollbackOnFailure != nil {
		rollback = *scenario.RollbackOnFailure
	}
	c := client.New(rc, session.NewManager(st, rc, session.WithLogger(logger)),
		client.WithStateFactory(func(actor string) vote.StateStore { return st.Votes(actor) }),
		client.WithRollbackOnFailure(rollback),
		client.WithPerPage(scenario.PerPage),
		client.WithClock(clock.Now),
		client.WithLogger(logger),
	)
	defer c.Close()

	h := &Harness{client: c, logger: logger}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	if err := c.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to flush votes: %w", err)
	}

	for _, msg := range EvaluateAssertions(ctx, c, result, scenario.Assertions) {
		result.AddError(msg)
	}

	result.Listing = listing(c)
	result.Stats = toMap(c.Stats())
	return result, nil
}

// executeStep runs one step and checks its expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) {
	h.seq++
	out, err := h.invoke(ctx, step)

	ev := TraceEvent{Seq: h.seq, Op: step.Op, Args: step.Args, Outcome: OutcomeOK}
	if err != nil {
		ev.Outcome = string(forum.CodeOf(err))
		if ev.Outcome == "" {
			ev.Outcome = "ERROR"
		}
	} else if out != nil {
		ev.Result = normalize(out)
	}
	result.AddTrace(ev)

	h.logger.Info("step completed", "step", i, "op", step.Op, "outcome", ev.Outcome)

	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	switch {
	case err != nil && want == "":
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, step.Op, err))
		return
	case want != "" && ev.Outcome != want:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got %s", i, step.Op, want, ev.Outcome))
		return
	}

	if step.Expect != nil && step.Expect.Result != nil {
		if !matchSubset(ev.Result, step.Expect.Result) {
			result.AddError(fmt.Sprintf("steps[%d] %s: result %v does not match %v",
				i, step.Op, ev.Result, normalize(step.Expect.Result)))
		}
	}
}

// invoke dispatches a step to the client. The returned value is recorded as
// the step result.
func (h *Harness) invoke(ctx context.Context, step Step) (any, error) {
	a := args(step.Args)
	c := h.client

	switch step.Op {
	case OpRegister:
		return nil, c.Register(ctx, a.str("username"), a.str("email"), a.str("password"))

	case OpLogin:
		u, err := c.Login(ctx, a.str("username"), a.str("password"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"username": u.Username, "email": u.Email}, nil

	case OpLogout:
		return nil, c.Logout(ctx)

	case OpLoad:
		return c.Load(ctx)

	case OpSolve:
		id, err := a.int("puzzle")
		if err != nil {
			return nil, err
		}
		res, err := c.Solve(ctx, id, a.str("answer"))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"outcome":          res.Outcome,
			"alreadySolved":    res.AlreadySolved,
			"unlocked":         nonNil(res.Unlocked),
			"puzzlesCompleted": res.Stats.PuzzlesCompleted,
			"threadsUnlocked":  res.Stats.ThreadsUnlocked,
		}, nil

	case OpVote:
		itemType, err := forum.ParseItemType(a.str("type"))
		if err != nil {
			return nil, err
		}
		id, err := a.int("id")
		if err != nil {
			return nil, err
		}
		dir, err := forum.ParseDirection(a.str("direction"))
		if err != nil {
			return nil, err
		}
		out, err := c.Vote(ctx, itemType, id, dir)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"previous":  out.Previous.String(),
			"current":   out.Current.String(),
			"upvotes":   out.Upvotes,
			"downvotes": out.Downvotes,
			"net":       out.Net(),
		}, nil

	case OpCreateThread:
		d := client.ThreadDraft{Name: a.str("name"), Description: a.str("description")}
		if a.has("puzzle") {
			id, err := a.int("puzzle")
			if err != nil {
				return nil, err
			}
			d.RequiredPuzzleID = forum.PuzzleRef(id)
		}
		t, err := c.CreateThread(ctx, d)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": t.ID, "name": t.Name, "author": t.Author, "puzzleName": t.PuzzleName}, nil

	case OpDeleteThread:
		id, err := a.int("id")
		if err != nil {
			return nil, err
		}
		return nil, c.DeleteThread(ctx, id)

	case OpOpenThread:
		id, err := a.int("id")
		if err != nil {
			return nil, err
		}
		view, err := c.OpenThread(ctx, id)
		if err != nil {
			return nil, err
		}
		texts := make([]string, 0, len(view.Posts))
		ids := make([]int64, 0, len(view.Posts))
		for _, p := range view.Posts {
			texts = append(texts, p.Text)
			ids = append(ids, p.ID)
		}
		return map[string]any{"postCount": view.Thread.PostCount, "posts": texts, "ids": ids}, nil

	case OpCreatePost:
		threadID, err := a.int("thread")
		if err != nil {
			return nil, err
		}
		p, err := c.CreatePost(ctx, client.PostDraft{ThreadID: threadID, Text: a.str("text")})
		if err != nil {
			return nil, err
		}
		t, _ := c.Entities().Thread(threadID)
		return map[string]any{"id": p.ID, "author": p.Author, "postCount": t.PostCount}, nil

	case OpDeletePost:
		id, err := a.int("id")
		if err != nil {
			return nil, err
		}
		return nil, c.DeletePost(ctx, id)

	case OpList:
		q, err := a.query()
		if err != nil {
			return nil, err
		}
		return pageSummary(c.List(q)), nil

	case OpStats:
		return c.Stats(), nil

	case OpFlush:
		return nil, c.Flush(ctx)
	}
	return nil, fmt.Errorf("unknown op %q", step.Op)
}

func pageSummary(p gating.Page) map[string]any {
	ids := make([]int64, 0, len(p.Entries))
	for _, e := range p.Entries {
		ids = append(ids, e.Thread.ID)
	}
	return map[string]any{"ids": ids, "total": p.Total, "page": p.Page, "pages": p.Pages}
}

func listing(c *client.Client) []ListingRow {
	page := c.List(gating.Query{PerPage: -1})
	rows := make([]ListingRow, 0, len(page.Entries))
	for _, e := range page.Entries {
		gate := devserver.GeneralPuzzleName
		if e.Thread.RequiredPuzzleID != nil {
			gate = e.PuzzleName
		}
		rows = append(rows, ListingRow{
			ID:       e.Thread.ID,
			Name:     e.Thread.Name,
			Author:   e.Thread.Author,
			Unlocked: e.Unlocked,
			Gate:     gate,
			Net:      forum.FormatNet(e.Thread.Net()),
			Comments: forum.CommentLabel(e.Thread.PostCount),
		})
	}
	return rows
}

// withFaults answers requests matching a fault with its status.
func withFaults(next http.Handler, faults []Fault) http.Handler {
	if len(faults) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, f := range faults {
			if f.Method == r.Method && f.Path == r.URL.Path {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(f.Status)
				_ = json.NewEncoder(w).Encode(remote.ErrorResponse{Error: "injected fault"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// args reads typed values out of YAML-decoded step arguments.
type args map[string]any

func (a args) has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a args) str(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (a args) int(key string) (int64, error) {
	switch v := a[key].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	case nil:
		return 0, forum.NewValidationError("scenario", fmt.Sprintf("argument %q is required", key))
	}
	return 0, forum.NewValidationError("scenario", fmt.Sprintf("argument %q must be an integer, got %v", key, a[key]))
}

func (a args) query() (gating.Query, error) {
	status, err := gating.ParseStatus(a.str("status"))
	if err != nil {
		return gating.Query{}, err
	}
	order, err := gating.ParseSort(a.str("sort"))
	if err != nil {
		return gating.Query{}, err
	}
	q := gating.Query{Search: a.str("search"), Status: status, Sort: order}
	if a.has("page") {
		p, err := a.int("page")
		if err != nil {
			return gating.Query{}, err
		}
		q.Page = int(p)
	}
	if a.has("per_page") {
		n, err := a.int("per_page")
		if err != nil {
			return gating.Query{}, err
		}
		q.PerPage = int(n)
	}
	return q, nil
}
