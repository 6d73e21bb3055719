package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/puzzlegate/internal/client"
	"github.com/roach88/puzzlegate/internal/forum"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", ev.Seq, ev.Op, ev.Args, ev.Outcome)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the trace and the final
// client state and returns the failure messages.
func EvaluateAssertions(ctx context.Context, c *client.Client, result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(ctx, c, result.Trace, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(ctx context.Context, c *client.Client, trace []TraceEvent, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertStats:
		return assertSubset(a.Type, toMap(c.Stats()), a.Expect, trace)
	case AssertThread:
		return assertSubset(a.Type, threadState(c, a.ID), a.Expect, trace)
	case AssertPost:
		return assertSubset(a.Type, postState(c, a.ID), a.Expect, trace)
	case AssertPuzzle:
		return assertSubset(a.Type, puzzleState(c, a.ID), a.Expect, trace)
	case AssertMyVote:
		actual, err := myVoteState(ctx, c, a)
		if err != nil {
			return err
		}
		return assertSubset(a.Type, actual, a.Expect, trace)
	case AssertListing:
		q, err := args(a.Query).query()
		if err != nil {
			return err
		}
		return assertSubset(a.Type, toMap(pageSummary(c.List(q))), a.Expect, trace)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertTraceContains checks if the trace contains a step matching the
// specified op and args (subset match).
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Op == a.Op && matchSubset(ev.Args, a.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("op %s with args %v", a.Op, a.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if ops appear in the specified order.
// Ops don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Ops) && ev.Op == a.Ops[next] {
			next++
		}
	}
	if next == len(a.Ops) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("ops in order: %v", a.Ops),
		Actual:   fmt.Sprintf("%s not found after %v", a.Ops[next], a.Ops[:next]),
		Trace:    trace,
	}
}

// assertTraceCount checks if the op appears exactly the specified number of
// times. Args, when given, narrow the match.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Op == a.Op && matchSubset(ev.Args, a.Args) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertSubset(kind string, actual map[string]any, expected map[string]any, trace []TraceEvent) error {
	if matchSubset(actual, expected) {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%v", normalize(expected)),
		Actual:   fmt.Sprintf("%v", actual),
		Trace:    trace,
	}
}

func threadState(c *client.Client, id int64) map[string]any {
	t, ok := c.Entities().Thread(id)
	if !ok {
		return map[string]any{"exists": false}
	}
	return toMap(map[string]any{
		"exists":     true,
		"name":       t.Name,
		"author":     t.Author,
		"unlocked":   c.Entities().Unlocked(id),
		"postCount":  t.PostCount,
		"upvotes":    t.Upvotes,
		"downvotes":  t.Downvotes,
		"net":        t.Net(),
		"puzzleName": t.PuzzleName,
	})
}

func postState(c *client.Client, id int64) map[string]any {
	p, ok := c.Entities().Post(id)
	if !ok {
		return map[string]any{"exists": false}
	}
	return toMap(map[string]any{
		"exists":    true,
		"threadId":  p.ThreadID,
		"author":    p.Author,
		"text":      p.Text,
		"upvotes":   p.Upvotes,
		"downvotes": p.Downvotes,
		"net":       p.Net(),
	})
}

func puzzleState(c *client.Client, id int64) map[string]any {
	p, ok := c.Entities().Puzzle(id)
	if !ok {
		return map[string]any{"exists": false}
	}
	return map[string]any{"exists": true, "name": p.Name, "completed": p.Completed}
}

func myVoteState(ctx context.Context, c *client.Client, a Assertion) (map[string]any, error) {
	itemType, err := forum.ParseItemType(a.ItemType)
	if err != nil {
		return nil, err
	}
	votes, err := c.MyVotes(ctx, itemType)
	if err != nil {
		return nil, err
	}
	return map[string]any{"vote": votes[a.ID].String()}, nil
}

// matchSubset reports whether every key of expected is present in actual
// with an equal value. Nested maps are matched as subsets too; numbers are
// compared after JSON normalization, so 2 and 2.0 are equal.
func matchSubset(actual any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	got, ok := normalize(actual).(map[string]any)
	if !ok {
		return false
	}
	want, _ := normalize(expected).(map[string]any)
	return subset(got, want)
}

func subset(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok {
			return false
		}
		wm, wantMap := want.(map[string]any)
		gm, gotMap := got.(map[string]any)
		if wantMap && gotMap {
			if !subset(gm, wm) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// normalize round-trips v through JSON so values decoded from YAML and
// values produced in Go compare equal.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func toMap(v any) map[string]any {
	m, _ := normalize(v).(map[string]any)
	return m
}
