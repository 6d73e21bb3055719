package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is an end-to-end test of the client against the dev server.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Users are registered on the dev server before the first step.
	Users []User `yaml:"users,omitempty"`

	// Faults make the dev server answer matching requests with an error
	// status instead of handling them.
	Faults []Fault `yaml:"faults,omitempty"`

	// RollbackOnFailure sets the vote failure policy. Default: true.
	RollbackOnFailure *bool `yaml:"rollback_on_failure,omitempty"`

	// PerPage sets the listing page size. Default: 3.
	PerPage int `yaml:"per_page,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final client state.
	Assertions []Assertion `yaml:"assertions"`
}

// User is an account created on the dev server.
type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Email    string `yaml:"email,omitempty"`
}

// Fault injects an error response.
type Fault struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Status int    `yaml:"status"`
}

// Step is one client operation.
type Step struct {
	// Op names the operation (see Ops).
	Op string `yaml:"op"`

	// Args are the operation arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect validates the outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the expected outcome of a step.
type Expect struct {
	// Error is the expected error code (NOT_FOUND, UNAUTHORIZED, LOCKED,
	// VALIDATION_FAILURE, TRANSPORT_FAILURE). Empty means success.
	Error string `yaml:"error,omitempty"`

	// Result is matched against the step result as a subset.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// ID selects the entity (thread, post, puzzle, my_vote).
	ID int64 `yaml:"id,omitempty"`

	// ItemType selects the collection for my_vote: threads or posts.
	ItemType string `yaml:"item_type,omitempty"`

	// Query holds listing arguments (search, status, sort, page, per_page).
	Query map[string]any `yaml:"query,omitempty"`

	// Op and Args select trace steps (trace_contains, trace_count).
	Op   string         `yaml:"op,omitempty"`
	Args map[string]any `yaml:"args,omitempty"`

	// Ops is the expected order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number of steps (trace_count).
	Count int `yaml:"count,omitempty"`

	// Expect is matched as a subset.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertStats         = "stats"
	AssertThread        = "thread"
	AssertPost          = "post"
	AssertPuzzle        = "puzzle"
	AssertMyVote        = "my_vote"
	AssertListing       = "listing"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// Ops lists the supported step operations.
var Ops = []string{
	OpRegister, OpLogin, OpLogout, OpLoad, OpSolve, OpVote,
	OpCreateThread, OpDeleteThread, OpOpenThread,
	OpCreatePost, OpDeletePost, OpList, OpStats, OpFlush,
}

// Step operations.
const (
	OpRegister     = "register"
	OpLogin        = "login"
	OpLogout       = "logout"
	OpLoad         = "load"
	OpSolve        = "solve"
	OpVote         = "vote"
	OpCreateThread = "create_thread"
	OpDeleteThread = "delete_thread"
	OpOpenThread   = "open_thread"
	OpCreatePost   = "create_post"
	OpDeletePost   = "delete_post"
	OpList         = "list"
	OpStats        = "stats"
	OpFlush        = "flush"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.PerPage < 0 {
		return fmt.Errorf("per_page must be non-negative")
	}

	for i, u := range s.Users {
		if u.Username == "" || u.Password == "" {
			return fmt.Errorf("users[%d]: username and password are required", i)
		}
	}
	for i, f := range s.Faults {
		if f.Method == "" || f.Path == "" {
			return fmt.Errorf("faults[%d]: method and path are required", i)
		}
		if f.Status < 400 || f.Status > 599 {
			return fmt.Errorf("faults[%d]: status must be an error status", i)
		}
	}

	known := make(map[string]bool, len(Ops))
	for _, op := range Ops {
		known[op] = true
	}
	for i, step := range s.Steps {
		if step.Op == "" {
			return fmt.Errorf("steps[%d]: op is required", i)
		}
		if !known[step.Op] {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStats, AssertListing:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertThread, AssertPost, AssertPuzzle:
		if a.ID == 0 {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertMyVote:
		if a.ID == 0 || a.ItemType == "" {
			return fmt.Errorf("assertions[%d]: id and item_type are required for my_vote", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for my_vote", index)
		}
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
