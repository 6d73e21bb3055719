package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Op      string         `json:"op"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"` // "ok" or an error code
	Result  any            `json:"result,omitempty"`
}

// OutcomeOK marks a successful step.
const OutcomeOK = "ok"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success: every step met its expect
	// clause and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains all executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Listing is the final thread listing, one page with every thread.
	Listing []ListingRow `json:"listing"`

	// Stats are the final aggregate stats.
	Stats map[string]any `json:"stats"`
}

// ListingRow is one thread as the listing shows it.
type ListingRow struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Author   string `json:"author"`
	Unlocked bool   `json:"unlocked"`
	Gate     string `json:"gate"`
	Net      string `json:"net"`
	Comments string `json:"comments"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
