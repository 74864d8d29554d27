package harness

// TraceEvent records one executed step and what it produced.
type TraceEvent struct {
	Seq     int            `json:"seq"`
	Op      string         `json:"op"`
	Sandbox string         `json:"sandbox,omitempty"`
	Outcome map[string]any `json:"outcome"`
}

// FinalState summarises the store after the last step. Rows are rendered
// in id order as "id=N dtg=D TECH/TAU wind=W".
type FinalState struct {
	Rows          []string `json:"rows"`
	MergeLogs     int      `json:"merge_logs"`
	Notifications []string `json:"notifications"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// RunID distinguishes executions in logs. It is not part of the trace.
	RunID string `json:"-"`

	// Pass is true when every expect and final clause matched.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
	Final  FinalState   `json:"final"`
}

// NewResult creates a new passing result.
func NewResult(runID string) *Result {
	return &Result{
		RunID:  runID,
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Final:  FinalState{Rows: []string{}, Notifications: []string{}},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome.
func (r *Result) AddTrace(op, sandbox string, outcome map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     len(r.Trace) + 1,
		Op:      op,
		Sandbox: sandbox,
		Outcome: outcome,
	})
}
