package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/deckstore/internal/deck"
)

// Scenario is one scripted session against a storm's deck.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Deck and Storm scope every step, e.g. "A" and "AL092021".
	Deck  string `yaml:"deck"`
	Storm string `yaml:"storm"`

	// Retention overrides the merge-log retention (default 3).
	Retention int `yaml:"retention,omitempty"`

	// Seed fills the baseline before the first step.
	Seed *Seed `yaml:"seed,omitempty"`

	Steps []Step `yaml:"steps"`

	// Final is checked against the state after the last step.
	Final *Final `yaml:"final,omitempty"`
}

// Seed describes a grid of baseline records: DTGs 0..DTGs-1, techniques
// T00..T(n-1) and forecast hours 0, 12, ...
type Seed struct {
	DTGs       int `yaml:"dtgs"`
	Techniques int `yaml:"techniques"`
	Taus       int `yaml:"taus"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	// Sandbox is the alias of the sandbox the step works on. Checkout steps
	// bind it.
	Sandbox string `yaml:"sandbox,omitempty"`

	User      string       `yaml:"user,omitempty"`
	DTG       *int         `yaml:"dtg,omitempty"`
	Record    *RecordSpec  `yaml:"record,omitempty"`
	Records   []RecordSpec `yaml:"records,omitempty"`
	Overwrite bool         `yaml:"overwrite,omitempty"`

	// Choice resolves every conflict of a resolve step.
	Choice string `yaml:"choice,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// RecordSpec names a record by its grid coordinates. Set overrides fields by
// their JSON names, e.g. wind_max.
type RecordSpec struct {
	DTG       int            `yaml:"dtg"`
	Technique string         `yaml:"technique,omitempty"`
	Tau       int            `yaml:"tau,omitempty"`
	Set       map[string]any `yaml:"set,omitempty"`
}

// Expect is a subset match on a step's outcome. Error is a domain error code;
// an empty Error expects success.
type Expect struct {
	Error   string         `yaml:"error,omitempty"`
	Outcome map[string]any `yaml:"outcome,omitempty"`
}

// Final checks the end state. Nil fields are not checked.
type Final struct {
	Rows          *int `yaml:"rows,omitempty"`
	MergeLogs     *int `yaml:"merge_logs,omitempty"`
	Notifications *int `yaml:"notifications,omitempty"`
}

// Step operations.
const (
	OpIngest        = "ingest"
	OpCheckout      = "checkout"
	OpCheckoutDTG   = "checkout_dtg"
	OpAdd           = "add"
	OpModify        = "modify"
	OpDelete        = "delete"
	OpUndo          = "undo"
	OpCheckIn       = "checkin"
	OpConflicts     = "conflicts"
	OpResolve       = "resolve"
	OpMerge         = "merge"
	OpReplaceModels = "replace_models"
	OpReplaceDeck   = "replace_deck"
	OpRollback      = "rollback"
	OpDiscard       = "discard"
	OpInspect       = "inspect"
)

var sandboxOps = map[string]bool{
	OpCheckout: true, OpCheckoutDTG: true, OpAdd: true, OpModify: true, OpDelete: true,
	OpUndo: true, OpCheckIn: true, OpConflicts: true, OpResolve: true, OpDiscard: true,
	OpInspect: true,
}

var recordOps = map[string]bool{OpAdd: true, OpModify: true, OpDelete: true, OpUndo: true}

var batchOps = map[string]bool{OpIngest: true, OpMerge: true, OpReplaceModels: true, OpReplaceDeck: true}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := deck.ParseType(s.Deck); err != nil {
		return err
	}
	if _, err := deck.ParseStorm(s.Storm); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step) error {
	switch st.Op {
	case OpIngest, OpCheckout, OpCheckoutDTG, OpAdd, OpModify, OpDelete, OpUndo, OpCheckIn,
		OpConflicts, OpResolve, OpMerge, OpReplaceModels, OpReplaceDeck, OpRollback, OpDiscard, OpInspect:
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
	}
	if sandboxOps[st.Op] && st.Sandbox == "" {
		return fmt.Errorf("steps[%d]: sandbox alias is required for %s", i, st.Op)
	}
	if recordOps[st.Op] && st.Record == nil {
		return fmt.Errorf("steps[%d]: record is required for %s", i, st.Op)
	}
	if batchOps[st.Op] && len(st.Records) == 0 {
		return fmt.Errorf("steps[%d]: records are required for %s", i, st.Op)
	}
	if st.Op == OpCheckoutDTG && st.DTG == nil {
		return fmt.Errorf("steps[%d]: dtg is required for %s", i, st.Op)
	}
	if st.Op == OpResolve {
		switch st.Choice {
		case "sandbox", "baseline":
		default:
			return fmt.Errorf("steps[%d]: choice must be sandbox or baseline", i)
		}
	}
	return nil
}
