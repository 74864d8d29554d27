package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// AssertionError describes one expect or final clause that did not hold.
type AssertionError struct {
	Step     int    // -1 for final-state checks
	Field    string // Outcome key or final field
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	if e.Step < 0 {
		fmt.Fprintf(&buf, "final %s", e.Field)
	} else {
		fmt.Fprintf(&buf, "steps[%d] %s", e.Step, e.Field)
	}
	fmt.Fprintf(&buf, ": expected %s, got %s", e.Expected, e.Actual)
	return buf.String()
}

// checkExpect compares a step outcome with its expect clause and returns a
// message for the first mismatch, or "".
//
// A step without an expect clause must not fail. Outcome keys are matched as
// a subset and values are compared by their printed form, so YAML integers
// match Go ints and YAML lists match string slices.
func checkExpect(i int, st Step, outcome map[string]any) string {
	got, failed := outcome["error"].(string)
	if st.Expect == nil {
		if failed {
			return (&AssertionError{Step: i, Field: "error", Expected: "success", Actual: got}).Error()
		}
		return ""
	}

	want := st.Expect.Error
	if want == "" {
		want = "success"
	}
	if !failed {
		got = "success"
	}
	if got != want {
		return (&AssertionError{Step: i, Field: "error", Expected: want, Actual: got}).Error()
	}

	for _, key := range slices.Sorted(maps.Keys(st.Expect.Outcome)) {
		exp := fmt.Sprint(st.Expect.Outcome[key])
		act, ok := outcome[key]
		if !ok {
			return (&AssertionError{Step: i, Field: key, Expected: exp, Actual: "<missing>"}).Error()
		}
		if fmt.Sprint(act) != exp {
			return (&AssertionError{Step: i, Field: key, Expected: exp, Actual: fmt.Sprint(act)}).Error()
		}
	}
	return ""
}

// checkFinal compares the captured state with the scenario's final clause.
func checkFinal(want *Final, got *FinalState) []string {
	if want == nil {
		return nil
	}
	var msgs []string
	check := func(field string, exp *int, act int) {
		if exp != nil && *exp != act {
			msgs = append(msgs, (&AssertionError{
				Step: -1, Field: field, Expected: fmt.Sprint(*exp), Actual: fmt.Sprint(act),
			}).Error())
		}
	}
	check("rows", want.Rows, len(got.Rows))
	check("merge_logs", want.MergeLogs, got.MergeLogs)
	check("notifications", want.Notifications, len(got.Notifications))
	return msgs
}
