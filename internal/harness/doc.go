// Package harness runs YAML scenarios against a real deckstore stack.
//
// A scenario seeds one storm's deck, then walks a list of steps (ingest,
// checkout, edits, check-in, conflict resolution, bulk merges, rollback)
// against a fresh in-memory SQLite store. Every step is recorded in a trace
// together with its outcome; sandboxes are referred to by the aliases the
// scenario gives them, so traces do not depend on database ids.
//
// Each step may carry an expect clause, a subset match on its outcome, and a
// scenario may end with a final clause checking the baseline and merge logs.
// Mismatches fail the result; they are not Go errors.
//
// # Golden traces
//
// RunWithGolden compares the trace and final state against
// testdata/golden/{name}.golden with goldie. Regenerate with:
//
//	go test ./internal/harness -update
//
// Scenario time comes from a deterministic clock, so traces are
// reproducible.
package harness
