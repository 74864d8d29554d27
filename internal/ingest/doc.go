// Package ingest persists externally parsed deck records into the baseline
// store.
//
// Persist favours throughput on clean input and degrades in three steps when
// the store reports a constraint violation:
//
//  1. fast: the whole batch is inserted with no existence checks
//  2. checked: a minimum-size batch is reprocessed with a natural-key lookup
//     per record, overwriting or skipping existing rows
//  3. per-record: each record of that batch gets its own transaction, so a
//     single bad record cannot take the rest down with it
//
// Duplicates are an expected outcome and are counted, never returned as
// errors. Only failures that are not constraint violations propagate.
package ingest
