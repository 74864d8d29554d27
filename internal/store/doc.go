// Package store provides the relational record store behind deckstore.
//
// The store is a passive table manager. It knows how to read and write
// baseline deck tables, their sandbox twins, the sandbox registry, the merge
// log and the per-storm revision counter, but it never decides what moves
// between baseline and sandbox. That logic lives in the ingest, sandbox,
// conflict and merge packages, which drive the store through an explicit
// transaction handle.
//
// # Tables
//
//   - One baseline table per deck type (adeck, bdeck, ..., fst) with a
//     surrogate id and, where the deck has a natural key, a UNIQUE index
//     over it. Duplicate detection relies on that index.
//   - One sandbox table per deck type (sandbox_adeck, ...) with the same
//     columns plus sandbox_id and change_cd, keyed by (sandbox_id, id).
//   - sandbox: the sandbox registry (scope, type, owner, validity, audit
//     timestamps, base and submitted revisions).
//   - deck_merge_log: one row per bulk merge, kept for rollback.
//   - deck_revision: a counter per storm and deck, bumped on every baseline
//     change made through a check-in, merge, replace or rollback.
//
// # Drivers
//
// SQLite (github.com/mattn/go-sqlite3, driver "sqlite3") is the default and
// runs with WAL, NORMAL sync, a 5 second busy timeout, foreign keys and a
// single connection. Postgres runs through pgx's database/sql adapter
// (driver "pgx"). Queries are written with ? placeholders and rebound for
// Postgres.
//
// # Time columns
//
// DTGs are stored as epoch seconds and audit timestamps as epoch nanoseconds,
// both as integers, so range comparisons behave the same on every driver.
//
// # Transactions
//
// Every read and write runs on a *Tx obtained from InTx. The handle is
// released on every exit path; a failed callback rolls back.
package store
