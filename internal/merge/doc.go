// Package merge moves records into the baseline.
//
// Bulk merges replace a DTG range (or an exact DTG x technique selection)
// with externally supplied records. The replaced rows are first copied into
// a BACKUP sandbox and the merge is logged, so the latest merge of a storm's
// deck can be rolled back. Open sandboxes holding rows in the replaced range
// are invalidated and announced through the notifier.
//
// Check-in promotes a user's sandbox. When the baseline moved since the
// sandbox was taken, conflicting records block the check-in and are returned
// to the caller; nothing is written in that case.
//
// Each operation runs in a single transaction. Overlapping bulk merges are
// not serialised against each other: the last writer invalidates whatever
// sandboxes it overlaps.
package merge
