package merge

import (
	"context"
	"fmt"

	"github.com/roach88/deckstore/internal/conflict"
	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/sandbox"
	"github.com/roach88/deckstore/internal/store"
)

// CheckIn promotes a sandbox's changes into the baseline. When the baseline
// moved since the sandbox was taken and any changed record was also changed
// there, the conflicting sandboxes are returned and nothing is written.
// Otherwise the changes are applied, the sandbox is marked submitted and an
// empty list is returned.
func (e *Engine) CheckIn(ctx context.Context, dt deck.Type, sandboxID int64) ([]deck.ConflictSandbox, error) {
	var (
		sb        *deck.Sandbox
		conflicts []deck.ConflictSandbox
		applied   map[deck.ChangeCode]int
		rev       int64
	)
	now := e.clock.Now()
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if sb, err = sandbox.LoadEditable(ctx, tx, sandboxID); err != nil {
			return err
		}
		if sb.Deck != dt {
			return &deck.Error{
				Code:      deck.CodeWrongDeck,
				Message:   fmt.Sprintf("sandbox holds %s records, not %s", sb.Deck, dt),
				SandboxID: sb.ID,
			}
		}
		if rev, err = tx.Revision(ctx, sb.Deck, sb.Storm); err != nil {
			return err
		}
		if rev != sb.BaseRevision {
			set, err := conflict.Find(ctx, tx, sb)
			if err != nil {
				return err
			}
			if set.HasConflicts() {
				conflicts = conflictSandboxes(sb.Deck, set)
				return nil
			}
		}
		if applied, err = apply(ctx, tx, sb); err != nil {
			return err
		}
		if rev, err = tx.BumpRevision(ctx, sb.Deck, sb.Storm); err != nil {
			return err
		}
		return tx.MarkSubmitted(ctx, sb.ID, now, rev)
	})
	if err != nil {
		checkinsTotal.WithLabelValues(string(dt), "error").Inc()
		return nil, fmt.Errorf("check in sandbox %d: %w", sandboxID, err)
	}

	log := e.logger.With("sandbox_id", sb.ID, "deck", string(sb.Deck), "storm", sb.Storm.String(), "user", sb.UserID)
	if len(conflicts) > 0 {
		checkinsTotal.WithLabelValues(string(dt), "conflict").Inc()
		log.Info("check-in blocked by conflicts", "conflicting_sandboxes", len(conflicts))
		return conflicts, nil
	}
	checkinsTotal.WithLabelValues(string(dt), "submitted").Inc()
	e.notifier.Notify(ctx, deck.NewNotification(now, sb.Deck, sb.Storm, sb.ID, sb.UserID, nil))
	log.Info("sandbox checked in",
		"revision", rev,
		"new", applied[deck.New],
		"modified", applied[deck.Modified],
		"deleted", applied[deck.Deleted],
	)
	return []deck.ConflictSandbox{}, nil
}

// apply writes sb's changed rows to the baseline. NEW rows get real ids and
// the sandbox copy is renumbered to match.
func apply(ctx context.Context, tx *store.Tx, sb *deck.Sandbox) (map[deck.ChangeCode]int, error) {
	rows, err := tx.ListSandboxRecords(ctx, sb.Deck, sb.ID, store.SandboxRecordQuery{ChangedOnly: true})
	if err != nil {
		return nil, err
	}
	counts := map[deck.ChangeCode]int{}
	for _, row := range rows {
		switch row.Change {
		case deck.New:
			rec := row.Record.Clone()
			rec.ID = 0
			id, err := tx.InsertRecord(ctx, rec)
			if store.IsUniqueViolation(err) {
				return nil, &deck.Error{
					Code:      deck.CodeDuplicateRecord,
					Message:   "new record duplicates a baseline record",
					SandboxID: sb.ID,
					RecordID:  row.ID,
				}
			}
			if err != nil {
				return nil, err
			}
			if err := tx.ReassignSandboxRecordID(ctx, sb.Deck, sb.ID, row.ID, id); err != nil {
				return nil, err
			}
		case deck.Modified:
			ok, err := tx.UpdateRecord(ctx, &row.Record)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &deck.Error{
					Code:      deck.CodeStaleRecord,
					Message:   "modified record no longer exists in the baseline",
					SandboxID: sb.ID,
					RecordID:  row.ID,
				}
			}
		case deck.Deleted:
			ok, err := tx.DeleteRecord(ctx, sb.Deck, row.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &deck.Error{Code: deck.CodeStaleRecord, Message: "deleted record no longer exists in the baseline", SandboxID: sb.ID, RecordID: row.ID}
			}
		}
		counts[row.Change]++
	}
	return counts, nil
}

// conflictSandboxes lists the baseline-side sandboxes behind set's
// conflicts. A-deck entries are per DTG.
func conflictSandboxes(dt deck.Type, set *deck.ConflictMergingRecordSet) []deck.ConflictSandbox {
	type key struct {
		id  int64
		dtg int64
	}
	seen := map[key]bool{}
	out := []deck.ConflictSandbox{}
	for _, p := range set.Conflicts {
		k := key{id: p.BaselineSandboxID}
		var entry deck.ConflictSandbox
		entry.SandboxID = p.BaselineSandboxID
		if dt == deck.A {
			dtg := p.Merging.RefTime
			k.dtg = dtg.Unix()
			entry.DTG = &dtg
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, entry)
	}
	return out
}

// Mergeable reports how far the baseline moved since the sandbox was taken,
// without record-level diffs.
func (e *Engine) Mergeable(ctx context.Context, sandboxID int64) (*deck.ConflictMergingRecordSet, error) {
	var set *deck.ConflictMergingRecordSet
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		sb, err := tx.GetSandbox(ctx, sandboxID)
		if err != nil {
			return err
		}
		set, err = conflict.Summarize(ctx, tx, sb)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mergeable sandbox %d: %w", sandboxID, err)
	}
	return set, nil
}
