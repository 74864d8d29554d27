// Package conflict compares a sandbox's pending edits with the baseline
// changes checked in since the sandbox was taken, and rebases sandboxes onto
// the current baseline.
//
// The baseline-side change set is rebuilt from submitted sandboxes: every
// check-in bumps the storm's revision and stamps the sandbox with it, so the
// changed rows of sandboxes submitted after a sandbox's base revision are
// exactly the edits it has not seen. When two submissions touch the same
// record, the later one wins.
package conflict

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/store"
)

// baselineChange is one record changed by a submitted sandbox.
type baselineChange struct {
	sandboxID int64
	record    *deck.SandboxRecord
}

// changeSet is the baseline side of a comparison.
type changeSet struct {
	byID      map[int64]baselineChange
	order     []int64
	sandboxID int64
}

// baselineChanges collects the changes submitted for sb's scope after its
// base revision.
func baselineChanges(ctx context.Context, tx *store.Tx, sb *deck.Sandbox) (*changeSet, error) {
	subs, err := tx.SubmittedSince(ctx, sb.Deck, sb.Storm, sb.BaseRevision)
	if err != nil {
		return nil, err
	}
	cs := &changeSet{byID: map[int64]baselineChange{}, sandboxID: deck.NoSandbox}
	for _, sub := range subs {
		if sub.ID == sb.ID {
			continue
		}
		rows, err := tx.ListSandboxRecords(ctx, sub.Deck, sub.ID, store.SandboxRecordQuery{ChangedOnly: true})
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if _, seen := cs.byID[r.ID]; !seen {
				cs.order = append(cs.order, r.ID)
			}
			cs.byID[r.ID] = baselineChange{sandboxID: sub.ID, record: r}
		}
		cs.sandboxID = sub.ID
	}
	return cs, nil
}

func (cs *changeSet) totals() map[deck.ChangeCode]int {
	t := map[deck.ChangeCode]int{deck.New: 0, deck.Modified: 0, deck.Deleted: 0}
	for _, c := range cs.byID {
		t[c.record.Change]++
	}
	return t
}

// Find compares sb with the baseline changes it has not seen. Only record ids
// changed on both sides are conflicts; each carries both versions and the
// fields that differ.
func Find(ctx context.Context, tx *store.Tx, sb *deck.Sandbox) (*deck.ConflictMergingRecordSet, error) {
	cs, err := baselineChanges(ctx, tx, sb)
	if err != nil {
		return nil, err
	}
	set := &deck.ConflictMergingRecordSet{
		SandboxID:         sb.ID,
		ScopeCode:         sb.ScopeCode,
		BaselineSandboxID: cs.sandboxID,
		Totals:            cs.totals(),
		Conflicts:         []deck.ConflictRecordPair{},
	}
	if len(cs.byID) == 0 {
		return set, nil
	}

	mine, err := tx.ListSandboxRecords(ctx, sb.Deck, sb.ID, store.SandboxRecordQuery{ChangedOnly: true})
	if err != nil {
		return nil, err
	}
	for _, m := range mine {
		theirs, ok := cs.byID[m.ID]
		if !ok {
			continue
		}
		base, merging := theirs.record.Record, m.Record
		set.Conflicts = append(set.Conflicts, deck.ConflictRecordPair{
			RecordID:          m.ID,
			BaselineChange:    theirs.record.Change,
			MergingChange:     m.Change,
			Baseline:          &base,
			Merging:           &merging,
			Fields:            deck.DiffFields(&base, &merging),
			BaselineSandboxID: theirs.sandboxID,
		})
	}
	return set, nil
}

// Summarize is Find without the record pairs: change totals and the baseline
// sandbox id only.
func Summarize(ctx context.Context, tx *store.Tx, sb *deck.Sandbox) (*deck.ConflictMergingRecordSet, error) {
	cs, err := baselineChanges(ctx, tx, sb)
	if err != nil {
		return nil, err
	}
	return &deck.ConflictMergingRecordSet{
		SandboxID:         sb.ID,
		ScopeCode:         sb.ScopeCode,
		BaselineSandboxID: cs.sandboxID,
		Totals:            cs.totals(),
	}, nil
}

// Options configures a Resolver.
type Options struct {
	Clock  deck.Clock
	Logger *slog.Logger
}

// Resolver runs conflict detection and resolution in their own transactions.
type Resolver struct {
	store  *store.Store
	clock  deck.Clock
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by s.
func NewResolver(s *store.Store, opts Options) *Resolver {
	r := &Resolver{store: s, clock: opts.Clock, logger: opts.Logger}
	if r.clock == nil {
		r.clock = deck.SystemClock{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// FindConflicts loads the sandbox and runs Find.
func (r *Resolver) FindConflicts(ctx context.Context, sandboxID int64) (*deck.ConflictMergingRecordSet, error) {
	var set *deck.ConflictMergingRecordSet
	err := r.store.InTx(ctx, func(tx *store.Tx) error {
		sb, err := tx.GetSandbox(ctx, sandboxID)
		if err != nil {
			return err
		}
		set, err = Find(ctx, tx, sb)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find conflicts for sandbox %d: %w", sandboxID, err)
	}
	return set, nil
}
