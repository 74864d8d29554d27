package conflict

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/sandbox"
	"github.com/roach88/deckstore/internal/store"
)

// Choice selects which side of a conflict survives a rebase.
type Choice string

const (
	UseSandbox  Choice = "sandbox"
	UseBaseline Choice = "baseline"
	Merged      Choice = "merged"
)

// Decision resolves one conflicting record. Merged requires Record.
type Decision struct {
	Choice Choice       `json:"choice" yaml:"choice"`
	Record *deck.Record `json:"record,omitempty" yaml:"record,omitempty"`
}

// Resolve rebases an editing sandbox onto the current baseline. Every
// conflict needs a decision or the call fails with UNRESOLVED_CONFLICTS and
// changes nothing. Baseline changes that do not conflict are folded into the
// sandbox's unedited rows. Afterwards the sandbox's base revision is the
// current one and it is valid again. Returns the conflicts that were
// resolved.
func (r *Resolver) Resolve(ctx context.Context, sandboxID int64, decisions map[int64]Decision) (*deck.ConflictMergingRecordSet, error) {
	var (
		set    *deck.ConflictMergingRecordSet
		folded int
		rev    int64
	)
	err := r.store.InTx(ctx, func(tx *store.Tx) error {
		sb, err := sandbox.LoadEditable(ctx, tx, sandboxID)
		if err != nil {
			return err
		}
		if set, err = Find(ctx, tx, sb); err != nil {
			return err
		}
		if err := checkDecisions(sb.ID, set, decisions); err != nil {
			return err
		}
		cs, err := baselineChanges(ctx, tx, sb)
		if err != nil {
			return err
		}
		if folded, err = rebase(ctx, tx, sb, cs, set, decisions); err != nil {
			return err
		}
		if rev, err = tx.Revision(ctx, sb.Deck, sb.Storm); err != nil {
			return err
		}
		return tx.RebaseSandbox(ctx, sb.ID, rev, sandbox.ValidityFor(sb), r.clock.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox %d: %w", sandboxID, err)
	}
	r.logger.Info("sandbox rebased",
		"sandbox_id", sandboxID,
		"conflicts", len(set.Conflicts),
		"folded", folded,
		"base_revision", rev,
	)
	return set, nil
}

func checkDecisions(sandboxID int64, set *deck.ConflictMergingRecordSet, decisions map[int64]Decision) error {
	var missing []string
	for _, p := range set.Conflicts {
		d, ok := decisions[p.RecordID]
		switch {
		case !ok:
		case d.Choice == UseSandbox, d.Choice == UseBaseline:
			continue
		case d.Choice == Merged && d.Record != nil:
			continue
		}
		missing = append(missing, fmt.Sprint(p.RecordID))
	}
	if len(missing) == 0 {
		return nil
	}
	return &deck.Error{
		Code:      deck.CodeUnresolvedConflicts,
		Message:   "no usable decision for records " + strings.Join(missing, ", "),
		SandboxID: sandboxID,
	}
}

// rebase applies the decisions and folds the remaining baseline changes into
// the sandbox. Returns how many non-conflicting changes were folded in.
func rebase(ctx context.Context, tx *store.Tx, sb *deck.Sandbox, cs *changeSet, set *deck.ConflictMergingRecordSet, decisions map[int64]Decision) (int, error) {
	held := map[int64]*deck.SandboxRecord{}
	dtgs := map[time.Time]bool{}
	rows, err := tx.ListSandboxRecords(ctx, sb.Deck, sb.ID, store.SandboxRecordQuery{})
	if err != nil {
		return 0, err
	}
	for _, sr := range rows {
		held[sr.ID] = sr
		dtgs[sr.RefTime] = true
	}
	conflicting := map[int64]bool{}
	for _, p := range set.Conflicts {
		conflicting[p.RecordID] = true
	}

	ids := append([]int64(nil), cs.order...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	folded := 0
	for _, id := range ids {
		current, err := tx.GetRecord(ctx, sb.Deck, id)
		if err != nil {
			return folded, err
		}
		mine, holds := held[id]

		if conflicting[id] {
			if err := decide(ctx, tx, sb, mine, current, decisions[id]); err != nil {
				return folded, err
			}
			continue
		}

		switch {
		case current == nil && holds:
			err = tx.DeleteSandboxRecord(ctx, sb.Deck, sb.ID, id)
		case current == nil:
			continue
		case holds:
			err = upsert(ctx, tx, sb.ID, current, id, deck.Unchanged)
		case cs.byID[id].record.Change == deck.New && covers(sb, dtgs, current):
			err = upsert(ctx, tx, sb.ID, current, id, deck.Unchanged)
		default:
			continue
		}
		if err != nil {
			return folded, err
		}
		folded++
	}
	return folded, nil
}

// decide applies one conflict decision. A record the baseline no longer has
// can only survive as a NEW record under a fresh provisional id.
func decide(ctx context.Context, tx *store.Tx, sb *deck.Sandbox, mine *deck.SandboxRecord, current *deck.Record, d Decision) error {
	switch d.Choice {
	case UseBaseline:
		if current == nil {
			return tx.DeleteSandboxRecord(ctx, sb.Deck, sb.ID, mine.ID)
		}
		return upsert(ctx, tx, sb.ID, current, mine.ID, deck.Unchanged)

	case UseSandbox:
		if current != nil {
			return nil
		}
		if mine.Change == deck.Deleted {
			return tx.DeleteSandboxRecord(ctx, sb.Deck, sb.ID, mine.ID)
		}
		return readd(ctx, tx, sb, &mine.Record, mine.ID)

	case Merged:
		rec := d.Record.Clone()
		rec.Deck, rec.Basin, rec.Year, rec.CycloneNum = sb.Deck, sb.Storm.Basin, sb.Storm.Year, sb.Storm.CycloneNum
		if current == nil {
			return readd(ctx, tx, sb, rec, mine.ID)
		}
		return upsert(ctx, tx, sb.ID, rec, mine.ID, deck.Modified)
	}
	return fmt.Errorf("unknown conflict choice %q", d.Choice)
}

func readd(ctx context.Context, tx *store.Tx, sb *deck.Sandbox, rec *deck.Record, oldID int64) error {
	if err := tx.DeleteSandboxRecord(ctx, sb.Deck, sb.ID, oldID); err != nil {
		return err
	}
	pid, err := tx.NextProvisionalID(ctx, sb.Deck, sb.ID)
	if err != nil {
		return err
	}
	return upsert(ctx, tx, sb.ID, rec, pid, deck.New)
}

// covers reports whether a baseline record belongs in the sandbox's view.
// A-deck sandboxes may hold single DTG slices and forecast-track sandboxes
// start empty, so those only take records at DTGs they already hold.
func covers(sb *deck.Sandbox, dtgs map[time.Time]bool, r *deck.Record) bool {
	if sb.Deck == deck.A || sb.Deck == deck.ForecastTrack {
		return dtgs[r.RefTime]
	}
	return true
}

func upsert(ctx context.Context, tx *store.Tx, sandboxID int64, rec *deck.Record, id int64, change deck.ChangeCode) error {
	sr := &deck.SandboxRecord{Record: *rec.Clone(), SandboxID: sandboxID, Change: change}
	sr.ID = id
	return tx.UpsertSandboxRecord(ctx, sr)
}
