package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/deckstore/internal/conflict"
	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/sandbox"
	"github.com/roach88/deckstore/internal/store"
	"github.com/roach88/deckstore/internal/testutil"
)

const defaultUser = "forecaster"

// execute runs one step and returns its outcome.
func (h *Harness) execute(ctx context.Context, st Step) (map[string]any, error) {
	switch st.Op {
	case OpIngest:
		res, err := h.ingest.Persist(ctx, h.records(st.Records), st.Overwrite)
		if err != nil {
			return nil, err
		}
		return map[string]any{"persisted": res.Persisted, "duplicates": res.Duplicates, "failed": res.Failed}, nil

	case OpCheckout, OpCheckoutDTG:
		return h.checkout(ctx, st)

	case OpAdd:
		id, err := h.sandboxID(st.Sandbox)
		if err != nil {
			return nil, err
		}
		recordID, err := h.sandbox.AddNew(ctx, id, h.record(*st.Record))
		if err != nil {
			return nil, err
		}
		return map[string]any{"record_id": recordID}, nil

	case OpModify, OpDelete, OpUndo:
		return h.edit(ctx, st)

	case OpCheckIn:
		id, err := h.sandboxID(st.Sandbox)
		if err != nil {
			return nil, err
		}
		conflicts, err := h.merge.CheckIn(ctx, h.deck, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"conflicts": h.conflictNames(conflicts)}, nil

	case OpConflicts:
		id, err := h.sandboxID(st.Sandbox)
		if err != nil {
			return nil, err
		}
		set, err := h.resolver.FindConflicts(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"conflicts": len(set.Conflicts),
			"new":       set.Totals[deck.New],
			"modified":  set.Totals[deck.Modified],
			"deleted":   set.Totals[deck.Deleted],
		}, nil

	case OpResolve:
		return h.resolve(ctx, st)

	case OpMerge, OpReplaceModels:
		return h.bulkMerge(ctx, st)

	case OpReplaceDeck:
		res, err := h.merge.ReplaceDeck(ctx, h.deck, h.records(st.Records))
		if err != nil {
			return nil, err
		}
		return map[string]any{"persisted": res.Persisted}, nil

	case OpRollback:
		return h.rollback(ctx)

	case OpDiscard:
		id, err := h.sandboxID(st.Sandbox)
		if err != nil {
			return nil, err
		}
		return map[string]any{}, h.sandbox.Discard(ctx, id)

	case OpInspect:
		id, err := h.sandboxID(st.Sandbox)
		if err != nil {
			return nil, err
		}
		sb, err := h.sandbox.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := h.sandbox.ListChanged(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"validity":  sb.Validity.String(),
			"submitted": sb.Submitted(),
			"changed":   len(changed),
		}, nil
	}
	return nil, fmt.Errorf("unknown op %q", st.Op)
}

func (h *Harness) checkout(ctx context.Context, st Step) (map[string]any, error) {
	user := st.User
	if user == "" {
		user = defaultUser
	}
	req := sandbox.CheckoutRequest{Deck: h.deck, Storm: h.storm, User: user}

	var (
		id  int64
		err error
	)
	if st.Op == OpCheckoutDTG {
		// A known alias extends its sandbox.
		id, err = h.sandbox.CheckoutDTG(ctx, h.aliases[st.Sandbox], req, testutil.DTG(*st.DTG))
	} else {
		id, err = h.sandbox.Checkout(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	h.bind(st.Sandbox, id)

	rows, err := h.sandbox.Records(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return map[string]any{"rows": len(rows)}, nil
}

// edit runs modify, delete and undo. The target is looked up by natural key
// in the sandbox first, so records added there can be edited too.
func (h *Harness) edit(ctx context.Context, st Step) (map[string]any, error) {
	id, err := h.sandboxID(st.Sandbox)
	if err != nil {
		return nil, err
	}
	rec := h.record(*st.Record)
	target, err := h.locate(ctx, id, rec)
	if err != nil {
		return nil, err
	}

	switch st.Op {
	case OpModify:
		rec.ID = target
		recordID, err := h.sandbox.Modify(ctx, id, rec, deck.EditExisting)
		if err != nil {
			return nil, err
		}
		return map[string]any{"record_id": recordID}, nil
	case OpDelete:
		rec.ID = target
		return map[string]any{"record_id": target}, h.sandbox.MarkDeleted(ctx, id, rec)
	default:
		return map[string]any{"record_id": target}, h.sandbox.Undo(ctx, id, target)
	}
}

// locate returns the id the sandbox or the baseline knows rec's natural key
// under. Unknown records yield STALE_RECORD.
func (h *Harness) locate(ctx context.Context, sandboxID int64, rec *deck.Record) (int64, error) {
	rows, err := h.sandbox.Records(ctx, sandboxID, true,
		store.Eq("ref_time", rec.RefTime), store.Eq("technique", rec.Technique), store.Eq("fcst_hour", rec.FcstHour))
	if err != nil {
		return 0, err
	}
	if len(rows) > 0 {
		return rows[0].ID, nil
	}

	var (
		id    int64
		found bool
	)
	err = h.store.InTx(ctx, func(tx *store.Tx) error {
		id, found, err = tx.FindByNaturalKey(ctx, rec)
		return err
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &deck.Error{Code: deck.CodeStaleRecord, Message: "no record with that key", SandboxID: sandboxID}
	}
	return id, nil
}

func (h *Harness) resolve(ctx context.Context, st Step) (map[string]any, error) {
	id, err := h.sandboxID(st.Sandbox)
	if err != nil {
		return nil, err
	}
	set, err := h.resolver.FindConflicts(ctx, id)
	if err != nil {
		return nil, err
	}
	decisions := make(map[int64]conflict.Decision, len(set.Conflicts))
	for _, c := range set.Conflicts {
		decisions[c.RecordID] = conflict.Decision{Choice: conflict.Choice(st.Choice)}
	}
	resolved, err := h.resolver.Resolve(ctx, id, decisions)
	if err != nil {
		return nil, err
	}
	return map[string]any{"resolved": len(resolved.Conflicts)}, nil
}

func (h *Harness) bulkMerge(ctx context.Context, st Step) (map[string]any, error) {
	recs := h.records(st.Records)
	var (
		logID int64
		err   error
	)
	if st.Op == OpReplaceModels {
		logID, err = h.merge.ReplaceDTGsAndModels(ctx, recs)
	} else {
		logID, err = h.merge.MergeRecords(ctx, h.deck, recs)
	}
	if err != nil {
		return nil, err
	}

	logs, err := h.merge.MergeLogs(ctx, h.deck, h.storm)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		if l.ID != logID {
			continue
		}
		if l.SandboxID != deck.NoSandbox {
			h.bind(fmt.Sprintf("backup%d", logID), l.SandboxID)
		}
		return map[string]any{
			"merge_log_id": logID,
			"backup":       l.SandboxID != deck.NoSandbox,
			"invalidated":  h.names(l.Invalidated),
		}, nil
	}
	return nil, fmt.Errorf("merge log %d not listed after merge", logID)
}

// rollback undoes the newest merge.
func (h *Harness) rollback(ctx context.Context) (map[string]any, error) {
	logs, err := h.merge.MergeLogs(ctx, h.deck, h.storm)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, &deck.Error{Code: deck.CodeMergeLogNotFound, Message: "no merge to roll back"}
	}
	ids, err := h.merge.Rollback(ctx, h.deck, logs[0].ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"merge_log_id": logs[0].ID, "invalidated": h.names(ids)}, nil
}

func (h *Harness) bind(alias string, id int64) {
	if alias == "" {
		return
	}
	h.aliases[alias] = id
	h.labels[id] = alias
}

func (h *Harness) sandboxID(alias string) (int64, error) {
	id, ok := h.aliases[alias]
	if !ok {
		return 0, &deck.Error{Code: deck.CodeSandboxNotFound, Message: fmt.Sprintf("no sandbox bound to %q", alias)}
	}
	return id, nil
}

// name renders a sandbox id by its alias, or "#id" when it has none.
func (h *Harness) name(id int64) string {
	if alias, ok := h.labels[id]; ok {
		return alias
	}
	return fmt.Sprintf("#%d", id)
}

func (h *Harness) names(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = h.name(id)
	}
	sort.Strings(out)
	return out
}

// conflictNames renders conflict entries as "alias" or "alias@dtgIndex".
func (h *Harness) conflictNames(cs []deck.ConflictSandbox) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = h.name(c.SandboxID)
		if c.DTG != nil {
			out[i] += fmt.Sprintf("@%d", dtgIndex(*c.DTG))
		}
	}
	return out
}

func dtgIndex(t time.Time) int {
	return int(t.Sub(testutil.Epoch) / (6 * time.Hour))
}

// record builds the record a spec names: the seed grid's values for its
// coordinates, overlaid with Set.
func (h *Harness) record(spec RecordSpec) *deck.Record {
	tech := spec.Technique
	if tech == "" {
		tech = "T00"
	}
	rec := testutil.Record(h.deck, h.storm, testutil.DTG(spec.DTG), tech, spec.Tau)
	if len(spec.Set) == 0 {
		return rec
	}
	// Set is applied through the record's JSON form so field names match
	// what the loader accepts.
	patch, err := json.Marshal(spec.Set)
	if err == nil {
		err = json.Unmarshal(patch, rec)
	}
	if err != nil {
		h.logger.Warn("ignoring record overrides", "set", spec.Set, "error", err)
	}
	return rec
}

func (h *Harness) records(specs []RecordSpec) []*deck.Record {
	out := make([]*deck.Record, len(specs))
	for i, s := range specs {
		out[i] = h.record(s)
	}
	return out
}

func (h *Harness) captureFinal(ctx context.Context, final *FinalState) error {
	recs, err := h.store.Records(ctx, h.deck, h.storm)
	if err != nil {
		return err
	}
	for _, r := range recs {
		final.Rows = append(final.Rows, formatRow(r))
	}
	logs, err := h.merge.MergeLogs(ctx, h.deck, h.storm)
	if err != nil {
		return err
	}
	final.MergeLogs = len(logs)
	for _, n := range h.notes.Notifications() {
		final.Notifications = append(final.Notifications, h.formatNotification(n))
	}
	return nil
}

func formatRow(r *deck.Record) string {
	return fmt.Sprintf("id=%d dtg=%d %s/%d wind=%g", r.ID, dtgIndex(r.RefTime), r.Technique, r.FcstHour, r.WindMax)
}

func (h *Harness) formatNotification(n deck.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s user=%s", n.Deck, n.Storm, n.User)
	if n.SandboxID != deck.NoSandbox {
		fmt.Fprintf(&b, " sandbox=%s", h.name(n.SandboxID))
	}
	if len(n.Conflicts) > 0 {
		fmt.Fprintf(&b, " conflicts=%s", strings.Join(h.conflictNames(n.Conflicts), ","))
	}
	return b.String()
}
