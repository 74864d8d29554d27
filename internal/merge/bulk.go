package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/ingest"
	"github.com/roach88/deckstore/internal/store"
)

// replacement describes one bulk replace of a baseline selection.
type replacement struct {
	kind    string
	dt      deck.Type
	storm   deck.Storm
	records []*deck.Record
	conds   []store.Cond
}

// outcome is what a committed replace reports after the transaction.
type outcome struct {
	log    *deck.MergeLog
	result ingest.Result
	pruned int
}

// MergeRecords replaces the baseline rows whose DTG falls within the DTG
// range of records, and returns the id of the merge log written for it.
func (e *Engine) MergeRecords(ctx context.Context, dt deck.Type, records []*deck.Record) (int64, error) {
	storm, recs, err := scope(dt, records)
	if err != nil {
		return 0, fmt.Errorf("merge records: %w", err)
	}
	lo, hi := dtgRange(recs)
	out, err := e.replace(ctx, replacement{
		kind:    "dtg_range",
		dt:      dt,
		storm:   storm,
		records: recs,
		conds:   []store.Cond{store.Between("ref_time", lo, hi)},
	})
	if err != nil {
		return 0, fmt.Errorf("merge %s %s: %w", dt, storm, err)
	}
	return out.log.ID, nil
}

// ReplaceDTGsAndModels replaces exactly the A-deck rows whose DTG and
// technique both occur in records. Other techniques at the same DTGs are
// left alone.
func (e *Engine) ReplaceDTGsAndModels(ctx context.Context, records []*deck.Record) (int64, error) {
	storm, recs, err := scope(deck.A, records)
	if err != nil {
		return 0, fmt.Errorf("replace dtgs and models: %w", err)
	}
	var (
		dtgs   []time.Time
		models []string
	)
	seenT, seenM := map[time.Time]bool{}, map[string]bool{}
	for _, r := range recs {
		if !seenT[r.RefTime] {
			seenT[r.RefTime] = true
			dtgs = append(dtgs, r.RefTime)
		}
		if !seenM[r.Technique] {
			seenM[r.Technique] = true
			models = append(models, r.Technique)
		}
	}
	out, err := e.replace(ctx, replacement{
		kind:    "dtg_model",
		dt:      deck.A,
		storm:   storm,
		records: recs,
		conds:   []store.Cond{store.In("ref_time", dtgs...), store.In("technique", models...)},
	})
	if err != nil {
		return 0, fmt.Errorf("replace %s models at %d dtgs: %w", storm, len(dtgs), err)
	}
	return out.log.ID, nil
}

// replace runs the backup, replace and complete phases of a bulk merge in a
// single transaction. An ingest failure leaves the baseline, the sandboxes
// and the merge logs as they were.
func (e *Engine) replace(ctx context.Context, rp replacement) (*outcome, error) {
	now := e.clock.Now()
	l := &deck.MergeLog{
		Deck:      rp.dt,
		Storm:     rp.storm,
		SandboxID: deck.NoSandbox,
		MergeTime: now,
	}
	out := &outcome{log: l}
	var overlapping []deck.ConflictSandbox

	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if l.BaseMaxRecordID, err = tx.MaxRecordID(ctx, rp.dt, rp.storm); err != nil {
			return err
		}
		if err := e.backup(ctx, tx, l, rp, now); err != nil {
			return err
		}
		if overlapping, err = tx.OverlappingSandboxes(ctx, rp.dt, rp.storm, rp.conds...); err != nil {
			return err
		}
		if _, err := tx.DeleteRecords(ctx, rp.dt, rp.storm, rp.conds...); err != nil {
			return err
		}
		if out.result, err = e.ingest.PersistTx(ctx, tx, rp.records, false); err != nil {
			return err
		}
		if l.NewEndRecordID, err = tx.MaxRecordID(ctx, rp.dt, rp.storm); err != nil {
			return err
		}
		l.Invalidated = sandboxIDs(overlapping)
		if l.Revision, err = tx.BumpRevision(ctx, rp.dt, rp.storm); err != nil {
			return err
		}
		if _, err := tx.InsertMergeLog(ctx, l); err != nil {
			return err
		}
		pruned, err := tx.PruneMergeLogs(ctx, rp.dt, rp.storm, e.retention)
		if err != nil {
			return err
		}
		for _, p := range pruned {
			if err := dropBackup(ctx, tx, p); err != nil {
				return err
			}
		}
		out.pruned = len(pruned)
		return e.invalidate(ctx, tx, l.Invalidated, now)
	})
	if err != nil {
		return nil, err
	}

	mergesTotal.WithLabelValues(string(rp.dt), rp.kind).Inc()
	invalidatedTotal.WithLabelValues(string(rp.dt)).Add(float64(len(l.Invalidated)))
	if len(overlapping) > 0 {
		e.notifier.Notify(ctx, deck.NewNotification(now, rp.dt, rp.storm, deck.NoSandbox, deck.NotifyUser, overlapping))
	}
	e.logger.Info("merge complete",
		"kind", rp.kind,
		"deck", string(rp.dt),
		"storm", rp.storm.String(),
		"merge_log_id", l.ID,
		"backup_sandbox_id", l.SandboxID,
		"persisted", out.result.Persisted,
		"duplicates", out.result.Duplicates,
		"failed", out.result.Failed,
		"invalidated", len(l.Invalidated),
		"pruned_logs", out.pruned,
	)
	return out, nil
}

// backup copies the rows about to be replaced into a new BACKUP sandbox and
// records it on l. Nothing is created when the selection is empty.
func (e *Engine) backup(ctx context.Context, tx *store.Tx, l *deck.MergeLog, rp replacement, now time.Time) error {
	rng, err := tx.Range(ctx, rp.dt, rp.storm, rp.conds...)
	if err != nil || rng.Count == 0 {
		return err
	}
	rev, err := tx.Revision(ctx, rp.dt, rp.storm)
	if err != nil {
		return err
	}
	sb := &deck.Sandbox{
		Deck:         rp.dt,
		Storm:        rp.storm,
		Type:         deck.Backup,
		UserID:       deck.MergerUser,
		Validity:     deck.Valid,
		CreatedAt:    now,
		LastUpdated:  now,
		BaseRevision: rev,
	}
	if _, err := tx.CreateSandbox(ctx, sb); err != nil {
		return err
	}
	rows, err := tx.ListRecords(ctx, rp.dt, rp.storm, rp.conds...)
	if err != nil {
		return err
	}
	if _, err := tx.CopyToSandbox(ctx, rp.dt, sb.ID, rows, deck.Unchanged); err != nil {
		return err
	}
	begin, end := rng.BeginDTG, rng.EndDTG
	l.SandboxID = sb.ID
	l.BeginDTG = &begin
	l.EndDTG = &end
	l.EndRecordID = rng.MaxID
	return nil
}

// ReplaceDeck discards every sandbox and merge log of the records' scope,
// deletes the storm's baseline rows and persists records in their place.
// Nothing can be rolled back afterwards.
func (e *Engine) ReplaceDeck(ctx context.Context, dt deck.Type, records []*deck.Record) (ingest.Result, error) {
	var res ingest.Result
	storm, recs, err := scope(dt, records)
	if err != nil {
		return res, fmt.Errorf("replace deck: %w", err)
	}
	now := e.clock.Now()
	var (
		discarded []deck.ConflictSandbox
		deleted   int64
	)
	err = e.store.InTx(ctx, func(tx *store.Tx) error {
		sbs, err := tx.ListSandboxes(ctx, store.SandboxFilter{Deck: dt, Storm: &storm})
		if err != nil {
			return err
		}
		for _, sb := range sbs {
			if sb.Type != deck.Backup && !sb.Submitted() && sb.Validity != deck.Invalid {
				discarded = append(discarded, deck.ConflictSandbox{SandboxID: sb.ID})
			}
			if err := tx.DeleteSandbox(ctx, sb); err != nil {
				return err
			}
		}
		if _, err := tx.PruneMergeLogs(ctx, dt, storm, 0); err != nil {
			return err
		}
		if deleted, err = tx.DeleteRecords(ctx, dt, storm); err != nil {
			return err
		}
		if res, err = e.ingest.PersistTx(ctx, tx, recs, false); err != nil {
			return err
		}
		_, err = tx.BumpRevision(ctx, dt, storm)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("replace %s %s: %w", dt, storm, err)
	}

	mergesTotal.WithLabelValues(string(dt), "replace").Inc()
	if len(discarded) > 0 {
		e.notifier.Notify(ctx, deck.NewNotification(now, dt, storm, deck.NoSandbox, deck.NotifyUser, discarded))
	}
	e.logger.Info("deck replaced",
		"deck", string(dt),
		"storm", storm.String(),
		"deleted", deleted,
		"persisted", res.Persisted,
		"duplicates", res.Duplicates,
		"discarded_sandboxes", len(discarded),
	)
	return res, nil
}
