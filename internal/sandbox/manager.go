// Package sandbox manages per-user working copies of a storm's deck.
//
// A sandbox holds a copy of the baseline rows it was checked out with plus
// the user's pending edits, each row tagged with a change code. The baseline
// is never touched here; check-in lives in the merge package.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/store"
)

// Options configures a Manager.
type Options struct {
	Clock  deck.Clock
	Logger *slog.Logger
}

// Manager creates, edits and removes sandboxes.
type Manager struct {
	store  *store.Store
	clock  deck.Clock
	logger *slog.Logger
}

// New creates a Manager backed by s.
func New(s *store.Store, opts Options) *Manager {
	m := &Manager{store: s, clock: opts.Clock, logger: opts.Logger}
	if m.clock == nil {
		m.clock = deck.SystemClock{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// CheckoutRequest describes the sandbox to create.
type CheckoutRequest struct {
	Deck      deck.Type
	Storm     deck.Storm
	StormName string
	User      string

	// Type is CHECKOUT (the default) or SAFEMODE.
	Type deck.SandboxType
}

func (r CheckoutRequest) validate() error {
	if !r.Deck.Valid() {
		return &deck.Error{Code: deck.CodeUnknownDeck, Message: fmt.Sprintf("unknown deck type %q", r.Deck)}
	}
	if err := r.Storm.Validate(); err != nil {
		return err
	}
	switch r.Type {
	case "", deck.Checkout, deck.SafeMode:
	default:
		return fmt.Errorf("cannot check out a %s sandbox", r.Type)
	}
	if r.User == "" {
		return fmt.Errorf("checkout requires a user")
	}
	return nil
}

// create registers an empty sandbox for req at the current baseline revision.
func (m *Manager) create(ctx context.Context, tx *store.Tx, req CheckoutRequest) (*deck.Sandbox, error) {
	rev, err := tx.Revision(ctx, req.Deck, req.Storm)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	sb := &deck.Sandbox{
		Deck:         req.Deck,
		Storm:        req.Storm,
		StormName:    req.StormName,
		Type:         deck.Checkout,
		UserID:       req.User,
		Validity:     deck.Valid,
		CreatedAt:    now,
		LastUpdated:  now,
		BaseRevision: rev,
	}
	if req.Type == deck.SafeMode {
		sb.Type = deck.SafeMode
		sb.Validity = deck.SafeModeValid
	}
	if _, err := tx.CreateSandbox(ctx, sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// Checkout creates a sandbox holding every baseline row of the storm's deck,
// all marked UNCHANGED.
func (m *Manager) Checkout(ctx context.Context, req CheckoutRequest) (int64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}
	var (
		sb     *deck.Sandbox
		copied int
	)
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if sb, err = m.create(ctx, tx, req); err != nil {
			return err
		}
		rows, err := tx.ListRecords(ctx, req.Deck, req.Storm)
		if err != nil {
			return err
		}
		copied, err = tx.CopyToSandbox(ctx, req.Deck, sb.ID, rows, deck.Unchanged)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("checkout %s %s: %w", req.Deck, req.Storm, err)
	}
	m.logger.Info("sandbox checked out",
		"sandbox_id", sb.ID, "deck", string(sb.Deck), "storm", sb.Storm.String(),
		"user", sb.UserID, "rows", copied, "base_revision", sb.BaseRevision)
	return sb.ID, nil
}

// CheckoutDTG copies one DTG of an A-deck into a sandbox. A positive
// sandboxID extends that sandbox instead of creating a new one; rows it
// already holds are not copied again. Every row of a sandbox must come from
// its base revision, so extending a sandbox the baseline has moved past fails
// with STALE_RECORD until it is rebased.
func (m *Manager) CheckoutDTG(ctx context.Context, sandboxID int64, req CheckoutRequest, dtg time.Time) (int64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}
	if req.Deck != deck.A {
		return 0, &deck.Error{Code: deck.CodeWrongDeck, Message: fmt.Sprintf("DTG checkout needs an A-deck, got %s", req.Deck)}
	}
	var (
		sb     *deck.Sandbox
		copied int
	)
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if sandboxID > 0 {
			if sb, err = LoadEditable(ctx, tx, sandboxID); err != nil {
				return err
			}
			if sb.Deck != req.Deck || sb.Storm != req.Storm {
				return &deck.Error{
					Code:      deck.CodeWrongDeck,
					Message:   fmt.Sprintf("sandbox holds %s %s, not %s %s", sb.Deck, sb.Storm, req.Deck, req.Storm),
					SandboxID: sb.ID,
				}
			}
			rev, err := tx.Revision(ctx, sb.Deck, sb.Storm)
			if err != nil {
				return err
			}
			if rev != sb.BaseRevision {
				return &deck.Error{
					Code:      deck.CodeStaleRecord,
					Message:   fmt.Sprintf("sandbox is based on revision %d but the baseline is at %d; rebase it before adding DTGs", sb.BaseRevision, rev),
					SandboxID: sb.ID,
				}
			}
			if err := tx.TouchSandbox(ctx, sb.ID, m.clock.Now()); err != nil {
				return err
			}
		} else if sb, err = m.create(ctx, tx, req); err != nil {
			return err
		}

		rows, err := tx.ListRecords(ctx, req.Deck, req.Storm, store.Eq("ref_time", dtg))
		if err != nil {
			return err
		}
		copied, err = tx.CopyToSandbox(ctx, req.Deck, sb.ID, rows, deck.Unchanged)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("checkout %s %s at %s: %w", req.Deck, req.Storm, dtg.Format("2006010215"), err)
	}
	m.logger.Info("sandbox checked out",
		"sandbox_id", sb.ID, "deck", string(sb.Deck), "storm", sb.Storm.String(),
		"dtg", dtg.Format("2006010215"), "rows", copied)
	return sb.ID, nil
}

// CreateForecastTrack creates an empty forecast-track sandbox.
func (m *Manager) CreateForecastTrack(ctx context.Context, req CheckoutRequest) (int64, error) {
	req.Deck = deck.ForecastTrack
	if err := req.validate(); err != nil {
		return 0, err
	}
	var sb *deck.Sandbox
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		sb, err = m.create(ctx, tx, req)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("create forecast track sandbox: %w", err)
	}
	m.logger.Info("forecast track sandbox created", "sandbox_id", sb.ID, "storm", sb.Storm.String(), "user", sb.UserID)
	return sb.ID, nil
}

// Get returns the sandbox with the given id.
func (m *Manager) Get(ctx context.Context, id int64) (*deck.Sandbox, error) {
	return m.store.Sandbox(ctx, id)
}

// List returns the sandboxes matching f.
func (m *Manager) List(ctx context.Context, f store.SandboxFilter) ([]*deck.Sandbox, error) {
	return m.store.Sandboxes(ctx, f)
}

// Discard removes a sandbox and all its rows. BACKUP sandboxes belong to a
// merge log and cannot be discarded directly.
func (m *Manager) Discard(ctx context.Context, id int64) error {
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		sb, err := tx.GetSandbox(ctx, id)
		if err != nil {
			return err
		}
		if sb.Type == deck.Backup {
			return &deck.Error{Code: deck.CodeSandboxNotEditable, Message: "backup sandboxes are removed with their merge log", SandboxID: id}
		}
		return tx.DeleteSandbox(ctx, sb)
	})
	if err != nil {
		return fmt.Errorf("discard sandbox %d: %w", id, err)
	}
	m.logger.Info("sandbox discarded", "sandbox_id", id)
	return nil
}

// Invalidate marks sandboxes invalid. They can no longer be edited, rebased
// or checked in.
func (m *Manager) Invalidate(ctx context.Context, ids ...int64) error {
	now := m.clock.Now()
	return m.store.InTx(ctx, func(tx *store.Tx) error {
		for _, id := range ids {
			if err := tx.SetValidity(ctx, id, deck.Invalid, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// Validate marks a sandbox valid again: SAFEMODE sandboxes return to their
// safe-mode flag, everything else to VALID.
func (m *Manager) Validate(ctx context.Context, id int64) error {
	return m.store.InTx(ctx, func(tx *store.Tx) error {
		sb, err := tx.GetSandbox(ctx, id)
		if err != nil {
			return err
		}
		return tx.SetValidity(ctx, id, ValidityFor(sb), m.clock.Now())
	})
}

// ValidityFor is the valid flag a healthy sandbox of sb's type carries.
func ValidityFor(sb *deck.Sandbox) deck.Validity {
	if sb.Type == deck.SafeMode {
		return deck.SafeModeValid
	}
	return deck.Valid
}

// PurgeIdle removes unsubmitted sandboxes untouched for longer than olderThan
// and returns their ids. Submitted sandboxes are left to PurgeSubmitted,
// which keeps them while conflict detection still needs them.
func (m *Manager) PurgeIdle(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	return m.purge(ctx, "idle", olderThan, (*store.Tx).IdleSandboxes)
}

// PurgeSubmitted removes sandboxes submitted longer than olderThan ago that no
// open sandbox still needs for conflict detection, and returns their ids.
func (m *Manager) PurgeSubmitted(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	return m.purge(ctx, "submitted", olderThan, (*store.Tx).ExpiredSubmittedSandboxes)
}

func (m *Manager) purge(ctx context.Context, kind string, olderThan time.Duration,
	find func(*store.Tx, context.Context, time.Time) ([]*deck.Sandbox, error)) ([]int64, error) {
	cutoff := m.clock.Now().Add(-olderThan)
	ids := []int64{}
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		sbs, err := find(tx, ctx, cutoff)
		if err != nil {
			return err
		}
		for _, sb := range sbs {
			if err := tx.DeleteSandbox(ctx, sb); err != nil {
				return err
			}
			ids = append(ids, sb.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("purge %s sandboxes: %w", kind, err)
	}
	purgedTotal.WithLabelValues(kind).Add(float64(len(ids)))
	if len(ids) > 0 {
		m.logger.Info("sandboxes purged", "kind", kind, "count", len(ids), "cutoff", cutoff)
	}
	return ids, nil
}

// LoadEditable loads a sandbox that may still take edits: not a backup, not
// submitted and not invalidated.
func LoadEditable(ctx context.Context, tx *store.Tx, id int64) (*deck.Sandbox, error) {
	sb, err := tx.GetSandbox(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case sb.Type == deck.Backup:
		return nil, &deck.Error{Code: deck.CodeSandboxNotEditable, Message: "backup sandboxes are read-only", SandboxID: id}
	case sb.Submitted():
		return nil, &deck.Error{Code: deck.CodeSandboxSubmitted, Message: "sandbox was already checked in", SandboxID: id}
	case sb.Validity == deck.Invalid:
		return nil, &deck.Error{Code: deck.CodeSandboxInvalid, Message: "sandbox was invalidated by a merge", SandboxID: id}
	}
	return sb, nil
}
