package deck

import (
	"time"

	"github.com/google/uuid"
)

// NoSandbox marks the absence of a sandbox id (a merge with no overlap, a
// conflict set with no baseline-side sandbox, a notification about a merge).
const NoSandbox int64 = -1

// SandboxType distinguishes user checkouts from internal backups.
type SandboxType string

const (
	Checkout SandboxType = "CHECKOUT"
	Backup   SandboxType = "BACKUP"
	SafeMode SandboxType = "SAFEMODE"
)

// Validity is the sandbox valid flag.
type Validity int

const (
	Valid         Validity = 0
	Invalid       Validity = 1
	SafeModeValid Validity = 2
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "VALID"
	case Invalid:
		return "INVALID"
	case SafeModeValid:
		return "SAFEMODE"
	}
	return "UNKNOWN"
}

// Sandbox is a named, user-owned working copy of one storm's deck.
type Sandbox struct {
	ID          int64       `json:"id"`
	Deck        Type        `json:"deck"`
	Storm       Storm       `json:"storm"`
	StormName   string      `json:"storm_name,omitempty"`
	ScopeCode   string      `json:"scope_cd"`
	Type        SandboxType `json:"sandbox_type"`
	UserID      string      `json:"user_id"`
	Validity    Validity    `json:"valid_flag"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUpdated time.Time   `json:"last_updated"`
	SubmittedAt *time.Time  `json:"submitted_at,omitempty"`

	// BaseRevision is the baseline revision the sandbox was checked out (or
	// last rebased) against. SubmittedRevision is the revision its check-in
	// produced.
	BaseRevision      int64  `json:"base_revision"`
	SubmittedRevision *int64 `json:"submitted_revision,omitempty"`
}

// Submitted reports whether the sandbox has been checked in.
func (s *Sandbox) Submitted() bool {
	return s.SubmittedAt != nil
}

// Editable reports whether edits may still be applied to the sandbox.
func (s *Sandbox) Editable() bool {
	return s.Type != Backup && !s.Submitted()
}

// MergeLog records one bulk merge so it can be rolled back.
type MergeLog struct {
	ID    int64 `json:"id"`
	Deck  Type  `json:"deck"`
	Storm Storm `json:"storm"`

	// SandboxID is the BACKUP sandbox holding the rows the merge replaced,
	// or NoSandbox when nothing overlapped.
	SandboxID int64 `json:"sandbox_id"`

	BeginDTG *time.Time `json:"begin_dtg,omitempty"`
	EndDTG   *time.Time `json:"end_dtg,omitempty"`

	// EndRecordID is the highest replaced record id, BaseMaxRecordID the
	// deck's highest id before the merge and NewEndRecordID its highest id
	// after. Rows in (BaseMaxRecordID, NewEndRecordID] were inserted by it.
	EndRecordID     int64 `json:"end_record_id"`
	BaseMaxRecordID int64 `json:"base_max_record_id"`
	NewEndRecordID  int64 `json:"new_end_record_id"`

	// Revision is the storm's baseline revision the merge produced.
	Revision int64 `json:"revision"`

	MergeTime   time.Time `json:"merge_time"`
	Invalidated []int64   `json:"invalidated,omitempty"`
}

// ConflictSandbox names a sandbox that collided with a merge or check-in.
// DTG is set for A-deck conflicts.
type ConflictSandbox struct {
	SandboxID int64      `json:"sandbox_id"`
	DTG       *time.Time `json:"dtg,omitempty"`
}

// ConflictRecordPair holds both versions of a record edited on both sides.
type ConflictRecordPair struct {
	RecordID          int64      `json:"record_id"`
	BaselineChange    ChangeCode `json:"baseline_change_cd"`
	MergingChange     ChangeCode `json:"merging_change_cd"`
	Baseline          *Record    `json:"baseline"`
	Merging           *Record    `json:"merging"`
	Fields            []string   `json:"fields"`
	BaselineSandboxID int64      `json:"baseline_sandbox_id"`
}

// ConflictMergingRecordSet is the outcome of comparing a sandbox with the
// baseline changes submitted since it was checked out.
type ConflictMergingRecordSet struct {
	SandboxID         int64                `json:"sandbox_id"`
	ScopeCode         string               `json:"scope_cd"`
	BaselineSandboxID int64                `json:"baseline_sandbox_id"`
	Totals            map[ChangeCode]int   `json:"totals"`
	Conflicts         []ConflictRecordPair `json:"conflicts"`
}

// HasConflicts reports whether any record was edited on both sides.
func (c *ConflictMergingRecordSet) HasConflicts() bool {
	return len(c.Conflicts) > 0
}

// BaselineMoved reports whether any baseline change was submitted since the
// sandbox's base revision.
func (c *ConflictMergingRecordSet) BaselineMoved() bool {
	for _, n := range c.Totals {
		if n > 0 {
			return true
		}
	}
	return false
}

// MergerUser owns the BACKUP sandboxes bulk merges create.
const MergerUser = "merger"

// NotifyUser is the user reported on merge notifications.
const NotifyUser = "awips"

// Notification tells subscribers that a storm's deck changed and which
// sandboxes were invalidated by it.
type Notification struct {
	ID        string            `json:"id"`
	Time      time.Time         `json:"time"`
	Deck      Type              `json:"deck"`
	Storm     Storm             `json:"storm"`
	SandboxID int64             `json:"sandbox_id"`
	User      string            `json:"user"`
	Conflicts []ConflictSandbox `json:"conflicts,omitempty"`
}

// NewNotification builds a notification with a fresh id.
func NewNotification(now time.Time, t Type, storm Storm, sandboxID int64, user string, conflicts []ConflictSandbox) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Time:      now,
		Deck:      t,
		Storm:     storm,
		SandboxID: sandboxID,
		User:      user,
		Conflicts: conflicts,
	}
}
