package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/deckstore/internal/deck"
)

// NewCheckInCommand creates the checkin command.
func NewCheckInCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checkin <sandbox-id>",
		Short: "Apply a sandbox's changes to the baseline",
		Long: `Check a sandbox in. When another sandbox was checked in since this one was
checked out and both changed the same records, nothing is written and the
conflicting sandboxes are listed (exit code 1). Resolve them with
'deckstore resolve' and check in again.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckIn(rootOpts, args[0], cmd)
		},
	}
}

func runCheckIn(opts *RootOptions, arg string, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)
	id, err := parseSandboxID(arg)
	if err != nil {
		return out.Fail(err, nil)
	}

	e, err := openEnv(opts, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()
	ctx := cmd.Context()

	sb, err := e.sandbox.Get(ctx, id)
	if err != nil {
		return out.Fail(operationError("checkin failed", err), nil)
	}
	notes := e.collect()
	conflicts, err := e.merge.CheckIn(ctx, sb.Deck, id)
	sent := notes()
	if err != nil {
		return out.Fail(operationError("checkin failed", err), nil)
	}
	if len(conflicts) > 0 {
		_ = out.Error("CONFLICTS", fmt.Sprintf("sandbox %d conflicts with %s", id, describeConflicts(conflicts)), conflicts)
		return NewExitError(ExitFailure, "check-in blocked by conflicts")
	}
	return out.Success(map[string]any{"sandbox_id": id, "conflicts": conflicts, "notifications": sent}, fmt.Sprintf("sandbox %d checked in", id))
}

func describeConflicts(cs []deck.ConflictSandbox) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = fmt.Sprintf("sandbox %d", c.SandboxID)
		if c.DTG != nil {
			parts[i] += " at " + c.DTG.Format(dtgLayout)
		}
	}
	return strings.Join(parts, ", ")
}

func parseSandboxID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid sandbox id %q", s))
	}
	return id, nil
}
