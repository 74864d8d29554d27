package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/deckstore/internal/deck"
)

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts <sandbox-id>",
		Short: "Show records changed both in a sandbox and in the baseline",
		Long: `Compare a sandbox with the changes checked in since its base revision.
Records edited on both sides are listed with both versions and the fields
that differ.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(rootOpts, args[0], cmd)
		},
	}
}

func runConflicts(opts *RootOptions, arg string, cmd *cobra.Command) error {
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

	set, err := e.resolver.FindConflicts(cmd.Context(), id)
	if err != nil {
		return out.Fail(operationError("conflict detection failed", err), nil)
	}
	return out.Success(set, formatConflicts(set))
}

func formatConflicts(set *deck.ConflictMergingRecordSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "sandbox %d (%s): baseline changes new=%d modified=%d deleted=%d\n",
		set.SandboxID, set.ScopeCode, set.Totals[deck.New], set.Totals[deck.Modified], set.Totals[deck.Deleted])
	if !set.HasConflicts() {
		b.WriteString("no conflicts")
		return b.String()
	}
	for _, p := range set.Conflicts {
		fmt.Fprintf(&b, "record %d: baseline %s by sandbox %d, sandbox %s; fields %s\n",
			p.RecordID, p.BaselineChange, p.BaselineSandboxID, p.MergingChange, strings.Join(p.Fields, ","))
	}
	return strings.TrimSuffix(b.String(), "\n")
}
