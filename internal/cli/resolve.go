package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/deckstore/internal/conflict"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Decisions string
	All       string
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <sandbox-id>",
		Short: "Rebase a sandbox onto the current baseline",
		Long: `Resolve a sandbox's conflicts and rebase it onto the current baseline.

Every conflicting record needs a decision: keep the sandbox's version, take
the baseline's, or supply a merged record. Decisions come from a JSON file
keyed by record id, or --all applies one choice to every conflict.

Examples:
  deckstore resolve 7 --all sandbox
  deckstore resolve 7 --decisions decisions.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Decisions, "decisions", "", "JSON file of decisions keyed by record id")
	cmd.Flags().StringVar(&opts.All, "all", "", "apply one choice to every conflict (sandbox|baseline)")
	cmd.MarkFlagsMutuallyExclusive("decisions", "all")
	cmd.MarkFlagsOneRequired("decisions", "all")

	return cmd
}

func runResolve(opts *ResolveOptions, arg string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	id, err := parseSandboxID(arg)
	if err != nil {
		return out.Fail(err, nil)
	}
	choice := conflict.Choice(opts.All)
	if opts.All != "" && choice != conflict.UseSandbox && choice != conflict.UseBaseline {
		return out.Fail(NewExitError(ExitCommandError, fmt.Sprintf("--all must be sandbox or baseline, got %q", opts.All)), nil)
	}

	var decisions map[int64]conflict.Decision
	if opts.Decisions != "" {
		if decisions, err = LoadDecisions(opts.Decisions, cmd.InOrStdin()); err != nil {
			return out.Fail(WrapExitError(ExitCommandError, "failed to load decisions", err), nil)
		}
	}

	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()
	ctx := cmd.Context()

	if opts.All != "" {
		set, err := e.resolver.FindConflicts(ctx, id)
		if err != nil {
			return out.Fail(operationError("conflict detection failed", err), nil)
		}
		decisions = make(map[int64]conflict.Decision, len(set.Conflicts))
		for _, p := range set.Conflicts {
			decisions[p.RecordID] = conflict.Decision{Choice: choice}
		}
	}

	set, err := e.resolver.Resolve(ctx, id, decisions)
	if err != nil {
		return out.Fail(operationError("resolve failed", err), nil)
	}
	return out.Success(set, fmt.Sprintf("sandbox %d rebased, %d conflicts resolved", id, len(set.Conflicts)))
}
