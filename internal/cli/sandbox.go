package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/store"
)

// SandboxListOptions holds flags for sandbox list.
type SandboxListOptions struct {
	*RootOptions
	Deck  string
	Storm string
	User  string
	Open  bool
}

// NewSandboxCommand creates the sandbox command group.
func NewSandboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "List, inspect and discard sandboxes",
	}
	cmd.AddCommand(newSandboxListCommand(rootOpts))
	cmd.AddCommand(newSandboxShowCommand(rootOpts))
	cmd.AddCommand(newSandboxDiscardCommand(rootOpts))
	return cmd
}

func newSandboxListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SandboxListOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List sandboxes",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSandboxList(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Deck, "deck", "", "only this deck type")
	cmd.Flags().StringVar(&opts.Storm, "storm", "", "only this storm, e.g. AL092021")
	cmd.Flags().StringVar(&opts.User, "user", "", "only this owner")
	cmd.Flags().BoolVar(&opts.Open, "open", false, "only sandboxes not yet checked in")
	return cmd
}

func runSandboxList(opts *SandboxListOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	f := store.SandboxFilter{User: opts.User, Open: opts.Open}
	if opts.Deck != "" {
		dt, err := deck.ParseType(opts.Deck)
		if err != nil {
			return out.Fail(WrapExitError(ExitCommandError, "invalid --deck", err), nil)
		}
		f.Deck = dt
	}
	if opts.Storm != "" {
		storm, err := deck.ParseStorm(opts.Storm)
		if err != nil {
			return out.Fail(WrapExitError(ExitCommandError, "invalid --storm", err), nil)
		}
		f.Storm = &storm
	}

	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()

	sbs, err := e.sandbox.List(cmd.Context(), f)
	if err != nil {
		return out.Fail(operationError("failed to list sandboxes", err), nil)
	}
	if len(sbs) == 0 {
		return out.Success(sbs, "no sandboxes")
	}
	lines := make([]string, len(sbs))
	for i, sb := range sbs {
		lines[i] = formatSandbox(sb)
	}
	return out.Success(sbs, strings.Join(lines, "\n"))
}

func formatSandbox(sb *deck.Sandbox) string {
	state := "open"
	if sb.Submitted() {
		state = "submitted"
	}
	return fmt.Sprintf("%d  %s %s  %-8s %-10s %-8s %s  rev %d",
		sb.ID, sb.Deck, sb.Storm, sb.Type, sb.UserID, sb.Validity, state, sb.BaseRevision)
}

// SandboxView is the output of sandbox show.
type SandboxView struct {
	Sandbox *deck.Sandbox         `json:"sandbox"`
	Records []*deck.SandboxRecord `json:"records"`
}

func newSandboxShowCommand(rootOpts *RootOptions) *cobra.Command {
	var changed, deleted bool
	cmd := &cobra.Command{
		Use:           "show <sandbox-id>",
		Short:         "Show a sandbox and its records",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSandboxShow(rootOpts, args[0], changed, deleted, cmd)
		},
	}
	cmd.Flags().BoolVar(&changed, "changed", false, "only edited records")
	cmd.Flags().BoolVar(&deleted, "include-deleted", false, "include records marked deleted")
	return cmd
}

func runSandboxShow(opts *RootOptions, arg string, changedOnly, includeDeleted bool, cmd *cobra.Command) error {
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
		return out.Fail(operationError("failed to load sandbox", err), nil)
	}
	recs, err := e.sandbox.Records(ctx, id, includeDeleted || changedOnly)
	if err != nil {
		return out.Fail(operationError("failed to read sandbox", err), nil)
	}
	if changedOnly {
		kept := recs[:0]
		for _, r := range recs {
			if r.Change.Changed() {
				kept = append(kept, r)
			}
		}
		recs = kept
	}

	var b strings.Builder
	b.WriteString(formatSandbox(sb))
	for _, r := range recs {
		fmt.Fprintf(&b, "\n  %-9s %d  %s %s/%d  %.1f %.1f  %g kt",
			r.Change, r.ID, r.RefTime.Format(dtgLayout), r.Technique, r.FcstHour, r.Lat, r.Lon, r.WindMax)
	}
	return out.Success(SandboxView{Sandbox: sb, Records: recs}, b.String())
}

func newSandboxDiscardCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "discard <sandbox-id>",
		Short:         "Remove a sandbox and its records",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			id, err := parseSandboxID(args[0])
			if err != nil {
				return out.Fail(err, nil)
			}
			e, err := openEnv(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return out.Fail(err, nil)
			}
			defer e.Close()

			if err := e.sandbox.Discard(cmd.Context(), id); err != nil {
				return out.Fail(operationError("discard failed", err), nil)
			}
			return out.Success(map[string]int64{"sandbox_id": id}, fmt.Sprintf("sandbox %d discarded", id))
		},
	}
}
