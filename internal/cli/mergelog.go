package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/deckstore/internal/deck"
)

// MergeLogOptions holds flags for the mergelog command.
type MergeLogOptions struct {
	*RootOptions
	Deck  string
	Storm string
}

// NewMergeLogCommand creates the mergelog command.
func NewMergeLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeLogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "mergelog",
		Short:         "List the retained merge logs of a storm's deck, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMergeLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Deck, "deck", "", "deck type (required)")
	cmd.Flags().StringVar(&opts.Storm, "storm", "", "storm id, e.g. AL092021 (required)")
	_ = cmd.MarkFlagRequired("deck")
	_ = cmd.MarkFlagRequired("storm")

	return cmd
}

func runMergeLog(opts *MergeLogOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	dt, storm, err := parseScope(opts.Deck, opts.Storm)
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, "invalid scope", err), nil)
	}

	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()

	logs, err := e.merge.MergeLogs(cmd.Context(), dt, storm)
	if err != nil {
		return out.Fail(operationError("failed to read merge logs", err), nil)
	}
	return out.Success(logs, formatMergeLogs(logs))
}

func formatMergeLogs(logs []*deck.MergeLog) string {
	if len(logs) == 0 {
		return "no merge logs"
	}
	var b strings.Builder
	for _, l := range logs {
		fmt.Fprintf(&b, "%d  %s  ids (%d, %d]", l.ID, l.MergeTime.Format("2006-01-02 15:04:05"), l.BaseMaxRecordID, l.NewEndRecordID)
		if l.BeginDTG != nil {
			fmt.Fprintf(&b, "  dtg %s-%s  backup %d", l.BeginDTG.Format(dtgLayout), l.EndDTG.Format(dtgLayout), l.SandboxID)
		}
		if len(l.Invalidated) > 0 {
			fmt.Fprintf(&b, "  invalidated %v", l.Invalidated)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}
