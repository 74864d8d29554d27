package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/deckstore/internal/deck"
)

// RollbackOptions holds flags for the rollback command.
type RollbackOptions struct {
	*RootOptions
	Deck  string
	Storm string
	Log   int64
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RollbackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Undo the latest bulk merge of a storm's deck",
		Long: `Roll back a bulk merge: the rows it inserted are deleted and the rows it
replaced are restored with their original ids. Only the storm's latest merge
can be rolled back. Sandboxes based on the merged baseline are invalidated.

Examples:
  deckstore rollback --deck A --storm AL092021
  deckstore rollback --deck A --storm AL092021 --log 12`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Deck, "deck", "", "deck type (required)")
	cmd.Flags().StringVar(&opts.Storm, "storm", "", "storm id, e.g. AL092021 (required)")
	cmd.Flags().Int64Var(&opts.Log, "log", 0, "merge log id (defaults to the latest)")
	_ = cmd.MarkFlagRequired("deck")
	_ = cmd.MarkFlagRequired("storm")

	return cmd
}

func runRollback(opts *RollbackOptions, cmd *cobra.Command) error {
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
	ctx := cmd.Context()

	logID := opts.Log
	if logID == 0 {
		logs, err := e.merge.MergeLogs(ctx, dt, storm)
		if err != nil {
			return out.Fail(operationError("failed to read merge logs", err), nil)
		}
		if len(logs) == 0 {
			return out.Fail(operationError("rollback failed",
				&deck.Error{Code: deck.CodeMergeLogNotFound, Message: fmt.Sprintf("no merge logs for %s %s", dt, storm)}), nil)
		}
		logID = logs[0].ID
	}

	notes := e.collect()
	ids, err := e.merge.Rollback(ctx, dt, logID)
	sent := notes()
	if err != nil {
		return out.Fail(operationError("rollback failed", err), nil)
	}
	return out.Success(map[string]any{"merge_log_id": logID, "invalidated": ids, "notifications": sent},
		fmt.Sprintf("merge %d rolled back, %d sandboxes invalidated", logID, len(ids)))
}
