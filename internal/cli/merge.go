package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/deckstore/internal/deck"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Deck        string
	Exact       bool
	ReplaceDeck bool
}

// MergeResult is the merge command's output.
type MergeResult struct {
	MergeLog      *deck.MergeLog      `json:"merge_log,omitempty"`
	Records       int                 `json:"records"`
	Notifications []deck.Notification `json:"notifications"`
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge <records.jsonl|->",
		Short: "Bulk merge records from an external feed",
		Long: `Replace part of a storm's baseline with incoming records.

By default every baseline row between the earliest and latest incoming DTG is
replaced. With --exact (A-deck only) only rows whose DTG and technique both
appear in the input are replaced. Replaced rows are kept in a backup sandbox
so the merge can be rolled back, and open sandboxes holding them are
invalidated.

--replace-deck replaces the storm's whole deck instead. Every sandbox and
merge log of the storm is discarded; the replacement cannot be rolled back.

Examples:
  deckstore merge --deck A feed.jsonl
  deckstore merge --exact feed.jsonl
  deckstore merge --replace-deck --deck B bal092021.jsonl`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Deck, "deck", "", "deck type (defaults to the records' deck)")
	cmd.Flags().BoolVar(&opts.Exact, "exact", false, "replace only matching DTG and technique pairs (A-deck)")
	cmd.Flags().BoolVar(&opts.ReplaceDeck, "replace-deck", false, "replace the storm's whole deck")
	cmd.MarkFlagsMutuallyExclusive("exact", "replace-deck")

	return cmd
}

func runMerge(opts *MergeOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	recs, err := LoadRecords(path, cmd.InOrStdin())
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, "failed to load records", err), nil)
	}
	dt, err := mergeDeck(opts.Deck, recs)
	if err != nil {
		return out.Fail(operationError("merge failed", err), nil)
	}

	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()
	ctx := cmd.Context()

	if opts.ReplaceDeck {
		res, err := e.merge.ReplaceDeck(ctx, dt, recs)
		if err != nil {
			return out.Fail(operationError("replace failed", err), nil)
		}
		return out.Success(res, fmt.Sprintf("deck replaced: %d persisted, %d duplicates, %d failed",
			res.Persisted, res.Duplicates, res.Failed))
	}

	var logID int64
	notes := e.collect()
	if opts.Exact {
		dt = deck.A
		logID, err = e.merge.ReplaceDTGsAndModels(ctx, recs)
	} else {
		logID, err = e.merge.MergeRecords(ctx, dt, recs)
	}
	sent := notes()
	if err != nil {
		return out.Fail(operationError("merge failed", err), nil)
	}

	logs, err := e.merge.MergeLogs(ctx, dt, recs[0].Storm())
	if err != nil {
		return out.Fail(operationError("failed to read merge log", err), nil)
	}
	res := MergeResult{Records: len(recs), Notifications: sent}
	for _, l := range logs {
		if l.ID == logID {
			res.MergeLog = l
		}
	}
	text := fmt.Sprintf("merge log %d: %d records merged", logID, len(recs))
	if res.MergeLog != nil && len(res.MergeLog.Invalidated) > 0 {
		text += fmt.Sprintf(", invalidated sandboxes %v", res.MergeLog.Invalidated)
	}
	return out.Success(res, text)
}

// mergeDeck picks the deck a merge targets: the flag when given, otherwise
// the first record's.
func mergeDeck(flag string, recs []*deck.Record) (deck.Type, error) {
	if flag != "" {
		return deck.ParseType(flag)
	}
	if len(recs) == 0 {
		return "", &deck.Error{Code: deck.CodeMissingScope, Message: "no records to merge"}
	}
	return recs[0].Deck, nil
}
