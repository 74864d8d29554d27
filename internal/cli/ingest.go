package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Overwrite bool
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <records.jsonl|->",
		Short: "Persist records into the baseline",
		Long: `Persist a file of JSON-lines records into the baseline deck.

All records must belong to one deck type and storm. Records whose natural key
already exists are counted as duplicates, or overwritten with --overwrite.
Records violating a constraint are dropped and counted as failed.

Examples:
  deckstore ingest --db deck.db aal092021.jsonl
  cat bal09.jsonl | deckstore ingest --overwrite -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "overwrite records whose natural key exists")

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	recs, err := LoadRecords(path, cmd.InOrStdin())
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, "failed to load records", err), nil)
	}

	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()

	res, err := e.ingest.Persist(cmd.Context(), recs, opts.Overwrite)
	if err != nil {
		return out.Fail(operationError("ingest failed", err), res)
	}
	return out.Success(res, fmt.Sprintf("%d persisted, %d duplicates, %d failed (%d batches)",
		res.Persisted, res.Duplicates, res.Failed, len(res.Batches)))
}
