package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// BaselineOptions holds flags for the baseline command.
type BaselineOptions struct {
	*RootOptions
	Deck        string
	Storm       string
	Fingerprint bool
}

// NewBaselineCommand creates the baseline command.
func NewBaselineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BaselineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Print a storm's baseline deck",
		Long: `Print a storm's baseline records as JSON lines, ordered by id.

--fingerprint prints a SHA-256 digest of the rows instead. Two baselines with
the same fingerprint hold the same rows under the same ids, which makes it a
quick check that a rollback restored the pre-merge state.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBaseline(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Deck, "deck", "", "deck type (required)")
	cmd.Flags().StringVar(&opts.Storm, "storm", "", "storm id, e.g. AL092021 (required)")
	cmd.Flags().BoolVar(&opts.Fingerprint, "fingerprint", false, "print the baseline fingerprint only")
	_ = cmd.MarkFlagRequired("deck")
	_ = cmd.MarkFlagRequired("storm")

	return cmd
}

func runBaseline(opts *BaselineOptions, cmd *cobra.Command) error {
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

	if opts.Fingerprint {
		fp, err := e.store.Fingerprint(ctx, dt, storm)
		if err != nil {
			return out.Fail(operationError("fingerprint failed", err), nil)
		}
		return out.Success(map[string]string{"fingerprint": fp}, fp)
	}

	recs, err := e.store.Records(ctx, dt, storm)
	if err != nil {
		return out.Fail(operationError("failed to read baseline", err), nil)
	}
	if opts.Format == "json" {
		return out.Success(recs, "")
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return WrapExitError(ExitCommandError, "failed to write records", err)
		}
	}
	out.VerboseLog("%d records", len(recs))
	if len(recs) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "baseline is empty")
	}
	return nil
}
