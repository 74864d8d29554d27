package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/sandbox"
)

// CheckoutOptions holds flags for the checkout command.
type CheckoutOptions struct {
	*RootOptions
	Deck      string
	Storm     string
	StormName string
	User      string
	DTG       string
	Into      int64
	SafeMode  bool
}

// NewCheckoutCommand creates the checkout command.
func NewCheckoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckoutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Check a storm's deck out into a new sandbox",
		Long: `Create a sandbox holding a copy of a storm's baseline deck and print its id.

With --dtg (A-deck only) just that synoptic time is copied; --into adds the
DTG to an existing sandbox instead of creating one. Forecast-track (FST)
sandboxes start empty.

Examples:
  deckstore checkout --deck A --storm AL092021 --user jb
  deckstore checkout --deck A --storm AL092021 --user jb --dtg 2021082912
  deckstore checkout --deck A --storm AL092021 --user jb --dtg 2021082918 --into 7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckout(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Deck, "deck", "", "deck type (required)")
	cmd.Flags().StringVar(&opts.Storm, "storm", "", "storm id, e.g. AL092021 (required)")
	cmd.Flags().StringVar(&opts.StormName, "storm-name", "", "storm name recorded on the sandbox")
	cmd.Flags().StringVar(&opts.User, "user", "", "sandbox owner (required)")
	cmd.Flags().StringVar(&opts.DTG, "dtg", "", "check out one DTG (YYYYMMDDHH)")
	cmd.Flags().Int64Var(&opts.Into, "into", 0, "existing sandbox to extend with --dtg")
	cmd.Flags().BoolVar(&opts.SafeMode, "safe-mode", false, "create a SAFEMODE sandbox")
	_ = cmd.MarkFlagRequired("deck")
	_ = cmd.MarkFlagRequired("storm")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runCheckout(opts *CheckoutOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	dt, storm, err := parseScope(opts.Deck, opts.Storm)
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, "invalid scope", err), nil)
	}
	if opts.Into != 0 && opts.DTG == "" {
		return out.Fail(NewExitError(ExitCommandError, "--into requires --dtg"), nil)
	}
	req := sandbox.CheckoutRequest{Deck: dt, Storm: storm, StormName: opts.StormName, User: opts.User}
	if opts.SafeMode {
		req.Type = deck.SafeMode
	}

	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()
	ctx := cmd.Context()

	var id int64
	switch {
	case opts.DTG != "":
		dtg, perr := parseDTG(opts.DTG)
		if perr != nil {
			return out.Fail(WrapExitError(ExitCommandError, "invalid --dtg", perr), nil)
		}
		id, err = e.sandbox.CheckoutDTG(ctx, opts.Into, req, dtg)
	case dt == deck.ForecastTrack:
		id, err = e.sandbox.CreateForecastTrack(ctx, req)
	default:
		id, err = e.sandbox.Checkout(ctx, req)
	}
	if err != nil {
		return out.Fail(operationError("checkout failed", err), nil)
	}
	return out.Success(map[string]int64{"sandbox_id": id}, fmt.Sprintf("sandbox %d", id))
}
