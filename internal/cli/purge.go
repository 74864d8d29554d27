package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/deckstore/internal/sandbox"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	IdleAfter      time.Duration
	SubmittedAfter time.Duration
}

// PurgeResult reports the sandboxes a purge removed.
type PurgeResult struct {
	Idle      []int64 `json:"idle"`
	Submitted []int64 `json:"submitted"`
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove idle and expired sandboxes once",
		Long: `Remove sandboxes nobody has touched within --idle-after, and submitted
sandboxes older than --submitted-after that no open checkout still depends on.
Zero durations fall back to the configured purge settings.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.IdleAfter, "idle-after", 0, "purge open sandboxes idle this long")
	cmd.Flags().DurationVar(&opts.SubmittedAfter, "submitted-after", 0, "purge submitted sandboxes this old")

	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()

	idle, submitted := purgeAges(opts.IdleAfter, opts.SubmittedAfter, e)
	res, err := purgeOnce(cmd.Context(), e.sandbox, idle, submitted)
	if err != nil {
		return out.Fail(operationError("purge failed", err), nil)
	}
	return out.Success(res, fmt.Sprintf("purged %d idle and %d submitted sandboxes", len(res.Idle), len(res.Submitted)))
}

func purgeAges(idle, submitted time.Duration, e *env) (time.Duration, time.Duration) {
	if idle <= 0 {
		idle = e.cfg.Purge.IdleAfter
	}
	if submitted <= 0 {
		submitted = e.cfg.Purge.SubmittedAfter
	}
	return idle, submitted
}

func purgeOnce(ctx context.Context, m *sandbox.Manager, idle, submitted time.Duration) (PurgeResult, error) {
	res := PurgeResult{Idle: []int64{}, Submitted: []int64{}}
	ids, err := m.PurgeIdle(ctx, idle)
	if err != nil {
		return res, err
	}
	if ids != nil {
		res.Idle = ids
	}
	ids, err = m.PurgeSubmitted(ctx, submitted)
	if err != nil {
		return res, err
	}
	if ids != nil {
		res.Submitted = ids
	}
	return res, nil
}
