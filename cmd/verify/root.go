package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dev/bravebird/frontend-verify/pkg/browser"
	"dev/bravebird/frontend-verify/pkg/logging"
	"dev/bravebird/frontend-verify/pkg/models"
	"dev/bravebird/frontend-verify/pkg/verify"
)

func newRootCmd(run func(ctx context.Context, cmd *cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:           "verify",
		Short:         "Check that the Edinburgh destination renders on the local frontend",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd)
		},
	}
}

// runDefaultPlan executes the built-in plan. The success line goes to stdout; the
// runner logs the failure diagnostic to stderr.
func runDefaultPlan(ctx context.Context, cmd *cobra.Command) error {
	logger, err := logging.New("info")
	if err != nil {
		cmd.PrintErrln(err)
		return err
	}
	defer logger.Sync()

	runner := verify.NewRunner(browser.DefaultOptions(), logger, cmd.OutOrStdout())
	_, err = runner.Run(ctx, models.DefaultPlan())
	return err
}

// Execute runs the verify command; a non-nil error means the check did not pass
func Execute() error {
	return newRootCmd(runDefaultPlan).Execute()
}
