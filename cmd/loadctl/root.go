package main

import (
	"github.com/spf13/cobra"

	"truckcount-api/internal/config"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWithConfig(config.Load)
}

func newRootCommandWithConfig(load func() (*config.Config, error)) *cobra.Command {
	ctx := newCommandContext(load)

	rootCmd := &cobra.Command{
		Use:           "loadctl",
		Short:         "Operate truck load counts and daily summaries",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newSyncCommand(ctx))
	rootCmd.AddCommand(newCompleteCommand(ctx))
	rootCmd.AddCommand(newSummariesCommand(ctx))
	rootCmd.AddCommand(newApprovalsCommand(ctx))
	rootCmd.AddCommand(newPurgeCommand(ctx))

	return rootCmd
}
