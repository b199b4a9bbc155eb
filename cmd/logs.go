package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devbridge-io/devbridge/internal/core"
	"github.com/devbridge-io/devbridge/internal/logtail"
)

func NewLogsCommand() *cobra.Command {
	var follow bool

	logsCmd := &cobra.Command{
		Use:   "logs <udid>",
		Short: "Show a companion's log",
		Long:  `Show the stderr log of the companion for the device with the given udid.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := core.Config.CompanionLogPath(args[0])

			if !follow {
				return logtail.Show(cmd.OutOrStdout(), path)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logtail.Follow(ctx, cmd.OutOrStdout(), path)
		},
	}
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow the log as the companion writes it")

	return logsCmd
}
