package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devbridge-io/devbridge/internal/core"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "devbridge %s\n", core.FormatVersion(core.Version))
		},
	}
}
