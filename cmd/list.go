package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/devbridge-io/devbridge/internal/bridge"
	"github.com/devbridge-io/devbridge/internal/core"
	"github.com/devbridge-io/devbridge/internal/pidstore"
)

func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List recorded companions",
		Long:    `List all recorded companion processes and whether they are still running.`,
		Aliases: []string{"status", "ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := pidstore.Open(core.Config.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No companions recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "UDID\tPID\tSTATE\tRECORDED")
			for _, rec := range records {
				state := "dead"
				if bridge.ValidateCompanionProcess(rec.Pid, rec.Udid) {
					state = "running"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					rec.Udid, rec.Pid, state, rec.RecordedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}
