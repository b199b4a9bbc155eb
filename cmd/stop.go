package cmd

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/devbridge-io/devbridge/internal/bridge"
	"github.com/devbridge-io/devbridge/internal/core"
	"github.com/devbridge-io/devbridge/internal/pidstore"
)

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <udid>",
		Short: "Stop a companion",
		Long: `Stop the companion recorded for the device with the given udid.

The recorded pid is validated against the live process table before any
signal is sent, so a reused pid is never signalled by mistake.`,
		Aliases: []string{"kill"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			udid := args[0]

			store, err := pidstore.Open(core.Config.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Lookup(cmd.Context(), udid)
			if errors.Is(err, pidstore.ErrNotFound) {
				slog.Warn("No companion recorded for device", "udid", udid)
				return nil
			}
			if err != nil {
				return err
			}

			err = bridge.TerminateRecorded(rec.Pid, udid, core.Config.Spawner.TerminateTimeout)
			if errors.Is(err, bridge.ErrNotRunning) {
				slog.Warn("Recorded companion is no longer running, removing stale record",
					"udid", udid, "pid", rec.Pid)
				return store.Remove(cmd.Context(), udid)
			}
			if err != nil {
				return err
			}

			return store.Remove(cmd.Context(), udid)
		},
	}
}
