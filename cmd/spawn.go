package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devbridge-io/devbridge/internal/core"
	"github.com/devbridge-io/devbridge/internal/pidstore"
	"github.com/devbridge-io/devbridge/internal/spawner"
)

func NewSpawnCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "spawn <udid>",
		Short: "Spawn a companion for a device",
		Long: `Spawn a companion process for the device with the given udid and print
the gRPC port it bound. The companion keeps running in its own session
after devbridge exits; use "devbridge stop" to terminate it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			udid := args[0]

			store, err := pidstore.Open(core.Config.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			sp := newSpawner(store)
			port, err := sp.SpawnCompanion(cmd.Context(), udid)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), port)
			return nil
		},
	}
}

// newSpawner builds a CompanionSpawner from the loaded configuration
func newSpawner(store *pidstore.Store) *spawner.CompanionSpawner {
	sp := spawner.NewCompanionSpawner(core.Config.CompanionPath, store)
	sp.SetLogPathPolicy(core.Config.CompanionLogPath)
	sp.SetHandshakeTimeout(core.Config.Spawner.HandshakeTimeout)
	return sp
}
