package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devbridge-io/devbridge/internal/bridge"
	"github.com/devbridge-io/devbridge/internal/core"
	"github.com/devbridge-io/devbridge/internal/pidstore"
)

func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <udid>",
		Short: "Spawn a companion and stay attached",
		Long: `Spawn a companion for the device with the given udid and stream its
output until interrupted. On Ctrl+C the companion is stopped gracefully.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			udid := args[0]

			store, err := pidstore.Open(core.Config.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			manager := bridge.NewManager(newSpawner(store), core.Config.Spawner.TerminateTimeout)
			companion, err := manager.Spawn(ctx, udid)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Companion for %s ready on %s:%d (pid %d). Press Ctrl+C to stop.\n",
				udid, companion.Hostname, companion.Port, companion.Pid)

			lines := companion.Output().Subscribe()
			defer companion.Output().Unsubscribe(lines)

			for {
				select {
				case <-ctx.Done():
					if err := manager.Stop(udid); err != nil {
						return err
					}
					return store.Remove(cmd.Context(), udid)
				case <-companion.Done():
					if code := companion.ExitCode(); code != nil {
						fmt.Fprintf(out, "Companion exited with code %d\n", *code)
					} else {
						fmt.Fprintln(out, "Companion exited")
					}
					return store.Remove(cmd.Context(), udid)
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					fmt.Fprint(out, line)
				}
			}
		},
	}
}
