package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devbridge-io/devbridge/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "devbridge",
		Short: "Devbridge - device companion manager",
		Long:  `Devbridge launches and manages companion processes that bridge to physical and simulated devices.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := core.InitializeConfig(configPath, verbose); err != nil {
				return err
			}
			setupLogging(core.Config.Verbose)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", filepath.Join(homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewSpawnCommand(),
		NewRunCommand(),
		NewListCommand(),
		NewStopCommand(),
		NewLogsCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

// setupLogging installs a tint slog handler on stderr. Colors are
// disabled when stderr isn't a terminal.
func setupLogging(verbose int) {
	level := slog.LevelWarn
	switch {
	case verbose == 1:
		level = slog.LevelInfo
	case verbose >= 2:
		level = slog.LevelDebug
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	})
	slog.SetDefault(slog.New(handler))
}
