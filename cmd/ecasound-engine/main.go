// Command ecasound-engine loads a chainsetup config and runs the audio
// engine to completion.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/antorsae/ecasound/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string
	var batchMode bool
	var debug bool

	cmd := &cobra.Command{
		Use:   "ecasound-engine",
		Short: "Run a multitrack audio chainsetup",
		Long:  `Load a chainsetup configuration and run the audio engine against it until the run completes or is interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init()
			if debug {
				logging.SetLevel(slog.LevelDebug)
			}
			return runEngine(cmd.Context(), configPath, batchMode, logging.ForService("engine"))
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to chainsetup config file (yaml/toml/json); falls back to the default search path")
	cmd.Flags().BoolVarP(&batchMode, "batch", "b", true, "stop the engine run once finished or errored instead of waiting for further commands")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug-level structured logging")

	return cmd
}
