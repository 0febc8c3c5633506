package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orthovision/orthovision/cmd/artifacts"
	"github.com/orthovision/orthovision/cmd/serve"
	"github.com/orthovision/orthovision/internal/buildinfo"
	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var (
		configPath string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "orthovision",
		Short:         "OrthoVision fracture classification and localization service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default: search the standard config paths)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.String())
		},
	}

	rootCmd.AddCommand(
		serve.Command(settings, build),
		artifacts.SyncCommand(settings),
		artifacts.RevisionCommand(settings),
		artifacts.PublishCommand(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(settings, configPath, debug)
	}

	return rootCmd
}

// initialize loads the configuration into settings and installs the global
// logger. It runs before any subcommand.
func initialize(settings *conf.Settings, configPath string, debug bool) error {
	var (
		loaded *conf.Settings
		err    error
	)
	if configPath != "" {
		loaded, err = conf.LoadFile(configPath)
	} else {
		loaded, err = conf.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	*settings = *loaded

	if debug {
		settings.Debug = true
		settings.Logging.Level = string(logger.LogLevelDebug)
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
		return nil
	}
	logger.SetGlobal(central)
	return nil
}
