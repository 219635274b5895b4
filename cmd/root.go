package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/magtest/cmd/calibrate"
	"github.com/tphakala/magtest/cmd/clean"
	"github.com/tphakala/magtest/cmd/export"
	"github.com/tphakala/magtest/cmd/report"
	"github.com/tphakala/magtest/cmd/simulate"
	"github.com/tphakala/magtest/cmd/stats"
	"github.com/tphakala/magtest/cmd/sync"
	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           conf.AppName,
		Short:         "Magnetic testing acquisition and reporting",
		Long:          "Records magnetic testing sessions offline, syncs them to a remote store and produces inspection reports.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		simulate.Command(settings),
		sync.Command(settings),
		report.Command(settings),
		export.Command(settings),
		stats.Command(settings),
		clean.Command(settings),
		calibrate.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings)
	}

	return rootCmd
}

// initialize builds the central logger once flags are parsed
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetGlobal(central)
	return nil
}

func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Storage.Path, "db", viper.GetString("storage.path"), "Path to the offline sqlite database")
	rootCmd.PersistentFlags().StringVar(&settings.Remote.Driver, "remote", viper.GetString("remote.driver"), "Remote store driver (rest, mysql, none)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
