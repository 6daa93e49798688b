package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/scaleway/vmware2scw/internal/config"
)

// rootFlags holds the values bound from persistent flags and viper's
// "VMWARE2SCW_*" environment overlay, following the config loading story
// internal/config.LoadEnv already uses for vmware.*/scaleway.* settings.
type rootFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "vmware2scw",
		Short:         "Migrate virtual machines from VMware vSphere to Scaleway Instances",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to the YAML config document (defaults come from env vars otherwise)")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable verbose debug logging")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug"))
	viper.SetEnvPrefix("vmware2scw")
	viper.AutomaticEnv()

	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		flags.configPath = viper.GetString("config")
		flags.debug = viper.GetBool("debug")
		initLogger(flags.debug)
		return nil
	}

	cmd.AddCommand(
		newInventoryCmd(flags),
		newInventoryPlanCmd(flags),
		newBatchCmd(flags),
		newMigrateCmd(flags),
	)
	return cmd
}

// initLogger replaces the global zap logger the way test/e2e/main.go's CLI
// entrypoint does for its own --debug flag: development config (caller info,
// capital-letter level, stacktrace on warn) when debugging, production config
// (JSON, info level) otherwise.
func initLogger(debug bool) {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		logger = zap.NewNop()
	}
	zap.ReplaceGlobals(logger)
}

// loadConfig loads the YAML document at flags.configPath if set, falling
// back to defaults overlaid with environment variables otherwise.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flags.configPath != "" {
		cfg, err = config.FromYAML(flags.configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.NewDefault()
	}
	cfg.LoadEnv()
	return cfg, nil
}
