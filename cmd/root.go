package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/driftnet-cli/internal/config"
	"github.com/xkilldash9x/driftnet-cli/internal/observability"
)

var cfgFile string

// appCfg holds the configuration resolved in PersistentPreRunE; every
// subcommand reads from it.
var appCfg *config.Config

// NewRootCommand builds the command tree. A fresh tree per invocation keeps
// flag state from leaking between test runs.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "driftnet",
		Short:   "Driftnet orchestrates automated browser traffic sessions.",
		Version: Version,
		// Errors are reported once by Execute; cobra should not add usage
		// noise on top of them.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{
					Level: "info", Format: "console", ServiceName: "driftnet"})
				return err
			}
			appCfg = cfg

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting driftnet.", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newProxiesCmd())

	return rootCmd
}

// Execute runs the command tree under a signal-aware context.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed.", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and environment into the global
// viper, on top of the built-in defaults.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DRIFTNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment are enough.
	}
	return nil
}
