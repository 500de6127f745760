package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mediaconv/config"
	"mediaconv/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Errorf("mediaconv: %v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func newRootCmd() *cobra.Command {
	v := config.GetViper()
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "mediaconv",
		Short:         "Image and video conversion service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			return setupLogging(cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a TOML config file")
	flags.String("data-dir", "", "directory for the pebble databases")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write logs to this file")
	flags.Bool("log-json", false, "emit JSON logs")
	flags.Int("workers", 0, "number of concurrent conversions")
	bindFlags(v, flags, map[string]string{
		"config":    "config",
		"data-dir":  "data.dir",
		"log-level": "log.level",
		"log-file":  "log.file",
		"log-json":  "log.json",
		"workers":   "workers",
	})

	serve := newServeCmd(func() *config.Config { return cfg })
	root.AddCommand(serve, newConvertCmd(func() *config.Config { return cfg }), newProbeCmd(func() *config.Config { return cfg }))
	root.RunE = serve.RunE
	return root
}

// bindFlags binds flags to viper keys so only explicitly set flags
// override env and file values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if f := flags.Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func setupLogging(cfg *config.Config) error {
	return logger.Setup(logger.Options{
		File:    cfg.Log.File,
		Console: true,
		JSON:    cfg.Log.JSON,
		Level:   logger.ParseLevel(cfg.Log.Level),
	})
}
