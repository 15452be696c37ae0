package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gemwire/gemini/internal/config"
	"github.com/gemwire/gemini/internal/tracing"
)

var (
	version   = "dev"
	cfgFile   string
	verbosity int
	cfg       config.Config
	logger    logr.Logger
)

var rootCmd = &cobra.Command{
	Use:           "gemini",
	Short:         "Gemini protocol client and server",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0,
		"log verbosity; 1 logs every request step")

	rootCmd.AddCommand(getCmd, serveCmd, certCmd, configCmd)
}

func initConfig() error {
	stdr.SetVerbosity(verbosity)
	logger = stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	var err error
	cfg, err = config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		logger.V(1).Info("configuration loaded", "path", used)
	}
	return nil
}

// startTracing installs the configured tracer provider. The returned
// function flushes it.
func startTracing(ctx context.Context) (*tracing.Provider, func(), error) {
	provider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: %w", err)
	}
	return provider, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error(err, "flushing traces")
		}
	}, nil
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gemini:", err)
		return err
	}
	return nil
}
