// Package main provides the proxyreg entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clicmd "github.com/rennerdo30/proxyreg/internal/cli/server"
	"github.com/rennerdo30/proxyreg/internal/config"
	"github.com/rennerdo30/proxyreg/internal/logging"
	"github.com/rennerdo30/proxyreg/internal/server"
	"github.com/rennerdo30/proxyreg/internal/version"
)

const defaultConfigFile = "proxyreg.yaml"

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "proxyreg",
		Short:         "Named proxy registry",
		Long:          `proxyreg keeps a registry of named outbound proxy definitions backed by a YAML config file and manages it over a REST API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile, "config file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the registry server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if err := config.LoadAndValidate(configFile, &cfg); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			entries, _ := cfg.ProxyEntries() //nolint:errcheck // Validate already walked the section
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%d proxy options)\n", len(entries))
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Load the config file and print the registry diagnostic dump",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := load(configFile)
			if err != nil {
				return err
			}
			return srv.Dump(cmd.OutOrStdout())
		},
	})

	// Add CLI control commands
	rootCmd.AddCommand(clicmd.NewCommands())

	return rootCmd
}

// load reads configFile and builds a server from it without starting it.
func load(configFile string) (*server.Server, error) {
	cfg := config.DefaultConfig()
	if err := config.LoadAndValidate(configFile, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	srv, err := server.New(&cfg)
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}
	srv.SetConfigPath(configFile)
	return srv, nil
}

func run(ctx context.Context, configFile string) error {
	srv, err := load(configFile)
	if err != nil {
		return err
	}
	defer logging.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Wait() }()

	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logging.Info("Received SIGHUP, reloading configuration")
				if err := srv.ReloadConfig(); err != nil {
					logging.Error("Config reload failed", "error", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				logging.Info("Received shutdown signal", "signal", sig.String())
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer stopCancel()
				return srv.Stop(stopCtx)
			}
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server stopped: %w", err)
			}
			return nil
		}
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
