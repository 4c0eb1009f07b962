// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Package app wires the kestrel command line.
package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kestrelauth/kestrel/pkg/logger"
)

// NewRootCommand builds the kestrel CLI.
func NewRootCommand() *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "kestrel",
		Short: "OAuth 2.0 / OpenID Connect authorization server",
		Long: `Kestrel is an OAuth 2.0 and OpenID Connect provider. It issues and
verifies tokens, registers clients, and serves the standard protocol
endpoints. Interactive browser login requires embedding the server in a
host application; the standalone binary serves the machine-facing flows.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logger.Initialize(debug)
			return initConfig(configFile)
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./kestrel.yaml)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// initConfig loads the configuration file and the KESTREL_ environment.
// A missing default config file is fine; serve validates what it needs.
func initConfig(configFile string) error {
	viper.SetEnvPrefix("KESTREL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		return nil
	}

	viper.SetConfigName("kestrel")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/kestrel")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}
