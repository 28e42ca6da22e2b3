/* SPDX-License-Identifier: MIT */
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is meshd's entry point, exported so it can be extended without
// touching core functionality (mirrors facebook/time's ntpcheck RootCmd).
var RootCmd = &cobra.Command{
	Use:   "meshd",
	Short: "Offline mesh-radio daemon",
}

var (
	verbose    bool
	configPath string
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to an INI config file (spec.md §6)")
}

// configureLogging builds a new logrus logger at Info level, or Debug with
// --verbose; each subcommand that talks to an Engine calls this first.
func configureLogging() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// Execute is the main entry point for the CLI.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
