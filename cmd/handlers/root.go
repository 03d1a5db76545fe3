/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"newsrec/internal/config"
	"newsrec/internal/logger"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "newsrec",
		Short: "newsrec recommends news articles from RSS feeds using an LLM.",
		Long: `newsrec ingests RSS feeds into a vector store, derives each user's
interests from their recent clicks and stated preferences, and asks
an LLM to pick and explain the most relevant articles.

Run 'newsrec serve' for the HTTP API, or use the refresh, recommend
and adjust commands directly from the terminal.`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.newsrec.yaml)")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewRefreshCmd())
	rootCmd.AddCommand(NewRecommendCmd())
	rootCmd.AddCommand(NewAdjustCmd())
	rootCmd.AddCommand(NewClickCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set, then
// configures the logger from it.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Configure(logger.Options{
		Level:  cfg.App.LogLevel,
		Format: cfg.App.LogFormat,
		Output: os.Stderr,
	})

	if cfg.App.ConfigFile != "" {
		logger.Debug("Using config file", "path", cfg.App.ConfigFile)
	}
}
