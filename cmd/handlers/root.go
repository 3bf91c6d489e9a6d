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

	"tldread/internal/config"
	"tldread/internal/logger"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tldread",
		Short: "tldread turns your newsletter inbox into one daily digest",
		Long: `tldread fetches newsletters from your mailbox, summarizes each one with
Gemini, synthesizes cross-newsletter themes, and delivers a single digest
email (or writes it locally).

Typical workflow:
  tldread subscriptions detect      # find newsletters in your inbox
  tldread subscriptions add a@b.io  # subscribe to a sender
  tldread run                       # generate and deliver today's digest`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tldread.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewSubscriptionsCmd())
	rootCmd.AddCommand(NewDigestsCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and initializes logging. Handlers call it
// at the top of their run functions.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.App.LogLevel)
	return cfg, nil
}
