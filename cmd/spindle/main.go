// Package main provides the spindle CLI: an LLM agent runtime with
// streaming runs, tool dispatch, plugin hooks, and persisted sessions.
//
// Basic usage:
//
//	spindle run "summarize the failing tests" --model claude-sonnet-4-20250514
//	spindle sessions list
//	spindle sessions show <id>
//
// API keys come from the environment (ANTHROPIC_API_KEY, OPENAI_API_KEY)
// or the config file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "spindle",
		Short:         "LLM agent runtime",
		Long:          "Spindle runs LLM-driven agent sessions with streaming output, tool execution, and plugin hooks.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (or set SPINDLE_CONFIG)")

	rootCmd.AddCommand(
		buildRunCmd(&configPath),
		buildSessionsCmd(&configPath),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the spindle version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("spindle", version)
		},
	}
}
