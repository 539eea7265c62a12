// Package main implements the jarvis CLI: the server, a local chat loop and
// inspection commands against a running server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jllopis/jarvis/internal/app"
	"github.com/jllopis/jarvis/pkg/config"
)

var (
	// configPath is the YAML config file; empty runs on defaults and env.
	configPath string
	// profile selects the <config>.<profile>.yaml overlay.
	profile string
	// overrides are key=value config settings applied last.
	overrides []string
	// serverURL is the base URL used by the inspection commands.
	serverURL string
	// output selects table, json or yaml rendering.
	output string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "jarvis",
	Short: "Multi-agent conversational assistant",
	Long: `jarvis runs a pipeline of agents (memory, intent classification, web search,
weather, summarization and synthesis) behind an HTTP and websocket API.

Configuration is read from a YAML file, JARVIS_* environment variables and
--set key=value overrides, in increasing precedence.`,
	Version:       app.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (YAML)")
	flags.StringVar(&profile, "profile", os.Getenv("JARVIS_PROFILE"), "config profile overlay")
	flags.StringArrayVar(&overrides, "set", nil, "config override as key=value (repeatable)")
	flags.StringVar(&serverURL, "server", "http://localhost:8080", "jarvis server URL")
	flags.StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")

	rootCmd.AddCommand(serveCmd, chatCmd, statusCmd, tracesCmd, healthCmd, versionCmd)
}

func configOptions() config.Options {
	return config.Options{Path: configPath, Profile: profile, Overrides: overrides}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the jarvis version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "jarvis %s\n", app.Version)
	},
}
