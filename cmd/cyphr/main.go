// Command cyphr runs the dashboard AI backend and its admin tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "cyphr",
		Short: "LLM routing backend for dashboard extensions",
		Long: `cyphr routes dashboard data and questions to specialised LLM agents.

Usage modes:
  cyphr serve              Run the HTTP backend
  cyphr agents list        Show the configured agents
  cyphr route --data ...   Show which agent a payload would reach
  cyphr ask ...            Send a one-off request and render the answer

Configuration is read from --config, $CYPHR_CONFIG or ./config.yaml.
CYPHR_* environment variables and a .env file override it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "agents", Title: "Agents:"},
		&cobra.Group{ID: "tools", Title: "Tools:"},
	)

	for _, c := range []*cobra.Command{serveCmd(opts), seedCmd(opts)} {
		c.GroupID = "server"
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{agentsCmd(opts), routeCmd(opts), askCmd(opts)} {
		c.GroupID = "agents"
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{encryptCmd(), tokenCmd(opts), versionCmd()} {
		c.GroupID = "tools"
		root.AddCommand(c)
	}
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cyphr %s\n", version)
		},
	}
}
