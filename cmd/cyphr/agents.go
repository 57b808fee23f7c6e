package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func seedCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the configured agents into the store",
		Long: `Seed writes the agents from the config file into the store.

Without --force the store is only seeded when it holds no agents. With
--force every stored agent is replaced by the configured list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				ctx := cmd.Context()
				if force {
					if err := a.store.ClearAgents(ctx); err != nil {
						return err
					}
					if err := a.registry.Load(ctx, a.cfg.Agents); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d agents in %s\n",
					okStyle.Render("✓"), a.registry.Len(), a.cfg.Storage.DBPath)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace stored agents with the configured list")
	return cmd
}

func agentsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent", "endpoints"},
		Short:   "Manage agent descriptors",
	}
	cmd.AddCommand(agentsListCmd(opts), agentsUpsertCmd(opts), agentsRemoveCmd(opts))
	return cmd
}

func agentsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List agents in routing order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				renderAgents(cmd.OutOrStdout(), a.registry.List())
				return nil
			})
		},
	}
}

func agentsUpsertCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "upsert -f agents.yaml",
		Short: "Create or replace agents from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			descriptors, err := config.LoadAgentsFile(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				for _, d := range descriptors {
					saved, _, err := a.registry.Upsert(cmd.Context(), d)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", okStyle.Render("✓"), saved.EndpointPath, saved.AgentID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with one agent, a list, or an agents: document")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func agentsRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <endpoint-path>",
		Aliases: []string{"rm"},
		Short:   "Remove an agent",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				removed, err := a.registry.Remove(cmd.Context(), path)
				if err != nil {
					return err
				}
				if !removed {
					return domain.NewDomainError("agents.remove", domain.ErrEndpointNotFound, path)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s removed %s\n", okStyle.Render("✓"), path)
				return nil
			})
		},
	}
}

// renderAgents writes descriptors as a table.
func renderAgents(w io.Writer, agents []domain.AgentDescriptor) {
	if len(agents) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no agents configured"))
		return
	}
	rows := make([][]string, 0, len(agents))
	for _, d := range agents {
		indicators := strings.Join(d.Indicators, ", ")
		if d.IsFallback() {
			indicators = "(fallback)"
		}
		rows = append(rows, []string{
			d.EndpointPath,
			d.AgentID,
			strconv.Itoa(d.Priority),
			strconv.FormatFloat(d.Temperature, 'f', -1, 64),
			d.Model,
			indicators,
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("ENDPOINT", "AGENT", "PRIORITY", "TEMP", "MODEL", "INDICATORS").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}
