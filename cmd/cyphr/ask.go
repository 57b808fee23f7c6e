package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/cfieandres/cyphr-tableau/internal/adapter/llm"
	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/usecase"
	"github.com/cfieandres/cyphr-tableau/internal/usecase/multiagent"
)

// payloadFlags are shared by route and ask.
type payloadFlags struct {
	data     string
	dataFile string
	taskType string
	question string
}

func (p *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.data, "data", "", "payload text or JSON")
	cmd.Flags().StringVar(&p.dataFile, "data-file", "", "read the payload from a file (- for stdin)")
	cmd.Flags().StringVar(&p.taskType, "task-type", "", "explicit task type, agent id or endpoint")
	cmd.Flags().StringVarP(&p.question, "question", "q", "", "question about the data")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
}

// payload returns the request data from --data or --data-file.
func (p *payloadFlags) payload(stdin io.Reader) (string, error) {
	switch p.dataFile {
	case "":
		return p.data, nil
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	default:
		b, err := os.ReadFile(p.dataFile)
		if err != nil {
			return "", fmt.Errorf("read data file: %w", err)
		}
		return string(b), nil
	}
}

func routeCmd(opts *rootOptions) *cobra.Command {
	var flags payloadFlags
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show which agent a request would be routed to",
		Long: `Route runs the request router without calling an LLM. It prints the
chosen agent, the rule that selected it and the keyword score of every
agent for the payload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := flags.payload(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				router := multiagent.NewRouterWithLogger(a.registry, a.cfg.Routing.GeneralAgentIDs, a.logger)
				decision, err := router.Route(cmd.Context(), domain.RouteRequest{
					Payload:  data,
					TaskType: flags.taskType,
					Question: flags.question,
				})
				if err != nil {
					return err
				}
				renderDecision(cmd.OutOrStdout(), decision, a.registry.List(), data)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func renderDecision(w io.Writer, decision domain.RoutingDecision, agents []domain.AgentDescriptor, payload string) {
	d := decision.Descriptor
	fmt.Fprintf(w, "%s %s (%s) via %s\n\n", okStyle.Render("→"), d.EndpointPath, d.AgentID, decision.Reason)

	rows := make([][]string, 0, len(agents))
	for _, c := range agents {
		marker := ""
		if c.EndpointPath == d.EndpointPath {
			marker = "●"
		}
		rows = append(rows, []string{marker, c.EndpointPath, strconv.Itoa(multiagent.Score(payload, c)), strconv.Itoa(c.Priority)})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("", "ENDPOINT", "SCORE", "PRIORITY").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

func askCmd(opts *rootOptions) *cobra.Command {
	var (
		flags    payloadFlags
		endpoint string
		format   string
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Send one request through the dispatcher and print the answer",
		Example: `  cyphr ask --data-file sales.json -q "Which region is growing fastest?"
  cyphr ask --endpoint /summarization --data-file sales.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := flags.payload(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if data == "" && flags.question == "" {
				return fmt.Errorf("one of --data, --data-file or --question is required")
			}
			formatType, err := usecase.ParseFormatType(format)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				providers, err := llm.BuildRegistry(cmd.Context(), a.cfg.LLM, a.logger)
				if err != nil {
					return fmt.Errorf("llm: %w", err)
				}
				dispatcher := usecase.NewDispatcher(usecase.DispatcherDeps{
					Registry: a.registry,
					Router:   multiagent.NewRouterWithLogger(a.registry, a.cfg.Routing.GeneralAgentIDs, a.logger),
					Sessions: usecase.NewSessionStore(a.logger, usecase.WithMaxHistory(a.cfg.Sessions.MaxHistory)),
					LLM:      providers,
					Tokens:   usecase.NewTokenCounter(a.cfg.RequestLogs.TokenEncoding),
					Logger:   a.logger,
				}, usecase.DispatcherConfig{
					Timeout:   a.cfg.LLM.Timeout,
					MaxTokens: a.cfg.LLM.MaxTokens,
				})

				result, err := dispatcher.Handle(cmd.Context(), usecase.DispatchRequest{
					Endpoint: endpoint,
					TaskType: flags.taskType,
					Data:     data,
					Question: flags.question,
					Format:   formatType,
				})
				if err != nil {
					return err
				}
				return renderAnswer(cmd.OutOrStdout(), result, raw)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "call this endpoint directly instead of routing")
	cmd.Flags().StringVar(&format, "format", "auto", "response format: auto, bullet, paragraph, json, raw")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the response without markdown rendering")
	return cmd
}

func renderAnswer(w io.Writer, res *usecase.DispatchResult, raw bool) error {
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%s · %s · %s · %d→%d tokens",
		res.Endpoint, res.Reason, res.Model, res.Usage.PromptTokens, res.Usage.CompletionTokens)))
	if raw {
		_, err := fmt.Fprintln(w, res.Response)
		return err
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := renderer.Render(res.Response)
	if err != nil {
		return fmt.Errorf("render response: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
