package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbai-go/internal/agent"
	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/tracing"
)

// NewAskCmd constructs the `kbai ask` command, which runs one chat turn
// through the orchestrator and prints the answer with its sources.
func NewAskCmd() *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the knowledge assistant a question",
		Long: `Run a single chat turn against the ingested knowledge base.

The answer is printed to stdout followed by the cited sources. Nothing is
written to chat history.

Examples:
  kbai ask "what is our refund window for annual plans?"
  kbai ask --stream "who owns the gross margin KPI?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush, _ := tracing.Register(tracing.ConfigFromEnv())
			defer flush()

			kb, err := openKnowledgeBase(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer kb.Close()

			retriever, err := kb.retriever(log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			orch, _, _, err := newOrchestrator(ctx, kb, retriever)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			msgs := []agent.Message{{Role: agent.RoleUser, Content: strings.Join(args, " ")}}
			out := cmd.OutOrStdout()

			var res *agent.Result
			if stream {
				res, err = orch.ExecuteStream(ctx, msgs, agent.SinkFunc(func(text string) error {
					_, werr := io.WriteString(out, text)
					return werr
				}))
				if err == nil {
					fmt.Fprintln(out)
				}
			} else {
				res, err = orch.Execute(ctx, msgs)
				if err == nil {
					fmt.Fprintln(out, res.Answer)
				}
			}
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			printSources(out, res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "Stream answer tokens as they are generated")

	return cmd
}

// printSources lists the cited documents and the tools called.
func printSources(w io.Writer, res *agent.Result) {
	if len(res.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, s := range res.Sources {
			line := "  - " + s.Document
			if s.Section != "" {
				line += " > " + s.Section
			}
			if s.Date != "" {
				line += " (" + s.Date + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
	names := make([]string, 0, len(res.ToolCalls))
	for _, tc := range res.ToolCalls {
		names = append(names, tc.Name)
	}
	if len(names) > 0 {
		fmt.Fprintf(w, "\nTools: %s (%dms)\n", strings.Join(names, ", "), res.LatencyMS)
	}
}
