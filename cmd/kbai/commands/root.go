// Package commands defines all Cobra CLI commands for the kbai binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/kbai-go/internal/audit"
	"github.com/54b3r/kbai-go/internal/config"
	"github.com/54b3r/kbai-go/internal/logging"
)

var (
	// configPath holds the --config flag value for YAML config file override.
	configPath string
	// envFilePath holds the --env-file flag value.
	envFilePath string
)

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbai",
		Short: "kbai: answer employee questions from the company knowledge base",
		Long: `kbai is a retrieval-augmented assistant over the internal knowledge base.

It ingests markdown documents (domain, policies, runbooks) and structured
data (KPI catalog, employee directory), serves a chat API that answers with
citations, and offers diagnostics for the hybrid search pipeline.

Configuration precedence: defaults, YAML (~/.kbai/config.yaml), .env,
then environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// .env first so its values count as environment and beat YAML.
			if _, err := config.LoadDotEnv(envFilePath, log); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(cmd.Context(), log, cmd.CommandPath(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kbai/config.yaml)")
	root.PersistentFlags().StringVar(&envFilePath, "env-file", "", "Path to a .env file (default: ./.env when present)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewIngestCmd(),
		NewSearchCmd(),
		NewStatsCmd(),
		NewResetCmd(),
		NewUsersCmd(),
		NewVersionCmd(),
	)

	return root
}
