package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/store"
)

// seedFile is the YAML layout accepted by `kbai users seed --file`.
type seedFile struct {
	Users []store.SeedUser `yaml:"users"`
}

// NewUsersCmd constructs the `kbai users` command group.
func NewUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage chat users",
	}
	cmd.AddCommand(newUsersSeedCmd())
	return cmd
}

func newUsersSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create users from a YAML file",
		Long: `Create chat users so they can log in when open registration is off.
Existing emails are left unchanged.

File format:
  users:
    - name: Alice Smith
      email: alice@example.com

Example:
  kbai users seed --file users.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			users, err := readSeedFile(file)
			if err != nil {
				return fmt.Errorf("users seed: %w", err)
			}

			path, err := historyDBPath()
			if err != nil {
				return fmt.Errorf("users seed: %w", err)
			}
			history, err := store.Open(path)
			if err != nil {
				return fmt.Errorf("users seed: %w", err)
			}
			defer func() { _ = history.Close() }()

			created, err := history.SeedUsers(cmd.Context(), users)
			if err != nil {
				return fmt.Errorf("users seed: %w", err)
			}
			log.Info("users seeded", slog.Int("created", created), slog.Int("total", len(users)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file listing users to create")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// readSeedFile parses the seed YAML and rejects entries without an email.
func readSeedFile(path string) ([]store.SeedUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.Users) == 0 {
		return nil, fmt.Errorf("%s lists no users", path)
	}
	for i, u := range f.Users {
		if u.Email == "" {
			return nil, fmt.Errorf("%s: user %d has no email", path, i+1)
		}
	}
	return f.Users, nil
}
