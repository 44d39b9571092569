package migrations

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// CLI exposes the store's schema migrations as a cobra command tree.
type CLI struct {
	manager *MigrationManager
	logger  *slog.Logger
}

// NewCLI creates a new CLI interface for the given migration manager.
func NewCLI(manager *MigrationManager, logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}

	return &CLI{
		manager: manager,
		logger:  logger,
	}
}

// GetRootCommand returns the root "store-migrate" command.
func (cli *CLI) GetRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "store-migrate",
		Short: "Manage the content-store manifest database schema",
		Long:  "Apply, roll back, and inspect schema migrations for the local store manifest index.",
	}

	rootCmd.AddCommand(
		cli.upCommand(),
		cli.downCommand(),
		cli.statusCommand(),
		cli.versionCommand(),
	)

	return rootCmd
}

func (cli *CLI) upCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up [version]",
		Short: "Apply migrations",
		Long:  "Apply all pending migrations or up to a specific version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var err error
			if len(args) == 0 {
				err = cli.manager.Up(ctx)
			} else {
				version, parseErr := strconv.ParseInt(args[0], 10, 64)
				if parseErr != nil {
					return fmt.Errorf("invalid version number: %w", parseErr)
				}
				err = cli.manager.UpTo(ctx, version)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("Migrations applied successfully")
			return nil
		},
	}

	return cmd
}

func (cli *CLI) downCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down [steps]",
		Short: "Rollback migrations",
		Long:  "Rollback all migrations or a specific number of steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var err error
			if len(args) == 0 {
				err = cli.manager.Down(ctx)
			} else {
				steps, parseErr := strconv.Atoi(args[0])
				if parseErr != nil {
					return fmt.Errorf("invalid number of steps: %w", parseErr)
				}
				for i := 0; i < steps; i++ {
					if downErr := cli.manager.DownByOne(ctx); downErr != nil {
						err = downErr
						break
					}
				}
			}
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}

			fmt.Println("Migrations rolled back successfully")
			return nil
		},
	}

	return cmd
}

func (cli *CLI) statusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			version, err := cli.manager.Version(ctx)
			if err != nil {
				return fmt.Errorf("failed to get current version: %w", err)
			}

			if _, err := cli.manager.Status(ctx); err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Current migration version: %d\n\n", version)
			fmt.Println(strings.Repeat("-", 40))
			return nil
		},
	}

	return cmd
}

func (cli *CLI) versionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			version, err := cli.manager.Version(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration version: %w", err)
			}

			fmt.Printf("Current migration version: %d\n", version)
			return nil
		},
	}

	return cmd
}

// Execute runs the CLI.
func (cli *CLI) Execute() error {
	return cli.GetRootCommand().Execute()
}
