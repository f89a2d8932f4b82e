package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	storageio "github.com/slok/taskflow/internal/storage/io"
	"github.com/slok/taskflow/internal/storage/sqlite"
)

type CheckCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewCheckCommand returns the command that validates the database and the project configuration.
func NewCheckCommand(rootCmd *RootCommand, app *kingpin.Application) *CheckCommand {
	c := &CheckCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("check", "Validate the database schema and every project configuration.")
	return c
}

func (c CheckCommand) Name() string { return c.Cmd.FullCommand() }

func (c CheckCommand) Run(ctx context.Context) error {
	out := c.rootCmd.Stdout

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: c.rootCmd.DBPath, Logger: c.rootCmd.Logger})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer repo.Close()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	fmt.Fprintf(out, "✓ database %s\n", c.rootCmd.DBPath)

	if _, err := os.Stat(c.rootCmd.ConfigDir); err != nil {
		return fmt.Errorf("config dir: %w", err)
	}

	projects := storageio.NewProjectConfigYAMLRepository(os.DirFS(c.rootCmd.ConfigDir))
	ids, err := projects.ListProjects(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		cfg, err := projects.GetProjectConfig(ctx, id)
		if err != nil {
			fmt.Fprintf(out, "✗ project %s: %s\n", id, err)
			errs = append(errs, fmt.Errorf("project %s: %w", id, err))
			continue
		}
		fmt.Fprintf(out, "✓ project %s (%s)\n", id, cfg.Mode())
	}

	return errors.Join(errs...)
}
