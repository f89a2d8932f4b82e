package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskflow/internal/app/status"
	taskflowhttp "github.com/slok/taskflow/internal/http"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/printer"
)

// TaskCommand groups the task subcommands and their shared flags.
type TaskCommand struct {
	Cmd *kingpin.CmdClause

	operator string
	format   string
}

// NewTaskCommand returns the task parent command.
func NewTaskCommand(app *kingpin.Application) *TaskCommand {
	c := &TaskCommand{}

	c.Cmd = app.Command("task", "Manage tasks.")
	c.Cmd.Flag("operator", "Name of the operator acting on the task.").Envar("TASKFLOW_OPERATOR").Default(os.Getenv("USER")).StringVar(&c.operator)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c TaskCommand) printer(w io.Writer) printer.Printer {
	if c.format == "json" {
		return printer.NewJSONPrinter(w)
	}
	return printer.NewTablePrinter(w)
}

// withServices runs fn with the operator services on the local database.
func withServices(ctx context.Context, root *RootCommand, fn func(svcs taskflowhttp.Services) error) error {
	st, err := newStack(ctx, root, stackOpts{})
	if err != nil {
		return err
	}
	defer st.Close()

	svcs, err := st.services(root, nil)
	if err != nil {
		return err
	}

	return fn(svcs)
}

// printTask prints the task with its verdicts.
func printTask(ctx context.Context, p printer.Printer, svcs taskflowhttp.Services, t *model.Task) error {
	st, err := svcs.Status.Run(ctx, status.Request{TaskID: t.ID})
	if err != nil {
		return fmt.Errorf("could not get task status: %w", err)
	}

	if err := p.PrintStatus(st.Task, st.Verdicts); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}
	return nil
}
