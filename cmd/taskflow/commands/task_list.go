package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskflow/internal/app/list"
	taskflowhttp "github.com/slok/taskflow/internal/http"
	"github.com/slok/taskflow/internal/model"
)

type TaskListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	taskCmd *TaskCommand

	projectID string
	phases    []string
}

// NewTaskListCommand returns the task list command.
func NewTaskListCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskListCommand {
	c := &TaskListCommand{rootCmd: rootCmd, taskCmd: taskCmd}

	c.Cmd = taskCmd.Cmd.Command("list", "List tasks.")
	c.Cmd.Flag("project", "Filter by project.").Short('p').StringVar(&c.projectID)
	c.Cmd.Flag("phase", "Filter by phase, can be repeated.").StringsVar(&c.phases)

	return c
}

func (c TaskListCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskListCommand) Run(ctx context.Context) error {
	req := list.Request{ProjectID: c.projectID}
	for _, p := range c.phases {
		req.Phases = append(req.Phases, model.Phase(strings.ToLower(p)))
	}

	return withServices(ctx, c.rootCmd, func(svcs taskflowhttp.Services) error {
		tasks, err := svcs.List.Run(ctx, req)
		if err != nil {
			return fmt.Errorf("could not list tasks: %w", err)
		}

		if err := c.taskCmd.printer(c.rootCmd.Stdout).PrintList(tasks); err != nil {
			return fmt.Errorf("could not print list: %w", err)
		}
		return nil
	})
}
