package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskflow/internal/app/status"
	taskflowhttp "github.com/slok/taskflow/internal/http"
)

type TaskStatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	taskCmd *TaskCommand

	taskID string
}

// NewTaskStatusCommand returns the task status command.
func NewTaskStatusCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskStatusCommand {
	c := &TaskStatusCommand{rootCmd: rootCmd, taskCmd: taskCmd}

	c.Cmd = taskCmd.Cmd.Command("status", "Show the status, history and verdicts of a task.")
	c.Cmd.Arg("id", "Task ID.").Required().StringVar(&c.taskID)

	return c
}

func (c TaskStatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskStatusCommand) Run(ctx context.Context) error {
	return withServices(ctx, c.rootCmd, func(svcs taskflowhttp.Services) error {
		st, err := svcs.Status.Run(ctx, status.Request{TaskID: c.taskID})
		if err != nil {
			return fmt.Errorf("could not get task status: %w", err)
		}

		if err := c.taskCmd.printer(c.rootCmd.Stdout).PrintStatus(st.Task, st.Verdicts); err != nil {
			return fmt.Errorf("could not print status: %w", err)
		}
		return nil
	})
}
