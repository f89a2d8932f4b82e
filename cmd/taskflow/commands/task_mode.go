package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskflow/internal/app/resetmode"
	taskflowhttp "github.com/slok/taskflow/internal/http"
	"github.com/slok/taskflow/internal/model"
)

type TaskModeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	taskCmd *TaskCommand

	taskID  string
	testing string
	review  string
}

// NewTaskModeCommand returns the command that resets the workflow mode of a blocked task.
func NewTaskModeCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskModeCommand {
	c := &TaskModeCommand{rootCmd: rootCmd, taskCmd: taskCmd}

	settings := []string{string(model.ModeManual), string(model.ModeAutomated)}
	c.Cmd = taskCmd.Cmd.Command("mode", "Reset the workflow mode of a blocked task.")
	c.Cmd.Arg("id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("testing", "Testing mode.").Required().EnumVar(&c.testing, settings...)
	c.Cmd.Flag("review", "Code review mode.").Required().EnumVar(&c.review, settings...)

	return c
}

func (c TaskModeCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskModeCommand) Run(ctx context.Context) error {
	return withServices(ctx, c.rootCmd, func(svcs taskflowhttp.Services) error {
		t, err := svcs.ResetMode.Run(ctx, resetmode.Request{
			TaskID:   c.taskID,
			Operator: c.taskCmd.operator,
			Testing:  model.ModeSetting(c.testing),
			Review:   model.ModeSetting(c.review),
		})
		if err != nil {
			return fmt.Errorf("could not reset mode: %w", err)
		}

		return printTask(ctx, c.taskCmd.printer(c.rootCmd.Stdout), svcs, t)
	})
}
