package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskflow/internal/app/block"
	"github.com/slok/taskflow/internal/app/confirm"
	"github.com/slok/taskflow/internal/app/markdone"
	"github.com/slok/taskflow/internal/app/start"
	"github.com/slok/taskflow/internal/app/unblock"
	taskflowhttp "github.com/slok/taskflow/internal/http"
	"github.com/slok/taskflow/internal/model"
)

type transitionFunc func(ctx context.Context, svcs taskflowhttp.Services, req transitionRequest) (*model.Task, error)

type transitionRequest struct {
	taskID   string
	operator string
	reason   string
}

// TaskTransitionCommand runs an operator transition on a task.
type TaskTransitionCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	taskCmd *TaskCommand

	action string
	run    transitionFunc
	taskID string
	reason string
}

func newTaskTransitionCommand(rootCmd *RootCommand, taskCmd *TaskCommand, name, help string, reasonRequired bool, run transitionFunc) *TaskTransitionCommand {
	c := &TaskTransitionCommand{rootCmd: rootCmd, taskCmd: taskCmd, action: name, run: run}

	c.Cmd = taskCmd.Cmd.Command(name, help)
	c.Cmd.Arg("id", "Task ID.").Required().StringVar(&c.taskID)
	reason := c.Cmd.Flag("reason", "Reason recorded on the task history.").Short('r')
	if reasonRequired {
		reason = reason.Required()
	}
	reason.StringVar(&c.reason)

	return c
}

// NewTaskStartCommand returns the command that starts the analysis of a task.
func NewTaskStartCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskTransitionCommand {
	return newTaskTransitionCommand(rootCmd, taskCmd, "start", "Start the analysis of a backlog task.", false,
		func(ctx context.Context, svcs taskflowhttp.Services, req transitionRequest) (*model.Task, error) {
			return svcs.Start.Run(ctx, start.Request{TaskID: req.taskID, Operator: req.operator})
		})
}

// NewTaskConfirmCommand returns the command that confirms a task is ready for development.
func NewTaskConfirmCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskTransitionCommand {
	return newTaskTransitionCommand(rootCmd, taskCmd, "confirm", "Confirm the analysis, resolving the workflow mode and starting development.", false,
		func(ctx context.Context, svcs taskflowhttp.Services, req transitionRequest) (*model.Task, error) {
			return svcs.Confirm.Run(ctx, confirm.Request{TaskID: req.taskID, Operator: req.operator})
		})
}

// NewTaskBlockCommand returns the command that blocks a task.
func NewTaskBlockCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskTransitionCommand {
	return newTaskTransitionCommand(rootCmd, taskCmd, "block", "Block a task, stopping its in flight work.", true,
		func(ctx context.Context, svcs taskflowhttp.Services, req transitionRequest) (*model.Task, error) {
			return svcs.Block.Run(ctx, block.Request{TaskID: req.taskID, Operator: req.operator, Reason: req.reason})
		})
}

// NewTaskUnblockCommand returns the command that clears the block of a task.
func NewTaskUnblockCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskTransitionCommand {
	return newTaskTransitionCommand(rootCmd, taskCmd, "unblock", "Clear the block of a task, returning it to the phase it was blocked from.", true,
		func(ctx context.Context, svcs taskflowhttp.Services, req transitionRequest) (*model.Task, error) {
			return svcs.Unblock.Run(ctx, unblock.Request{TaskID: req.taskID, Operator: req.operator, Reason: req.reason})
		})
}

// NewTaskDoneCommand returns the command that approves a manual code review.
func NewTaskDoneCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskTransitionCommand {
	return newTaskTransitionCommand(rootCmd, taskCmd, "done", "Approve a manual code review and mark the task as done.", false,
		func(ctx context.Context, svcs taskflowhttp.Services, req transitionRequest) (*model.Task, error) {
			return svcs.MarkDone.Run(ctx, markdone.Request{TaskID: req.taskID, Operator: req.operator, Reason: req.reason})
		})
}

func (c TaskTransitionCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskTransitionCommand) Run(ctx context.Context) error {
	return withServices(ctx, c.rootCmd, func(svcs taskflowhttp.Services) error {
		t, err := c.run(ctx, svcs, transitionRequest{taskID: c.taskID, operator: c.taskCmd.operator, reason: c.reason})
		if err != nil {
			return fmt.Errorf("could not %s task: %w", c.action, err)
		}

		return printTask(ctx, c.taskCmd.printer(c.rootCmd.Stdout), svcs, t)
	})
}
