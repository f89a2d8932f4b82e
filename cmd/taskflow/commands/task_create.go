package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskflow/internal/app/create"
	taskflowhttp "github.com/slok/taskflow/internal/http"
	"github.com/slok/taskflow/internal/model"
)

type TaskCreateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	taskCmd *TaskCommand

	projectID string
	title     string
	kind      string
}

// NewTaskCreateCommand returns the task create command.
func NewTaskCreateCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskCreateCommand {
	c := &TaskCreateCommand{rootCmd: rootCmd, taskCmd: taskCmd}

	c.Cmd = taskCmd.Cmd.Command("create", "Create a task in the backlog.")
	c.Cmd.Flag("project", "Project of the task.").Short('p').Required().StringVar(&c.projectID)
	c.Cmd.Flag("title", "Title of the task.").Short('t').Required().StringVar(&c.title)
	c.Cmd.Flag("kind", "Kind of the task.").Default(string(model.TaskKindFeature)).
		EnumVar(&c.kind, string(model.TaskKindFeature), string(model.TaskKindBugfix), string(model.TaskKindRefactor), string(model.TaskKindChore))

	return c
}

func (c TaskCreateCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskCreateCommand) Run(ctx context.Context) error {
	return withServices(ctx, c.rootCmd, func(svcs taskflowhttp.Services) error {
		t, err := svcs.Create.Run(ctx, create.Request{
			ProjectID: c.projectID,
			Title:     c.title,
			Kind:      model.TaskKind(c.kind),
		})
		if err != nil {
			return fmt.Errorf("could not create task: %w", err)
		}

		return printTask(ctx, c.taskCmd.printer(c.rootCmd.Stdout), svcs, t)
	})
}
