package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskflow/internal/app/attach"
	taskflowhttp "github.com/slok/taskflow/internal/http"
	"github.com/slok/taskflow/internal/model"
)

type TaskAttachCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	taskCmd *TaskCommand

	taskID string
	kind   string
	ref    string
	phase  string
}

// NewTaskAttachCommand returns the command that attaches an artifact to a task.
func NewTaskAttachCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskAttachCommand {
	c := &TaskAttachCommand{rootCmd: rootCmd, taskCmd: taskCmd}

	c.Cmd = taskCmd.Cmd.Command("attach", "Attach an artifact reference to the current phase of a task.")
	c.Cmd.Arg("id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Arg("ref", "Artifact reference in the artifact store.").Required().StringVar(&c.ref)
	c.Cmd.Flag("kind", "Artifact kind (requirements, design, other...).").Default(string(model.ArtifactKindOther)).StringVar(&c.kind)
	c.Cmd.Flag("phase", "Phase of the artifact, defaults to the current one.").StringVar(&c.phase)

	return c
}

func (c TaskAttachCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskAttachCommand) Run(ctx context.Context) error {
	return withServices(ctx, c.rootCmd, func(svcs taskflowhttp.Services) error {
		t, err := svcs.Attach.Run(ctx, attach.Request{
			TaskID: c.taskID,
			Phase:  model.Phase(c.phase),
			Kind:   model.ArtifactKind(c.kind),
			Ref:    c.ref,
		})
		if err != nil {
			return fmt.Errorf("could not attach artifact: %w", err)
		}

		return printTask(ctx, c.taskCmd.printer(c.rootCmd.Stdout), svcs, t)
	})
}
