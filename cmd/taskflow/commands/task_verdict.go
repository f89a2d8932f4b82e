package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskflow/internal/app/report"
	taskflowhttp "github.com/slok/taskflow/internal/http"
	"github.com/slok/taskflow/internal/model"
)

type TaskVerdictCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	taskCmd *TaskCommand

	taskID    string
	phase     string
	outcome   string
	detail    string
	reportRef string
}

// NewTaskVerdictCommand returns the command that reports a manual testing or review verdict.
func NewTaskVerdictCommand(rootCmd *RootCommand, taskCmd *TaskCommand) *TaskVerdictCommand {
	c := &TaskVerdictCommand{rootCmd: rootCmd, taskCmd: taskCmd}

	c.Cmd = taskCmd.Cmd.Command("verdict", "Report the verdict of a manual testing or code review phase.")
	c.Cmd.Arg("id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("phase", "Phase of the verdict.").Required().EnumVar(&c.phase, string(model.PhaseTesting), string(model.PhaseCodeReview))
	c.Cmd.Flag("outcome", "Outcome of the verdict.").Required().
		EnumVar(&c.outcome, string(model.OutcomePass), string(model.OutcomeFail), string(model.OutcomeBlocked))
	c.Cmd.Flag("detail", "Verdict detail.").StringVar(&c.detail)
	c.Cmd.Flag("report-ref", "Reference to the verdict report in the artifact store.").StringVar(&c.reportRef)

	return c
}

func (c TaskVerdictCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskVerdictCommand) Run(ctx context.Context) error {
	return withServices(ctx, c.rootCmd, func(svcs taskflowhttp.Services) error {
		t, err := svcs.Report.Run(ctx, report.Request{
			TaskID:    c.taskID,
			Operator:  c.taskCmd.operator,
			Phase:     model.Phase(c.phase),
			Outcome:   model.Outcome(c.outcome),
			Detail:    c.detail,
			ReportRef: c.reportRef,
		})
		if err != nil {
			return fmt.Errorf("could not report verdict: %w", err)
		}

		return printTask(ctx, c.taskCmd.printer(c.rootCmd.Stdout), svcs, t)
	})
}
