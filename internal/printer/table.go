package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/slok/taskflow/internal/model"
)

// TablePrinter prints task information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintList prints tasks in a table format.
func (t *TablePrinter) PrintList(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tPROJECT\tKIND\tPHASE\tTITLE\tCREATED")
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", task.ID, task.ProjectID, task.Kind, phase(task), task.Title, TimeAgo(task.CreatedAt))
	}

	return nil
}

// PrintStatus prints detailed task status.
func (t *TablePrinter) PrintStatus(task model.Task, verdicts []model.Verdict) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", task.ID)
	fmt.Fprintf(t.writer, "Title:      %s\n", task.Title)
	fmt.Fprintf(t.writer, "Project:    %s\n", task.ProjectID)
	fmt.Fprintf(t.writer, "Kind:       %s\n", task.Kind)
	fmt.Fprintf(t.writer, "Phase:      %s\n", phase(task))

	mode := "unresolved"
	if task.Mode != nil {
		mode = fmt.Sprintf("testing %s, review %s", task.Mode.Testing, task.Mode.Review)
	}
	fmt.Fprintf(t.writer, "Mode:       %s\n", mode)
	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(task.CreatedAt))

	if len(task.WorkUnits) > 0 {
		fmt.Fprintf(t.writer, "\nWork units:\n")
		tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tKEY\tAGENT\tSTATUS\tATTEMPTS")
		for _, u := range task.WorkUnits {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%d\n", u.ID, u.BoundedContextKey, u.AgentKind, u.Status, u.Attempts)
		}
		tw.Flush()
	}

	if len(task.Artifacts) > 0 {
		fmt.Fprintf(t.writer, "\nArtifacts:\n")
		for _, p := range model.Phases() {
			for _, a := range task.Artifacts[p] {
				fmt.Fprintf(t.writer, "  %-12s %-16s %s\n", p, a.Kind, a.Ref)
			}
		}
	}

	if len(verdicts) > 0 {
		fmt.Fprintf(t.writer, "\nVerdicts:\n")
		for _, v := range verdicts {
			fmt.Fprintf(t.writer, "  %s #%d: %s by %s", v.Phase, v.Attempt, v.Outcome, v.Reporter)
			if v.Detail != "" {
				fmt.Fprintf(t.writer, " (%s)", v.Detail)
			}
			fmt.Fprintln(t.writer)
		}
	}

	if len(task.History) > 0 {
		fmt.Fprintf(t.writer, "\nHistory:\n")
		tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
		for _, h := range task.History {
			fmt.Fprintf(tw, "  %s\t%s -> %s\t%s\t%s\t%s\n", FormatTimestamp(h.Timestamp), h.From, h.To, h.Trigger, h.Actor, h.Reason)
		}
		tw.Flush()
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func phase(t model.Task) string {
	if t.Phase == model.PhaseBlocked {
		return fmt.Sprintf("%s (from %s)", t.Phase, t.BlockedFrom)
	}
	return string(t.Phase)
}
