package printer

import "github.com/slok/taskflow/internal/model"

// Printer knows how to print task information in different formats.
type Printer interface {
	PrintList(tasks []model.Task) error
	PrintStatus(task model.Task, verdicts []model.Verdict) error
	PrintMessage(msg string) error
}
