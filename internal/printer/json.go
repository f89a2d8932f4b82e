package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/taskflow/internal/model"
)

// JSONPrinter prints task information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// listItem represents a task in the list output (subset of fields).
type listItem struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind"`
	Phase     string    `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
}

// statusOutput represents the full task status output.
type statusOutput struct {
	ID          string                      `json:"id"`
	ProjectID   string                      `json:"project_id"`
	Title       string                      `json:"title"`
	Kind        string                      `json:"kind"`
	Phase       string                      `json:"phase"`
	BlockedFrom string                      `json:"blocked_from,omitempty"`
	Mode        *modeOutput                 `json:"mode"`
	WorkUnits   []workUnitOutput            `json:"work_units,omitempty"`
	Artifacts   map[string][]artifactOutput `json:"artifacts,omitempty"`
	History     []historyOutput             `json:"history"`
	Verdicts    []verdictOutput             `json:"verdicts,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
}

type modeOutput struct {
	Testing string `json:"testing"`
	Review  string `json:"review"`
}

type workUnitOutput struct {
	ID       string `json:"id"`
	Key      string `json:"bounded_context_key"`
	Agent    string `json:"agent_kind"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
}

type artifactOutput struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

type historyOutput struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Trigger   string    `json:"trigger"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type verdictOutput struct {
	Phase    string `json:"phase"`
	Attempt  int    `json:"attempt"`
	Outcome  string `json:"outcome"`
	Reporter string `json:"reporter"`
	Detail   string `json:"detail,omitempty"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintList prints tasks in JSON format with a subset of fields.
func (j *JSONPrinter) PrintList(tasks []model.Task) error {
	items := make([]listItem, len(tasks))
	for i, t := range tasks {
		items[i] = listItem{
			ID:        t.ID,
			ProjectID: t.ProjectID,
			Title:     t.Title,
			Kind:      string(t.Kind),
			Phase:     string(t.Phase),
			CreatedAt: t.CreatedAt.UTC(),
		}
	}

	return j.encode(items)
}

// PrintStatus prints detailed task status in JSON format.
func (j *JSONPrinter) PrintStatus(task model.Task, verdicts []model.Verdict) error {
	output := statusOutput{
		ID:          task.ID,
		ProjectID:   task.ProjectID,
		Title:       task.Title,
		Kind:        string(task.Kind),
		Phase:       string(task.Phase),
		BlockedFrom: string(task.BlockedFrom),
		History:     []historyOutput{},
		CreatedAt:   task.CreatedAt.UTC(),
	}

	if task.Mode != nil {
		output.Mode = &modeOutput{Testing: string(task.Mode.Testing), Review: string(task.Mode.Review)}
	}

	for _, u := range task.WorkUnits {
		output.WorkUnits = append(output.WorkUnits, workUnitOutput{
			ID:       u.ID,
			Key:      u.BoundedContextKey,
			Agent:    string(u.AgentKind),
			Status:   string(u.Status),
			Attempts: u.Attempts,
		})
	}

	for _, p := range model.Phases() {
		for _, a := range task.Artifacts[p] {
			if output.Artifacts == nil {
				output.Artifacts = map[string][]artifactOutput{}
			}
			output.Artifacts[string(p)] = append(output.Artifacts[string(p)], artifactOutput{Kind: string(a.Kind), Ref: a.Ref})
		}
	}

	for _, h := range task.History {
		output.History = append(output.History, historyOutput{
			From:      string(h.From),
			To:        string(h.To),
			Trigger:   string(h.Trigger),
			Actor:     string(h.Actor),
			Reason:    h.Reason,
			Timestamp: h.Timestamp.UTC(),
		})
	}

	for _, v := range verdicts {
		output.Verdicts = append(output.Verdicts, verdictOutput{
			Phase:    string(v.Phase),
			Attempt:  v.Attempt,
			Outcome:  string(v.Outcome),
			Reporter: string(v.Reporter),
			Detail:   v.Detail,
		})
	}

	return j.encode(output)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
