package http

import (
	"time"

	"github.com/slok/taskflow/internal/model"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string `json:"message"`
}

// CreateTaskRequest is the request body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Kind      string `json:"kind"`
}

// ReasonRequest is the request body of the actions that need a reason.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// VerdictRequest is the request body for POST /api/v1/tasks/:id/verdicts.
type VerdictRequest struct {
	Phase     string `json:"phase"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail"`
	ReportRef string `json:"report_ref"`
}

// ArtifactRequest is the request body for POST /api/v1/tasks/:id/artifacts.
type ArtifactRequest struct {
	Phase string `json:"phase"`
	Kind  string `json:"kind"`
	Ref   string `json:"ref"`
}

// ModeRequest is the request body for PUT /api/v1/tasks/:id/mode.
type ModeRequest struct {
	Testing string `json:"testing"`
	Review  string `json:"review"`
}

// ModeResponse is a resolved workflow mode.
type ModeResponse struct {
	Testing string `json:"testing"`
	Review  string `json:"review"`
}

// ArtifactResponse is an artifact reference.
type ArtifactResponse struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

// HistoryResponse is one accepted transition.
type HistoryResponse struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Trigger   string    `json:"trigger"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkUnitResponse is a work unit of a task in progress.
type WorkUnitResponse struct {
	ID                string `json:"id"`
	AgentKind         string `json:"agent_kind"`
	BoundedContextKey string `json:"bounded_context_key"`
	Status            string `json:"status"`
	Attempts          int    `json:"attempts"`
	ArtifactRef       string `json:"artifact_ref,omitempty"`
}

// VerdictResponse is a recorded verdict.
type VerdictResponse struct {
	Phase     string `json:"phase"`
	Outcome   string `json:"outcome"`
	Attempt   int    `json:"attempt"`
	Reporter  string `json:"reporter"`
	Detail    string `json:"detail,omitempty"`
	ReportRef string `json:"report_ref,omitempty"`
}

// TaskResponse is a task.
type TaskResponse struct {
	ID          string                        `json:"id"`
	ProjectID   string                        `json:"project_id"`
	Title       string                        `json:"title"`
	Kind        string                        `json:"kind"`
	Phase       string                        `json:"phase"`
	BlockedFrom string                        `json:"blocked_from,omitempty"`
	Mode        *ModeResponse                 `json:"mode,omitempty"`
	WorkUnits   []WorkUnitResponse            `json:"work_units,omitempty"`
	Artifacts   map[string][]ArtifactResponse `json:"artifacts,omitempty"`
	History     []HistoryResponse             `json:"history"`
	Verdicts    []VerdictResponse             `json:"verdicts,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
	UpdatedAt   time.Time                     `json:"updated_at"`
}

// ListTasksResponse is the response body for GET /api/v1/tasks.
type ListTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

func mapTaskToResponse(t model.Task) TaskResponse {
	r := TaskResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Kind:        string(t.Kind),
		Phase:       string(t.Phase),
		BlockedFrom: string(t.BlockedFrom),
		History:     []HistoryResponse{},
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.Mode != nil {
		r.Mode = &ModeResponse{Testing: string(t.Mode.Testing), Review: string(t.Mode.Review)}
	}
	for _, u := range t.WorkUnits {
		r.WorkUnits = append(r.WorkUnits, WorkUnitResponse{
			ID:                u.ID,
			AgentKind:         string(u.AgentKind),
			BoundedContextKey: u.BoundedContextKey,
			Status:            string(u.Status),
			Attempts:          u.Attempts,
			ArtifactRef:       u.ArtifactRef,
		})
	}
	if len(t.Artifacts) > 0 {
		r.Artifacts = map[string][]ArtifactResponse{}
		for p, as := range t.Artifacts {
			for _, a := range as {
				r.Artifacts[string(p)] = append(r.Artifacts[string(p)], ArtifactResponse{Kind: string(a.Kind), Ref: a.Ref})
			}
		}
	}
	for _, h := range t.History {
		r.History = append(r.History, HistoryResponse{
			From:      string(h.From),
			To:        string(h.To),
			Trigger:   string(h.Trigger),
			Actor:     string(h.Actor),
			Reason:    h.Reason,
			Timestamp: h.Timestamp,
		})
	}
	return r
}

func mapVerdictsToResponse(vs []model.Verdict) []VerdictResponse {
	var r []VerdictResponse
	for _, v := range vs {
		r = append(r, VerdictResponse{
			Phase:     string(v.Phase),
			Outcome:   string(v.Outcome),
			Attempt:   v.Attempt,
			Reporter:  string(v.Reporter),
			Detail:    v.Detail,
			ReportRef: v.ReportRef,
		})
	}
	return r
}
