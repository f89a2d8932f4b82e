package model

import "time"

// TransitionEvent is published after a transition has been persisted.
type TransitionEvent struct {
	TaskID    string
	ProjectID string
	From      Phase
	To        Phase
	Trigger   Trigger
	Actor     Actor
	Reason    string
	Mode      *WorkflowMode
	Timestamp time.Time
}
