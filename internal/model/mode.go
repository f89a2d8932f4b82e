package model

import "fmt"

// ModeSetting is the manual/automated setting of a phase.
type ModeSetting string

const (
	ModeManual    ModeSetting = "manual"
	ModeAutomated ModeSetting = "automated"
)

// WorkflowMode is the resolved configuration snapshot for a task, read only once created.
type WorkflowMode struct {
	Testing ModeSetting
	Review  ModeSetting
}

// DefaultWorkflowMode is the fail-safe mode, automation never happens unless enabled.
func DefaultWorkflowMode() WorkflowMode {
	return WorkflowMode{Testing: ModeManual, Review: ModeManual}
}

// Validate validates the mode.
func (m WorkflowMode) Validate() error {
	for name, s := range map[string]ModeSetting{"testing": m.Testing, "review": m.Review} {
		if s != ModeManual && s != ModeAutomated {
			return fmt.Errorf("%s mode %q is invalid: %w", name, s, ErrNotValid)
		}
	}
	return nil
}

func (m WorkflowMode) String() string {
	return fmt.Sprintf("testing=%s,review=%s", m.Testing, m.Review)
}
