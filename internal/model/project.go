package model

import (
	"fmt"
	"time"
)

// ProjectConfig is the per-project configuration.
type ProjectConfig struct {
	ID string
	// ManualTesting and ManualReview are nil when unset, unset means manual.
	ManualTesting    *bool
	ManualReview     *bool
	DefinitionOfDone []DoDItem
	// TestSuites are the tester agents of automated testing, empty means the task kind default.
	TestSuites       []AgentKind
	TestEnvironment  *TestEnvironmentConfig
	Timeouts         Timeouts
}

// Mode resolves the workflow mode of the project configuration.
func (c ProjectConfig) Mode() WorkflowMode {
	m := DefaultWorkflowMode()
	if c.ManualTesting != nil && !*c.ManualTesting {
		m.Testing = ModeAutomated
	}
	if c.ManualReview != nil && !*c.ManualReview {
		m.Review = ModeAutomated
	}
	return m
}

// Validate validates the project configuration.
func (c ProjectConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("project id is required: %w", ErrNotValid)
	}
	for _, item := range c.DefinitionOfDone {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("definition of done: %w", err)
		}
	}
	for _, k := range c.TestSuites {
		if k != AgentKindUITester && k != AgentKindBackendTester {
			return fmt.Errorf("test suite %q is not a tester agent: %w", k, ErrNotValid)
		}
	}
	if c.TestEnvironment != nil && c.TestEnvironment.Image == "" {
		return fmt.Errorf("test environment image is required: %w", ErrNotValid)
	}
	if c.Timeouts.Acknowledge < 0 || c.Timeouts.Completion < 0 {
		return fmt.Errorf("timeouts can't be negative: %w", ErrNotValid)
	}
	return nil
}

// DoDItem is one declarative Definition-of-Done check evaluated against a task's artifacts.
type DoDItem struct {
	Name string
	// Phase whose artifacts are checked.
	Phase Phase
	// Kind restricts the checked artifacts to a kind, empty means any.
	Kind ArtifactKind
	// MinArtifacts is the minimum number of matching artifacts.
	MinArtifacts int
	// Contains requires at least one matching artifact ref to contain the substring.
	Contains string
}

// Validate validates the item.
func (i DoDItem) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("item name is required: %w", ErrNotValid)
	}
	if !i.Phase.Valid() {
		return fmt.Errorf("item %q phase %q is invalid: %w", i.Name, i.Phase, ErrNotValid)
	}
	if i.MinArtifacts < 0 {
		return fmt.Errorf("item %q min artifacts can't be negative: %w", i.Name, ErrNotValid)
	}
	return nil
}

// TestEnvironmentConfig is the manual test environment of a project.
type TestEnvironmentConfig struct {
	Image string
	Port  int
	Env   map[string]string
}

// Timeouts overrides the dispatch timeouts of a project, zero means engine default.
type Timeouts struct {
	Acknowledge time.Duration
	Completion  time.Duration
}
