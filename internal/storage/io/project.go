package io

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/taskflow/internal/conventions"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
)

// ProjectConfigYAMLRepository loads project configuration from `<project-id>.yaml` files.
type ProjectConfigYAMLRepository struct {
	fs fs.FS
}

var _ storage.ProjectConfigRepository = &ProjectConfigYAMLRepository{}

// NewProjectConfigYAMLRepository creates a new YAML project configuration repository.
func NewProjectConfigYAMLRepository(filesystem fs.FS) *ProjectConfigYAMLRepository {
	return &ProjectConfigYAMLRepository{fs: filesystem}
}

// GetProjectConfig loads a project configuration and returns a validated domain model.
// A missing project file returns model.ErrNotFound.
func (r *ProjectConfigYAMLRepository) GetProjectConfig(ctx context.Context, projectID string) (*model.ProjectConfig, error) {
	if projectID == "" || !fs.ValidPath(projectID) || path.Base(projectID) != projectID {
		return nil, fmt.Errorf("invalid project id %q: %w", projectID, model.ErrNotValid)
	}

	data, err := fs.ReadFile(r.fs, conventions.ProjectConfigFile(projectID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("project %s configuration: %w", projectID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("reading project config file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	m, err := cfg.toModel(projectID)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return m, nil
}

// ListProjects returns the IDs of the projects with a configuration file, sorted.
func (r *ProjectConfigYAMLRepository) ListProjects(ctx context.Context) ([]string, error) {
	matches, err := fs.Glob(r.fs, "*"+conventions.ProjectConfigExt)
	if err != nil {
		return nil, fmt.Errorf("listing project config files: %w", err)
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(m, conventions.ProjectConfigExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// ProjectConfig represents the YAML structure for project configuration.
type ProjectConfig struct {
	ManualTesting    *bool                  `yaml:"manual_testing"`
	ManualReview     *bool                  `yaml:"manual_review"`
	DefinitionOfDone []DoDItem              `yaml:"definition_of_done"`
	TestSuites       []string               `yaml:"test_suites"`
	TestEnvironment  *TestEnvironmentConfig `yaml:"test_environment,omitempty"`
	Timeouts         TimeoutsConfig         `yaml:"timeouts"`
}

// DoDItem represents the YAML structure of a Definition-of-Done checklist item.
type DoDItem struct {
	Name         string `yaml:"name"`
	Phase        string `yaml:"phase"`
	Kind         string `yaml:"kind"`
	MinArtifacts int    `yaml:"min_artifacts"`
	Contains     string `yaml:"contains"`
}

// TestEnvironmentConfig represents the YAML structure of the manual test environment.
type TestEnvironmentConfig struct {
	Image string            `yaml:"image"`
	Port  int               `yaml:"port"`
	Env   map[string]string `yaml:"env"`
}

// TimeoutsConfig represents the YAML structure of the dispatch timeouts, Go duration strings.
type TimeoutsConfig struct {
	Acknowledge string `yaml:"acknowledge"`
	Completion  string `yaml:"completion"`
}

func (c ProjectConfig) toModel(projectID string) (*model.ProjectConfig, error) {
	m := &model.ProjectConfig{
		ID:            projectID,
		ManualTesting: c.ManualTesting,
		ManualReview:  c.ManualReview,
	}

	for _, item := range c.DefinitionOfDone {
		phase := model.Phase(item.Phase)
		if phase == "" {
			phase = model.PhaseInProgress
		}
		m.DefinitionOfDone = append(m.DefinitionOfDone, model.DoDItem{
			Name:         item.Name,
			Phase:        phase,
			Kind:         model.ArtifactKind(item.Kind),
			MinArtifacts: item.MinArtifacts,
			Contains:     item.Contains,
		})
	}

	for _, s := range c.TestSuites {
		switch s {
		case "ui", string(model.AgentKindUITester):
			m.TestSuites = append(m.TestSuites, model.AgentKindUITester)
		case "backend", string(model.AgentKindBackendTester):
			m.TestSuites = append(m.TestSuites, model.AgentKindBackendTester)
		default:
			return nil, fmt.Errorf("unknown test suite %q: %w", s, model.ErrNotValid)
		}
	}

	if c.TestEnvironment != nil {
		m.TestEnvironment = &model.TestEnvironmentConfig{
			Image: c.TestEnvironment.Image,
			Port:  c.TestEnvironment.Port,
			Env:   c.TestEnvironment.Env,
		}
	}

	var err error
	m.Timeouts.Acknowledge, err = parseDuration(c.Timeouts.Acknowledge)
	if err != nil {
		return nil, fmt.Errorf("timeouts.acknowledge: %w", err)
	}
	m.Timeouts.Completion, err = parseDuration(c.Timeouts.Completion)
	if err != nil {
		return nil, fmt.Errorf("timeouts.completion: %w", err)
	}

	return m, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", err, model.ErrNotValid)
	}
	return d, nil
}
