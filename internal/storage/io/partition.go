package io

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/storage"
)

// PartitionRefPrefix is the artifact ref scheme of partition files.
const PartitionRefPrefix = "file://"

// PartitionYAMLRepository reads the work unit partition published by design authoring.
type PartitionYAMLRepository struct {
	fs fs.FS
}

var _ storage.PartitionRepository = &PartitionYAMLRepository{}

// NewPartitionYAMLRepository creates a new YAML partition repository rooted at the artifact store.
func NewPartitionYAMLRepository(filesystem fs.FS) *PartitionYAMLRepository {
	return &PartitionYAMLRepository{fs: filesystem}
}

// GetPartition loads the work units referenced by a design artifact ref.
func (r *PartitionYAMLRepository) GetPartition(ctx context.Context, ref string) ([]model.WorkUnit, error) {
	p := strings.TrimPrefix(ref, PartitionRefPrefix)
	if !fs.ValidPath(p) {
		return nil, fmt.Errorf("invalid partition ref %q: %w", ref, model.ErrNotValid)
	}

	data, err := fs.ReadFile(r.fs, p)
	if err != nil {
		return nil, fmt.Errorf("reading partition file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var part Partition
	if err := yaml.Unmarshal(data, &part); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	units, err := part.toModel()
	if err != nil {
		return nil, fmt.Errorf("invalid partition: %w", err)
	}

	return units, nil
}

// MarshalPartition returns the YAML representation of a partition, used by design agents.
func MarshalPartition(units []model.WorkUnit) ([]byte, error) {
	part := Partition{}
	for _, u := range units {
		part.WorkUnits = append(part.WorkUnits, WorkUnit{
			ID:             u.ID,
			Description:    u.Description,
			Agent:          string(u.AgentKind),
			BoundedContext: u.BoundedContextKey,
		})
	}
	return yaml.Marshal(part)
}

// Partition represents the YAML structure of a design partition.
type Partition struct {
	WorkUnits []WorkUnit `yaml:"work_units"`
}

// WorkUnit represents the YAML structure of a partitioned work unit.
type WorkUnit struct {
	ID             string `yaml:"id"`
	Description    string `yaml:"description"`
	Agent          string `yaml:"agent"`
	BoundedContext string `yaml:"bounded_context"`
}

func (p Partition) toModel() ([]model.WorkUnit, error) {
	if len(p.WorkUnits) == 0 {
		return nil, fmt.Errorf("at least one work unit is required: %w", model.ErrNotValid)
	}

	seen := map[string]bool{}
	units := make([]model.WorkUnit, 0, len(p.WorkUnits))
	for _, wu := range p.WorkUnits {
		if seen[wu.ID] {
			return nil, fmt.Errorf("duplicated work unit %q: %w", wu.ID, model.ErrNotValid)
		}
		seen[wu.ID] = true

		u := model.WorkUnit{
			ID:                wu.ID,
			Description:       wu.Description,
			AgentKind:         model.AgentKind(wu.Agent),
			BoundedContextKey: wu.BoundedContext,
			Status:            model.WorkUnitStatusPending,
		}
		if u.AgentKind == "" {
			u.AgentKind = model.AgentKindDeveloper
		}
		if err := u.Validate(); err != nil {
			return nil, err
		}
		units = append(units, u)
	}

	return units, nil
}
