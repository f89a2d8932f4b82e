package taskflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/slok/taskflow/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "taskflow"
	}

	// go test changes the CWD to the test package directory.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("TASKFLOW_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("taskflow binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "TASKFLOW_INTEGRATION"
		envBinary     = "TASKFLOW_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{Binary: os.Getenv(envBinary)}
	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// Env is an isolated taskflow data directory.
type Env struct {
	DBPath       string
	ConfigDir    string
	ArtifactsDir string
}

// NewEnv creates an isolated environment with the given project configurations.
func NewEnv(t *testing.T, projects map[string]string) Env {
	t.Helper()

	dir := t.TempDir()
	e := Env{
		DBPath:       filepath.Join(dir, "taskflow.db"),
		ConfigDir:    filepath.Join(dir, "projects"),
		ArtifactsDir: filepath.Join(dir, "artifacts"),
	}
	if err := os.MkdirAll(e.ConfigDir, 0755); err != nil {
		t.Fatal(err)
	}
	for id, data := range projects {
		if err := os.WriteFile(filepath.Join(e.ConfigDir, id+".yaml"), []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

// Args returns the global flags of the environment followed by the command arguments.
func (e Env) Args(args ...string) []string {
	return append([]string{"--db-path", e.DBPath, "--config-dir", e.ConfigDir, "--artifacts-dir", e.ArtifactsDir}, args...)
}

// RunTask runs a task subcommand with JSON output.
func RunTask(ctx context.Context, config Config, e Env, args ...string) (stdout, stderr []byte, err error) {
	all := e.Args(append([]string{"task", "--operator", "integration", "--format", "json"}, args...)...)
	return testutils.RunTaskflowArgs(ctx, nil, config.Binary, all, true)
}
