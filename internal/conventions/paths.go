package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default taskflow data directory name (relative to home).
	DefaultDataDir = ".taskflow"
	// DBFile is the SQLite database filename.
	DBFile = "taskflow.db"
	// ProjectsDir is the subdirectory for project configuration YAML files.
	ProjectsDir = "projects"
	// ArtifactsDir is the subdirectory of the local artifact store, partition files included.
	ArtifactsDir = "artifacts"

	// ProjectConfigExt is the extension of project configuration files.
	ProjectConfigExt = ".yaml"

	// DefaultHTTPAddress is the listen address of the operator API.
	DefaultHTTPAddress = ":8080"

	// TestEnvironmentLabel labels the docker containers created for manual testing.
	TestEnvironmentLabel = "io.taskflow.task-id"
)

// DBPath returns the database path inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// ProjectsPath returns the project configuration directory inside a data directory.
func ProjectsPath(dataDir string) string {
	return filepath.Join(dataDir, ProjectsDir)
}

// ArtifactsPath returns the artifact store directory inside a data directory.
func ArtifactsPath(dataDir string) string {
	return filepath.Join(dataDir, ArtifactsDir)
}

// ProjectConfigFile returns the configuration filename of a project.
func ProjectConfigFile(projectID string) string {
	return projectID + ProjectConfigExt
}
