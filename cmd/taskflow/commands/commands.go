package commands

import (
	"context"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/taskflow/internal/conventions"
	"github.com/slok/taskflow/internal/log"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug        bool
	NoLog        bool
	NoColor      bool
	LoggerType   string
	DBPath       string
	ConfigDir    string
	ArtifactsDir string
	NATSURL      string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	dataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("db-path", "Path to the SQLite database file.").Envar("TASKFLOW_DB_PATH").Default(conventions.DBPath(dataDir)).StringVar(&c.DBPath)
	app.Flag("config-dir", "Directory with the project configuration YAML files.").Envar("TASKFLOW_CONFIG_DIR").Default(conventions.ProjectsPath(dataDir)).StringVar(&c.ConfigDir)
	app.Flag("artifacts-dir", "Directory of the local artifact store, partition files are read from it.").Envar("TASKFLOW_ARTIFACTS_DIR").Default(conventions.ArtifactsPath(dataDir)).StringVar(&c.ArtifactsDir)
	app.Flag("nats-url", "NATS server URL used for remote agents and lifecycle events.").Envar("TASKFLOW_NATS_URL").StringVar(&c.NATSURL)

	return c
}
