package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/taskflow/cmd/taskflow/commands"
	"github.com/slok/taskflow/internal/log"
	loglogrus "github.com/slok/taskflow/internal/log/logrus"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("taskflow", "Task workflow orchestration engine.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	serveCmd := commands.NewServeCommand(rootCmd, app, Version)
	agentCmd := commands.NewAgentCommand(rootCmd, app)
	checkCmd := commands.NewCheckCommand(rootCmd, app)

	// Task subcommands share a parent command.
	taskCmd := commands.NewTaskCommand(app)
	taskCreateCmd := commands.NewTaskCreateCommand(rootCmd, taskCmd)
	taskListCmd := commands.NewTaskListCommand(rootCmd, taskCmd)
	taskStatusCmd := commands.NewTaskStatusCommand(rootCmd, taskCmd)
	taskStartCmd := commands.NewTaskStartCommand(rootCmd, taskCmd)
	taskConfirmCmd := commands.NewTaskConfirmCommand(rootCmd, taskCmd)
	taskBlockCmd := commands.NewTaskBlockCommand(rootCmd, taskCmd)
	taskUnblockCmd := commands.NewTaskUnblockCommand(rootCmd, taskCmd)
	taskDoneCmd := commands.NewTaskDoneCommand(rootCmd, taskCmd)
	taskVerdictCmd := commands.NewTaskVerdictCommand(rootCmd, taskCmd)
	taskAttachCmd := commands.NewTaskAttachCommand(rootCmd, taskCmd)
	taskModeCmd := commands.NewTaskModeCommand(rootCmd, taskCmd)

	cmds := map[string]commands.Command{
		serveCmd.Name():       serveCmd,
		agentCmd.Name():       agentCmd,
		checkCmd.Name():       checkCmd,
		taskCreateCmd.Name():  taskCreateCmd,
		taskListCmd.Name():    taskListCmd,
		taskStatusCmd.Name():  taskStatusCmd,
		taskStartCmd.Name():   taskStartCmd,
		taskConfirmCmd.Name(): taskConfirmCmd,
		taskBlockCmd.Name():   taskBlockCmd,
		taskUnblockCmd.Name(): taskUnblockCmd,
		taskDoneCmd.Name():    taskDoneCmd,
		taskVerdictCmd.Name(): taskVerdictCmd,
		taskAttachCmd.Name():  taskAttachCmd,
		taskModeCmd.Name():    taskModeCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	// Set standard input/output.
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Task commands print tables or JSON, logs would mix with them.
	// Users can still enable logging with --debug.
	if (strings.HasPrefix(cmdName, "task ") || cmdName == "check") && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	// Set logger.
	rootCmd.Logger = getLogger(*rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	// If logger not disabled use logrus logger.
	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr // By default logger goes to stderr (so it can split stdout prints).
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	switch config.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled")

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
