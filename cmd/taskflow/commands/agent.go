package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	natsgo "github.com/nats-io/nats.go"

	"github.com/slok/taskflow/internal/agent"
	"github.com/slok/taskflow/internal/agent/fake"
	agentnats "github.com/slok/taskflow/internal/agent/nats"
	"github.com/slok/taskflow/internal/model"
	storageio "github.com/slok/taskflow/internal/storage/io"
	"github.com/slok/taskflow/internal/testenv/docker"
	"github.com/slok/taskflow/internal/utils/env"
)

type AgentCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	kind        string
	fake        bool
	queue       string
	testEnvVars []string
	publicHost  string
}

// NewAgentCommand returns the command that serves work orders of one agent kind over NATS.
func NewAgentCommand(rootCmd *RootCommand, app *kingpin.Application) *AgentCommand {
	c := &AgentCommand{rootCmd: rootCmd}

	var kinds []string
	for _, k := range model.AgentKinds() {
		kinds = append(kinds, string(k))
	}

	c.Cmd = app.Command("agent", "Serve the work orders of an agent kind over NATS.")
	c.Cmd.Flag("kind", "Agent kind served.").Required().EnumVar(&c.kind, kinds...)
	c.Cmd.Flag("fake", "Serve the kind with a fake agent that always succeeds.").BoolVar(&c.fake)
	c.Cmd.Flag("queue", "NATS queue group shared by the workers of the kind.").StringVar(&c.queue)
	c.Cmd.Flag("public-host", "Host used on the published test environment URLs.").Default("localhost").StringVar(&c.publicHost)
	c.Cmd.Flag("test-env-var", "Environment variable injected in every test environment (KEY=VALUE or KEY), repeatable.").StringsVar(&c.testEnvVars)

	return c
}

func (c AgentCommand) Name() string { return c.Cmd.FullCommand() }

func (c AgentCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger
	kind := model.AgentKind(c.kind)

	if c.rootCmd.NATSURL == "" {
		return fmt.Errorf("--nats-url is required")
	}

	var a agent.Agent
	switch {
	case c.fake:
		fa, err := fake.NewAgent(fake.AgentConfig{Kind: kind, PartitionDir: c.rootCmd.ArtifactsDir, Logger: logger})
		if err != nil {
			return fmt.Errorf("could not create fake agent: %w", err)
		}
		a = fa

	case kind == model.AgentKindTestEnvironment:
		testEnvVars, err := env.ParseSpecs(c.testEnvVars)
		if err != nil {
			return fmt.Errorf("invalid test environment variables: %w", err)
		}
		da, err := docker.NewAgent(docker.AgentConfig{
			Projects:   storageio.NewProjectConfigYAMLRepository(os.DirFS(c.rootCmd.ConfigDir)),
			PublicHost: c.publicHost,
			Env:        testEnvVars,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("could not create docker test environment agent: %w", err)
		}
		a = da

	default:
		return fmt.Errorf("%s agents are external, only test environments or fake agents are served", kind)
	}

	conn, err := natsgo.Connect(c.rootCmd.NATSURL, natsgo.Name("taskflow-"+c.kind), natsgo.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("could not connect to NATS: %w", err)
	}
	defer conn.Close()

	w, err := agentnats.NewWorker(agentnats.WorkerConfig{
		Conn:   conn,
		Kind:   kind,
		Agent:  a,
		Queue:  c.queue,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create worker: %w", err)
	}

	return w.Run(ctx)
}
