package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	natsserver "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slok/taskflow/internal/agent"
	"github.com/slok/taskflow/internal/agent/fake"
	agentnats "github.com/slok/taskflow/internal/agent/nats"
	"github.com/slok/taskflow/internal/config"
	"github.com/slok/taskflow/internal/conventions"
	"github.com/slok/taskflow/internal/coordinator"
	"github.com/slok/taskflow/internal/dispatch"
	"github.com/slok/taskflow/internal/events"
	taskflowhttp "github.com/slok/taskflow/internal/http"
	"github.com/slok/taskflow/internal/log"
	metricsprometheus "github.com/slok/taskflow/internal/metrics/prometheus"
	"github.com/slok/taskflow/internal/model"
	"github.com/slok/taskflow/internal/orchestrator"
	storageio "github.com/slok/taskflow/internal/storage/io"
	"github.com/slok/taskflow/internal/testenv/docker"
	"github.com/slok/taskflow/internal/tracing"
	"github.com/slok/taskflow/internal/utils/env"
)

const (
	agentsNATS = "nats"
	agentsFake = "fake"
)

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	version string

	listenAddress     string
	agents            string
	embeddedNATS      bool
	embeddedNATSPort  int
	dockerTestEnv     bool
	testEnvVars       []string
	publicHost        string
	pollInterval      time.Duration
	maxParallel       int
	ackTimeout        time.Duration
	completionTimeout time.Duration
	cancelGrace       time.Duration
	otlpEndpoint      string
	otlpInsecure      bool
	traceSampleRate   float64
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application, version string) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd, version: version}

	c.Cmd = app.Command("serve", "Run the orchestration engine and the operator API.")
	c.Cmd.Flag("listen-address", "Address of the operator API and metrics.").Default(conventions.DefaultHTTPAddress).StringVar(&c.listenAddress)
	c.Cmd.Flag("agents", "Where work orders are delegated (nats, fake).").Default(agentsNATS).EnumVar(&c.agents, agentsNATS, agentsFake)
	c.Cmd.Flag("embedded-nats", "Run an embedded NATS server instead of connecting to --nats-url.").BoolVar(&c.embeddedNATS)
	c.Cmd.Flag("embedded-nats-port", "Port of the embedded NATS server.").Default("4222").IntVar(&c.embeddedNATSPort)
	c.Cmd.Flag("docker-test-env", "Publish manual test environments with the local Docker daemon.").BoolVar(&c.dockerTestEnv)
	c.Cmd.Flag("public-host", "Host used on the published test environment URLs.").Default("localhost").StringVar(&c.publicHost)
	c.Cmd.Flag("test-env-var", "Environment variable injected in every test environment (KEY=VALUE or KEY), repeatable.").StringsVar(&c.testEnvVars)
	c.Cmd.Flag("poll-interval", "Interval parked tasks are checked and new tasks discovered.").Default("5s").DurationVar(&c.pollInterval)
	c.Cmd.Flag("max-parallel", "Maximum work units developed at the same time, 0 is unlimited.").Default("0").IntVar(&c.maxParallel)
	c.Cmd.Flag("ack-timeout", "Default time an agent has to acknowledge a work order.").Default("30s").DurationVar(&c.ackTimeout)
	c.Cmd.Flag("completion-timeout", "Default time an agent has to complete a work order.").Default("1h").DurationVar(&c.completionTimeout)
	c.Cmd.Flag("cancel-grace", "Time cancelled work orders have to stop.").Default("10s").DurationVar(&c.cancelGrace)
	c.Cmd.Flag("otlp-endpoint", "OTLP HTTP collector endpoint (host:port), tracing is disabled when empty.").StringVar(&c.otlpEndpoint)
	c.Cmd.Flag("otlp-insecure", "Use plain HTTP with the OTLP collector.").BoolVar(&c.otlpInsecure)
	c.Cmd.Flag("trace-sample-rate", "Ratio of sampled traces.").Default("1").Float64Var(&c.traceSampleRate)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	for _, dir := range []string{c.rootCmd.ConfigDir, c.rootCmd.ArtifactsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("could not create directory %s: %w", dir, err)
		}
	}

	// Tracing.
	tp, err := tracing.NewProvider(ctx, tracing.ProviderConfig{
		Endpoint:       c.otlpEndpoint,
		Insecure:       c.otlpInsecure,
		SampleRate:     c.traceSampleRate,
		ServiceVersion: c.version,
	})
	if err != nil {
		return fmt.Errorf("could not create tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warningf("Could not flush traces: %s", err)
		}
	}()

	// Metrics.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metricsprometheus.NewRecorder(reg)
	if err != nil {
		return fmt.Errorf("could not create metrics recorder: %w", err)
	}

	// NATS.
	var conn *natsgo.Conn
	if c.embeddedNATS {
		ns, err := natsserver.NewServer(&natsserver.Options{Port: c.embeddedNATSPort, NoSigs: true, NoLog: true})
		if err != nil {
			return fmt.Errorf("could not create embedded NATS server: %w", err)
		}
		go ns.Start()
		defer ns.Shutdown()
		if !ns.ReadyForConnections(10 * time.Second) {
			return fmt.Errorf("embedded NATS server not ready")
		}
		logger.Infof("Embedded NATS server listening on %s", ns.ClientURL())

		conn, err = natsgo.Connect(ns.ClientURL(), natsgo.Name("taskflow"))
		if err != nil {
			return fmt.Errorf("could not connect to embedded NATS: %w", err)
		}
		defer conn.Close()
	}

	// Test environments.
	var publishers []events.Publisher
	var testEnv *docker.Agent
	if c.dockerTestEnv {
		testEnvVars, err := env.ParseSpecs(c.testEnvVars)
		if err != nil {
			return fmt.Errorf("invalid test environment variables: %w", err)
		}
		testEnv, err = docker.NewAgent(docker.AgentConfig{
			Projects:   storageio.NewProjectConfigYAMLRepository(os.DirFS(c.rootCmd.ConfigDir)),
			PublicHost: c.publicHost,
			Env:        testEnvVars,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("could not create docker test environment agent: %w", err)
		}
		publishers = append(publishers, testEnv)
	}

	st, err := newStack(ctx, c.rootCmd, stackOpts{metrics: rec, publishers: publishers, conn: conn})
	if err != nil {
		return err
	}
	defer st.Close()

	registry, err := c.agentRegistry(st.conn, testEnv, logger)
	if err != nil {
		return err
	}
	if err := registry.Validate(dispatch.RequiredAgentKinds()); err != nil {
		return fmt.Errorf("invalid agents: %w", err)
	}

	// Orchestration.
	dispatcher, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Registry:          registry,
		Ledger:            st.repo,
		AckTimeout:        c.ackTimeout,
		CompletionTimeout: c.completionTimeout,
		CancelGrace:       c.cancelGrace,
		Timeouts:          projectTimeouts(st.resolver),
		Metrics:           rec,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("could not create dispatcher: %w", err)
	}

	coord, err := coordinator.NewCoordinator(coordinator.CoordinatorConfig{
		Dispatcher:  dispatcher,
		Repository:  st.repo,
		Partitions:  storageio.NewPartitionYAMLRepository(os.DirFS(c.rootCmd.ArtifactsDir)),
		MaxParallel: c.maxParallel,
		Metrics:     rec,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create coordinator: %w", err)
	}

	engine, err := orchestrator.NewEngine(orchestrator.EngineConfig{
		Repository:   st.repo,
		Machine:      st.machine,
		Dispatcher:   dispatcher,
		Coordinator:  coord,
		Aggregator:   st.aggregator,
		Resolver:     st.resolver,
		PollInterval: c.pollInterval,
		Tracer:       tp.Tracer("github.com/slok/taskflow/internal/orchestrator"),
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("could not create engine: %w", err)
	}

	watcher, err := config.NewWatcher(config.WatcherConfig{
		Dir:         c.rootCmd.ConfigDir,
		Invalidator: st.resolver,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create config watcher: %w", err)
	}

	svcs, err := st.services(c.rootCmd, engine)
	if err != nil {
		return err
	}
	server, err := taskflowhttp.NewServer(taskflowhttp.ServerConfig{
		Address:        c.listenAddress,
		Services:       svcs,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("could not create HTTP server: %w", err)
	}

	var g run.Group

	// Parent context.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				<-ctx.Done()
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Engine.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return engine.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Project configuration reloads.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return watcher.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Operator API.
	{
		g.Add(
			func() error {
				return server.Start()
			},
			func(_ error) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					logger.Errorf("Could not shut down HTTP server: %s", err)
				}
			},
		)
	}

	logger.Infof("Taskflow serving with %s agents", c.agents)
	return g.Run()
}

func (c ServeCommand) agentRegistry(conn *natsgo.Conn, testEnv *docker.Agent, logger log.Logger) (*agent.Registry, error) {
	var registry *agent.Registry
	switch c.agents {
	case agentsFake:
		fleet, err := fake.NewFleet(fake.FleetConfig{PartitionDir: c.rootCmd.ArtifactsDir, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("could not create fake agents: %w", err)
		}
		registry = fleet.Registry()

	default:
		if conn == nil {
			return nil, fmt.Errorf("nats agents require --nats-url or --embedded-nats")
		}
		registry = agent.NewRegistry()
		for _, kind := range dispatch.RequiredAgentKinds() {
			a, err := agentnats.NewAgent(agentnats.AgentConfig{Conn: conn, Kind: kind, AckTimeout: c.ackTimeout, Logger: logger})
			if err != nil {
				return nil, fmt.Errorf("could not create %s agent: %w", kind, err)
			}
			if err := registry.Register(kind, a); err != nil {
				return nil, err
			}
		}
	}

	if testEnv != nil {
		if err := registry.Register(model.AgentKindTestEnvironment, testEnv); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// projectTimeouts returns the dispatch timeout overrides of the project configuration.
func projectTimeouts(resolver *config.Resolver) dispatch.TimeoutsFunc {
	return func(ctx context.Context, projectID string) model.Timeouts {
		cfg, err := resolver.ProjectConfig(ctx, projectID)
		if err != nil {
			return model.Timeouts{}
		}
		return cfg.Timeouts
	}
}
