// Package docker publishes the manual test environments of tasks as Docker containers.
package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/taskflow/internal/agent"
	"github.com/slok/taskflow/internal/conventions"
	"github.com/slok/taskflow/internal/events"
	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
	envutil "github.com/slok/taskflow/internal/utils/env"
)

const defaultPort = 8080

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// ProjectConfigGetter returns the configuration of a project.
type ProjectConfigGetter interface {
	GetProjectConfig(ctx context.Context, projectID string) (*model.ProjectConfig, error)
}

// AgentConfig is the configuration of the Docker test environment agent.
type AgentConfig struct {
	Client   DockerClient
	Projects ProjectConfigGetter
	// PublicHost is the host used on the published environment URLs.
	PublicHost string
	// Env is injected into every environment, project variables take precedence.
	Env    map[string]string
	Logger log.Logger
}

func (c *AgentConfig) defaults() error {
	if c.Projects == nil {
		return fmt.Errorf("projects is required")
	}
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.PublicHost == "" {
		c.PublicHost = "localhost"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "testenv.Docker"})
	return nil
}

// Agent serves test environment work orders by running the project's
// test environment image as a container per task.
type Agent struct {
	client     DockerClient
	projects   ProjectConfigGetter
	publicHost string
	env        map[string]string
	logger     log.Logger
}

var (
	_ agent.Agent      = &Agent{}
	_ events.Publisher = &Agent{}
)

// NewAgent creates a new Docker test environment agent.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Agent{
		client:     cfg.Client,
		projects:   cfg.Projects,
		publicHost: cfg.PublicHost,
		env:        cfg.Env,
		logger:     cfg.Logger,
	}, nil
}

// ContainerName returns the name of the test environment container of a task.
func ContainerName(taskID string) string {
	return "taskflow-" + strings.ToLower(taskID)
}

// Submit acknowledges the order when the project declares a test environment and
// publishes it in the background.
func (a *Agent) Submit(ctx context.Context, order model.WorkOrder) (<-chan model.AgentResult, error) {
	if order.AgentKind != model.AgentKindTestEnvironment {
		return nil, fmt.Errorf("agent kind %s is not served by docker: %w", order.AgentKind, model.ErrNotValid)
	}

	cfg, err := a.projects.GetProjectConfig(ctx, order.Scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("could not get project configuration: %w", err)
	}
	if cfg.TestEnvironment == nil {
		return nil, fmt.Errorf("project %s has no test environment: %w", order.Scope.ProjectID, model.ErrNotValid)
	}
	env := *cfg.TestEnvironment

	ch := make(chan model.AgentResult, 1)
	go func() {
		ch <- a.publish(ctx, order, env)
	}()
	return ch, nil
}

func (a *Agent) publish(ctx context.Context, order model.WorkOrder, env model.TestEnvironmentConfig) model.AgentResult {
	logger := a.logger.WithValues(log.Kv{"task-id": order.TaskID, "work-order": order.ID})
	name := ContainerName(order.TaskID)
	port := env.Port
	if port == 0 {
		port = defaultPort
	}

	// A retried order reuses the environment that is already running.
	if url, ok := a.runningURL(ctx, name, port); ok {
		logger.Infof("Reusing running test environment %s", name)
		return model.AgentResult{Status: model.AgentResultStatusDone, ArtifactRef: "environment://" + name, URLs: []string{url}}
	}

	url, err := a.create(ctx, logger, order.TaskID, name, port, env)
	if err != nil {
		logger.Errorf("Could not publish test environment: %s", err)
		cleanCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rmErr := a.remove(cleanCtx, name); rmErr != nil {
			logger.Warningf("Could not clean up test environment: %s", rmErr)
		}
		return model.AgentResult{Status: model.AgentResultStatusFailed, Detail: err.Error()}
	}

	logger.Infof("Test environment published at %s", url)
	return model.AgentResult{Status: model.AgentResultStatusDone, ArtifactRef: "environment://" + name, URLs: []string{url}}
}

func (a *Agent) create(ctx context.Context, logger log.Logger, taskID, name string, port int, env model.TestEnvironmentConfig) (string, error) {
	logger.Infof("[1/4] Pulling image: %s", env.Image)
	pullResp, err := a.client.ImagePull(ctx, env.Image, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to pull image %s: %w", env.Image, err)
	}
	_, _ = io.Copy(io.Discard, pullResp)
	pullResp.Close()

	// Leftovers of a previous attempt that is not running anymore.
	if err := a.remove(ctx, name); err != nil {
		return "", err
	}

	logger.Infof("[2/4] Creating container: %s", name)
	envVars := envutil.List(envutil.Merge(a.env, env.Env))
	containerPort, err := nat.NewPort("tcp", strconv.Itoa(port))
	if err != nil {
		return "", fmt.Errorf("invalid port %d: %w", port, err)
	}

	resp, err := a.client.ContainerCreate(ctx,
		&container.Config{
			Image:        env.Image,
			Env:          envVars,
			ExposedPorts: nat.PortSet{containerPort: struct{}{}},
			Labels:       map[string]string{conventions.TestEnvironmentLabel: taskID},
		},
		&container.HostConfig{
			// Empty host port lets Docker pick a free one.
			PortBindings: nat.PortMap{containerPort: []nat.PortBinding{{HostIP: "0.0.0.0"}}},
		},
		nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	logger.Infof("[3/4] Starting container: %s", resp.ID)
	if err := a.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	logger.Infof("[4/4] Resolving published port")
	url, ok := a.runningURL(ctx, name, port)
	if !ok {
		return "", fmt.Errorf("container %s is not running or has no published port", name)
	}
	return url, nil
}

// runningURL returns the URL of the environment when its container is running with the port published.
func (a *Agent) runningURL(ctx context.Context, name string, port int) (string, bool) {
	info, err := a.client.ContainerInspect(ctx, name)
	if err != nil {
		return "", false
	}
	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running || info.NetworkSettings == nil {
		return "", false
	}

	containerPort, err := nat.NewPort("tcp", strconv.Itoa(port))
	if err != nil {
		return "", false
	}
	for _, b := range info.NetworkSettings.Ports[containerPort] {
		if b.HostPort != "" {
			return fmt.Sprintf("http://%s:%s", a.publicHost, b.HostPort), true
		}
	}
	return "", false
}

func (a *Agent) remove(ctx context.Context, name string) error {
	err := a.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !strings.Contains(err.Error(), "No such container") {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// Teardown removes the test environment of a task, missing environments are ignored.
func (a *Agent) Teardown(ctx context.Context, taskID string) error {
	return a.remove(ctx, ContainerName(taskID))
}

// PublishTransition tears the environment down once the task leaves testing for good.
// A block keeps it, the task can come back to testing.
func (a *Agent) PublishTransition(ctx context.Context, e model.TransitionEvent) error {
	leftTesting := e.From == model.PhaseTesting && e.To != model.PhaseBlocked && e.To != model.PhaseTesting
	if !leftTesting && e.To != model.PhaseDone {
		return nil
	}

	if err := a.Teardown(ctx, e.TaskID); err != nil {
		return err
	}
	a.logger.WithValues(log.Kv{"task-id": e.TaskID}).Debugf("Test environment removed")
	return nil
}
