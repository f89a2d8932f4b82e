package commands

import (
	"context"
	"fmt"
	"os"

	natsgo "github.com/nats-io/nats.go"

	"github.com/slok/taskflow/internal/app/attach"
	"github.com/slok/taskflow/internal/app/block"
	"github.com/slok/taskflow/internal/app/confirm"
	"github.com/slok/taskflow/internal/app/create"
	"github.com/slok/taskflow/internal/app/list"
	"github.com/slok/taskflow/internal/app/markdone"
	"github.com/slok/taskflow/internal/app/report"
	"github.com/slok/taskflow/internal/app/resetmode"
	"github.com/slok/taskflow/internal/app/start"
	"github.com/slok/taskflow/internal/app/status"
	"github.com/slok/taskflow/internal/app/unblock"
	"github.com/slok/taskflow/internal/config"
	"github.com/slok/taskflow/internal/events"
	eventsnats "github.com/slok/taskflow/internal/events/nats"
	taskflowhttp "github.com/slok/taskflow/internal/http"
	"github.com/slok/taskflow/internal/metrics"
	"github.com/slok/taskflow/internal/statemachine"
	storageio "github.com/slok/taskflow/internal/storage/io"
	"github.com/slok/taskflow/internal/storage/sqlite"
	"github.com/slok/taskflow/internal/verdict"
)

// stack holds the components shared by the commands that operate on tasks.
type stack struct {
	repo       *sqlite.Repository
	projects   *storageio.ProjectConfigYAMLRepository
	resolver   *config.Resolver
	machine    *statemachine.Machine
	aggregator *verdict.Aggregator
	conn       *natsgo.Conn
	ownsConn   bool
}

type stackOpts struct {
	metrics metrics.Recorder
	// publishers receive transition events besides the NATS publisher.
	publishers []events.Publisher
	// conn is used instead of dialing the root NATS URL.
	conn *natsgo.Conn
}

func newStack(ctx context.Context, root *RootCommand, opts stackOpts) (*stack, error) {
	logger := root.Logger
	if opts.metrics == nil {
		opts.metrics = metrics.Noop
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: root.DBPath,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	conn, ownsConn := opts.conn, false
	if conn == nil && root.NATSURL != "" {
		ownsConn = true
		conn, err = natsgo.Connect(root.NATSURL, natsgo.Name("taskflow"), natsgo.MaxReconnects(-1))
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("could not connect to NATS: %w", err)
		}
	}

	fail := func(err error) (*stack, error) {
		if ownsConn {
			conn.Close()
		}
		repo.Close()
		return nil, err
	}

	publishers := append([]events.Publisher{}, opts.publishers...)
	if conn != nil {
		p, err := eventsnats.NewPublisher(eventsnats.PublisherConfig{Conn: conn, Logger: logger})
		if err != nil {
			return fail(fmt.Errorf("could not create events publisher: %w", err))
		}
		publishers = append(publishers, p)
	}

	projects := storageio.NewProjectConfigYAMLRepository(os.DirFS(root.ConfigDir))
	resolver, err := config.NewResolver(config.ResolverConfig{Repository: projects, Logger: logger})
	if err != nil {
		return fail(fmt.Errorf("could not create config resolver: %w", err))
	}

	machine, err := statemachine.NewMachine(statemachine.MachineConfig{
		Repository: repo,
		Publisher:  events.MultiPublisher(publishers),
		Metrics:    opts.metrics,
		Logger:     logger,
	})
	if err != nil {
		return fail(fmt.Errorf("could not create state machine: %w", err))
	}

	aggregator, err := verdict.NewAggregator(verdict.AggregatorConfig{
		Machine:    machine,
		Repository: repo,
		Metrics:    opts.metrics,
		Logger:     logger,
	})
	if err != nil {
		return fail(fmt.Errorf("could not create verdict aggregator: %w", err))
	}

	return &stack{
		repo:       repo,
		projects:   projects,
		resolver:   resolver,
		machine:    machine,
		aggregator: aggregator,
		conn:       conn,
		ownsConn:   ownsConn,
	}, nil
}

// Close releases the stack connections, a connection passed on the options is left open.
func (s *stack) Close() {
	if s.ownsConn {
		s.conn.Close()
	}
	s.repo.Close()
}

// notifier is satisfied by the engine, operator actions wake the task loops up with it.
type notifier interface {
	Notify(taskID string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// services returns the operator services.
func (s *stack) services(root *RootCommand, n notifier) (taskflowhttp.Services, error) {
	if n == nil {
		n = noopNotifier{}
	}
	logger := root.Logger

	var (
		svcs taskflowhttp.Services
		err  error
	)
	if svcs.Create, err = create.NewService(create.ServiceConfig{Repository: s.repo, Notifier: n, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}
	if svcs.List, err = list.NewService(list.ServiceConfig{Repository: s.repo, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}
	if svcs.Status, err = status.NewService(status.ServiceConfig{Repository: s.repo, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}
	if svcs.Start, err = start.NewService(start.ServiceConfig{Machine: s.machine, Notifier: n, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}
	if svcs.Confirm, err = confirm.NewService(confirm.ServiceConfig{Machine: s.machine, Resolver: s.resolver, Repository: s.repo, Notifier: n, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}
	if svcs.Block, err = block.NewService(block.ServiceConfig{Machine: s.machine, Notifier: n, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}
	if svcs.Unblock, err = unblock.NewService(unblock.ServiceConfig{Machine: s.machine, Notifier: n, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}
	if svcs.MarkDone, err = markdone.NewService(markdone.ServiceConfig{Machine: s.machine, Notifier: n, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}
	if svcs.Report, err = report.NewService(report.ServiceConfig{Recorder: s.aggregator, Repository: s.repo, Notifier: n, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}
	if svcs.Attach, err = attach.NewService(attach.ServiceConfig{Repository: s.repo, Notifier: n, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}
	if svcs.ResetMode, err = resetmode.NewService(resetmode.ServiceConfig{Machine: s.machine, Logger: logger}); err != nil {
		return svcs, fmt.Errorf("could not create service: %w", err)
	}

	return svcs, nil
}
