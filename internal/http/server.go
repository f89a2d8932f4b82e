// Package http provides the operator HTTP API of taskflow.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

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
	"github.com/slok/taskflow/internal/conventions"
	"github.com/slok/taskflow/internal/log"
	"github.com/slok/taskflow/internal/model"
)

// OperatorHeader is the header that names the operator acting through the API.
const OperatorHeader = "X-Taskflow-Operator"

// Services are the application services exposed by the API.
type Services struct {
	Create    *create.Service
	List      *list.Service
	Status    *status.Service
	Start     *start.Service
	Confirm   *confirm.Service
	Block     *block.Service
	Unblock   *unblock.Service
	MarkDone  *markdone.Service
	Report    *report.Service
	Attach    *attach.Service
	ResetMode *resetmode.Service
}

func (s Services) validate() error {
	switch {
	case s.Create == nil, s.List == nil, s.Status == nil, s.Start == nil, s.Confirm == nil,
		s.Block == nil, s.Unblock == nil, s.MarkDone == nil, s.Report == nil, s.Attach == nil, s.ResetMode == nil:
		return fmt.Errorf("all services are required")
	}
	return nil
}

// ServerConfig is the configuration of the HTTP server.
type ServerConfig struct {
	Address  string
	Services Services
	// MetricsHandler is served on /metrics when set.
	MetricsHandler http.Handler
	Logger         log.Logger
}

func (c *ServerConfig) defaults() error {
	if c.Address == "" {
		c.Address = conventions.DefaultHTTPAddress
	}
	if err := c.Services.validate(); err != nil {
		return err
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "http.Server"})
	return nil
}

// Server provides the HTTP endpoints of taskflow.
type Server struct {
	echo     *echo.Echo
	address  string
	services Services
	logger   log.Logger
}

// NewServer creates a new HTTP server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			cfg.Logger.WithValues(log.Kv{
				"method":     c.Request().Method,
				"uri":        c.Request().RequestURI,
				"status":     c.Response().Status,
				"duration":   time.Since(start).String(),
				"request-id": c.Response().Header().Get(echo.HeaderXRequestID),
			}).Debugf("HTTP request")

			return nil
		}
	})

	s := &Server{
		echo:     e,
		address:  cfg.Address,
		services: cfg.Services,
		logger:   cfg.Logger,
	}
	s.registerRoutes(cfg.MetricsHandler)

	return s, nil
}

func (s *Server) registerRoutes(metrics http.Handler) {
	s.echo.GET("/health", s.handleHealth)
	if metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(metrics))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/tasks", s.handleListTasks)
	v1.POST("/tasks", s.handleCreateTask)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.POST("/tasks/:id/start", s.handleStart)
	v1.POST("/tasks/:id/confirm", s.handleConfirm)
	v1.POST("/tasks/:id/block", s.handleBlock)
	v1.POST("/tasks/:id/unblock", s.handleUnblock)
	v1.POST("/tasks/:id/done", s.handleMarkDone)
	v1.POST("/tasks/:id/verdicts", s.handleReportVerdict)
	v1.POST("/tasks/:id/artifacts", s.handleAttachArtifact)
	v1.PUT("/tasks/:id/mode", s.handleResetMode)
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server, it blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Infof("Starting HTTP server on %s", s.address)
	err := s.echo.Start(s.address)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infof("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListTasks(c echo.Context) error {
	req := list.Request{ProjectID: c.QueryParam("project")}
	for _, p := range c.QueryParams()["phase"] {
		req.Phases = append(req.Phases, model.Phase(p))
	}

	tasks, err := s.services.List.Run(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}

	resp := ListTasksResponse{Tasks: []TaskResponse{}}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, mapTaskToResponse(t))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateTask(c echo.Context) error {
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	t, err := s.services.Create.Run(c.Request().Context(), create.Request{
		ProjectID: req.ProjectID,
		Title:     req.Title,
		Kind:      model.TaskKind(req.Kind),
	})
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, mapTaskToResponse(*t))
}

func (s *Server) handleGetTask(c echo.Context) error {
	st, err := s.services.Status.Run(c.Request().Context(), status.Request{TaskID: c.Param("id")})
	if err != nil {
		return s.errorResponse(c, err)
	}

	resp := mapTaskToResponse(st.Task)
	resp.Verdicts = mapVerdictsToResponse(st.Verdicts)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStart(c echo.Context) error {
	t, err := s.services.Start.Run(c.Request().Context(), start.Request{TaskID: c.Param("id"), Operator: operator(c)})
	return s.taskResponse(c, t, err)
}

func (s *Server) handleConfirm(c echo.Context) error {
	t, err := s.services.Confirm.Run(c.Request().Context(), confirm.Request{TaskID: c.Param("id"), Operator: operator(c)})
	return s.taskResponse(c, t, err)
}

func (s *Server) handleBlock(c echo.Context) error {
	var req ReasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	t, err := s.services.Block.Run(c.Request().Context(), block.Request{TaskID: c.Param("id"), Operator: operator(c), Reason: req.Reason})
	return s.taskResponse(c, t, err)
}

func (s *Server) handleUnblock(c echo.Context) error {
	var req ReasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	t, err := s.services.Unblock.Run(c.Request().Context(), unblock.Request{TaskID: c.Param("id"), Operator: operator(c), Reason: req.Reason})
	return s.taskResponse(c, t, err)
}

func (s *Server) handleMarkDone(c echo.Context) error {
	var req ReasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	t, err := s.services.MarkDone.Run(c.Request().Context(), markdone.Request{TaskID: c.Param("id"), Operator: operator(c), Reason: req.Reason})
	return s.taskResponse(c, t, err)
}

func (s *Server) handleReportVerdict(c echo.Context) error {
	var req VerdictRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	t, err := s.services.Report.Run(c.Request().Context(), report.Request{
		TaskID:    c.Param("id"),
		Operator:  operator(c),
		Phase:     model.Phase(req.Phase),
		Outcome:   model.Outcome(req.Outcome),
		Detail:    req.Detail,
		ReportRef: req.ReportRef,
	})
	return s.taskResponse(c, t, err)
}

func (s *Server) handleAttachArtifact(c echo.Context) error {
	var req ArtifactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	t, err := s.services.Attach.Run(c.Request().Context(), attach.Request{
		TaskID: c.Param("id"),
		Phase:  model.Phase(req.Phase),
		Kind:   model.ArtifactKind(req.Kind),
		Ref:    req.Ref,
	})
	return s.taskResponse(c, t, err)
}

func (s *Server) handleResetMode(c echo.Context) error {
	var req ModeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	t, err := s.services.ResetMode.Run(c.Request().Context(), resetmode.Request{
		TaskID:   c.Param("id"),
		Operator: operator(c),
		Testing:  model.ModeSetting(req.Testing),
		Review:   model.ModeSetting(req.Review),
	})
	return s.taskResponse(c, t, err)
}

func (s *Server) taskResponse(c echo.Context, t *model.Task, err error) error {
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, mapTaskToResponse(*t))
}

func (s *Server) errorResponse(c echo.Context, err error) error {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Errorf("Request %s %s failed: %s", c.Request().Method, c.Request().URL.Path, err)
	}
	return c.JSON(code, ErrorResponse{Message: err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotValid):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrTransitionRejected),
		errors.Is(err, model.ErrModeImmutable),
		errors.Is(err, model.ErrDuplicateVerdict),
		errors.Is(err, model.ErrAlreadyExists),
		errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func operator(c echo.Context) string {
	return c.Request().Header.Get(OperatorHeader)
}
