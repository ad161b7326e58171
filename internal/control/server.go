// Package control exposes the running conversation over a small HTTP API:
// status, network state and shutdown.
package control

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/samcharles93/talkloop/internal/logger"
	"github.com/samcharles93/talkloop/internal/turn"
	"github.com/samcharles93/talkloop/internal/version"
)

// StatusSource reports the controller state.
type StatusSource interface {
	Status() turn.Status
}

type Server struct {
	status   StatusSource
	commands chan<- turn.Command
	clock    func() time.Time
	started  time.Time
}

// NewServer returns a server that reads status from src and forwards
// commands to the controller's queue.
func NewServer(src StatusSource, commands chan<- turn.Command) *Server {
	return &Server{
		status:   src,
		commands: commands,
		clock:    time.Now,
		started:  time.Now(),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/status", s.handleStatus)
	e.POST("/v1/network", s.handleNetwork)
	e.POST("/v1/shutdown", s.handleShutdown)
}

// Start serves on addr until ctx is done.
func Start(ctx context.Context, addr string, s *Server, readTimeout time.Duration) error {
	log := logger.Component(logger.FromContext(ctx), "control")
	e := echo.New()
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	s.Register(e)
	log.Info("starting control server", "address", addr)
	sc := echo.StartConfig{
		Address: addr,
		BeforeServeFunc: func(srv *http.Server) error {
			srv.ReadHeaderTimeout = readTimeout
			return nil
		},
	}
	err := sc.Start(ctx, e)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type StatusResponse struct {
	turn.Status
	Version string  `json:"version"`
	Uptime  float64 `json:"uptime_seconds"`
}

type NetworkRequest struct {
	Online *bool `json:"online"`
}

type CommandResponse struct {
	Accepted string `json:"accepted"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{"error": errorBody{Message: msg, Type: errType}})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:  s.status.Status(),
		Version: version.String(),
		Uptime:  s.clock().Sub(s.started).Seconds(),
	})
}

func (s *Server) handleNetwork(c *echo.Context) error {
	req, err := decodeJSON[NetworkRequest](c.Request().Body)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
	}
	if req.Online == nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "online is required")
	}
	cmd := turn.CmdNetworkOffline
	if *req.Online {
		cmd = turn.CmdNetworkOnline
	}
	return s.enqueue(c, cmd)
}

func (s *Server) handleShutdown(c *echo.Context) error {
	return s.enqueue(c, turn.CmdShutdown)
}

// enqueue never blocks the request on a busy controller.
func (s *Server) enqueue(c *echo.Context, cmd turn.Command) error {
	select {
	case s.commands <- cmd:
		return c.JSON(http.StatusAccepted, CommandResponse{Accepted: cmd.String()})
	default:
		return writeError(c, http.StatusServiceUnavailable, "busy", "command queue is full")
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
