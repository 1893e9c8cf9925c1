package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// UserCounter reports how many users the bot has ever seen.
type UserCounter interface {
	CountKnownUsers(ctx context.Context) (int64, error)
}

// SessionCounter reports how many download sessions are live.
type SessionCounter interface {
	Len() int
}

// Server exposes the operational endpoints: /ping for liveness and /health
// for a small status snapshot.
type Server struct {
	echo *echo.Echo
	addr string
}

func NewServer(addr string, ping *PingHandler, health *HealthHandler) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	if ping != nil {
		ping.Register(e)
	}
	if health != nil {
		health.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type PingHandler struct {
	logger *slog.Logger
}

func NewPingHandler(log *slog.Logger) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{logger: log.With(slog.String("handler", "ping"))}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/ping", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type HealthHandler struct {
	logger   *slog.Logger
	users    UserCounter
	sessions SessionCounter
	started  time.Time
}

func NewHealthHandler(log *slog.Logger, users UserCounter, sessions SessionCounter) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		logger:   log.With(slog.String("handler", "health")),
		users:    users,
		sessions: sessions,
		started:  time.Now(),
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
}

// Health reports uptime, the known-user count, and live session count. A
// failing user query degrades the report instead of failing the endpoint.
func (h *HealthHandler) Health(c echo.Context) error {
	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.sessions != nil {
		body["active_sessions"] = h.sessions.Len()
	}
	if h.users != nil {
		count, err := h.users.CountKnownUsers(c.Request().Context())
		if err != nil {
			h.logger.Warn("user count failed", slog.Any("error", err))
			body["status"] = "degraded"
		} else {
			body["known_users"] = count
		}
	}
	return c.JSON(http.StatusOK, body)
}
