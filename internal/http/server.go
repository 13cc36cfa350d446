package http

import (
	"context"
	"net/http"
	"time"

	"github.com/funnelsheet/event-relay/internal/config"
	"github.com/funnelsheet/event-relay/internal/http/middleware"
	"github.com/funnelsheet/event-relay/internal/metrics"
	"github.com/funnelsheet/event-relay/internal/repository"
	"github.com/funnelsheet/event-relay/internal/service/queue"
	"github.com/funnelsheet/event-relay/internal/worker"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct{ e *echo.Echo }

// NewServer wires the admin/reporting surface. It carries no business logic:
// handlers only call the queue service, the repository reads and the worker's
// public operations.
func NewServer(
	cfg config.Config,
	eventsRepo repository.EventsRepository,
	queueSvc *queue.Service,
	w *worker.Worker,
	rds *redis.Client,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(cfg.Admin.APIKey)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		Burst:          cfg.RateLimit.Burst,
		KeyPrefix:      "rl:admin:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/events", enqueueHandler(queueSvc))
	v1.GET("/events", listEventsHandler(eventsRepo))
	v1.GET("/events/counts", countEventsHandler(eventsRepo))
	v1.GET("/events/export", exportEventsHandler(eventsRepo))
	v1.POST("/events/test", testEventHandler(w))
	v1.POST("/events/retry-failed", retryAllFailedHandler(w))
	v1.POST("/events/:id/retry", retryEventHandler(w))
	v1.POST("/queue/process", processQueueHandler(w))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
