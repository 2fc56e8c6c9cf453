// Package http exposes the service's REST and SSE surface: canonical feed
// reads, live feed streaming, circuit status, manual refresh, and the
// health/metrics endpoints.
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"

	"github.com/couchcryptid/disaster-feed-service/internal/aggregator"
	"github.com/couchcryptid/disaster-feed-service/internal/breaker"
	"github.com/couchcryptid/disaster-feed-service/internal/domain"
	"github.com/couchcryptid/disaster-feed-service/internal/fanout"
)

const heartbeatInterval = 15 * time.Second

var validate = validator.New()

// FeedService is the aggregator surface the API depends on.
type FeedService interface {
	GetCanonicalFeed(t domain.DisasterType) (domain.CanonicalFeed, error)
	CircuitStatus() map[string]breaker.Snapshot
	TriggerRefresh(ctx context.Context, target string) error
	CheckReadiness(ctx context.Context) error
}

// Server exposes the feed API plus health, readiness, and metrics routes.
type Server struct {
	app    *fiber.App
	addr   string
	svc    FeedService
	hub    *fanout.Hub
	logger *slog.Logger
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(addr string, svc FeedService, hub *fanout.Hub, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           10 * time.Second,
		IdleTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:    app,
		addr:   addr,
		svc:    svc,
		hub:    hub,
		logger: logger,
	}

	app.Get("/healthz", s.handleHealth)
	app.Get("/readyz", s.handleReady)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")
	v1.Get("/feeds/:type", s.handleGetFeed)
	v1.Get("/feeds/:type/stream", s.handleStreamFeed)
	v1.Get("/circuits", s.handleCircuits)
	v1.Post("/refresh", s.handleRefresh)

	return s
}

// Start begins listening. Blocks until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app, useful for testing.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

func (s *Server) handleReady(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	if err := s.svc.CheckReadiness(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not ready",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func (s *Server) handleGetFeed(c *fiber.Ctx) error {
	feed, err := s.svc.GetCanonicalFeed(domain.DisasterType(c.Params("type")))
	if err != nil {
		if errors.Is(err, aggregator.ErrFeedNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load feed")
	}
	return c.JSON(feed)
}

// handleStreamFeed serves server-sent events: the current feed snapshot
// first, then every regeneration until the client disconnects. Comment lines
// are sent as heartbeats so intermediaries do not reap idle connections.
func (s *Server) handleStreamFeed(c *fiber.Ctx) error {
	t := domain.DisasterType(c.Params("type"))

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	sub, cancelSub := s.hub.Subscribe(t)
	s.logger.Debug("stream subscriber attached", "type", t, "subscription", sub.ID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancelSub()

		if feed, err := s.svc.GetCanonicalFeed(t); err == nil {
			if writeSSEFeed(w, feed) != nil {
				return
			}
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case feed, ok := <-sub.Ch:
				if !ok {
					return
				}
				if writeSSEFeed(w, feed) != nil {
					return
				}
			case <-heartbeat.C:
				if _, err := w.WriteString(": heartbeat\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

func writeSSEFeed(w *bufio.Writer, feed domain.CanonicalFeed) error {
	payload, err := json.Marshal(feed)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: feed\ndata: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) handleCircuits(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"circuits": s.svc.CircuitStatus()})
}

type refreshRequest struct {
	// Target is a source name, or "merge-for-type:<type>" to regenerate a
	// canonical feed without refetching.
	Target string `json:"target" validate:"required"`
}

func (s *Server) handleRefresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := s.svc.TriggerRefresh(c.Context(), req.Target); err != nil {
		if errors.Is(err, aggregator.ErrUnknownSource) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		// Fetch failures are the breaker's concern; the trigger itself
		// succeeded.
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "refresh attempted",
			"error":  err.Error(),
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "refresh triggered",
		"target": req.Target,
	})
}
