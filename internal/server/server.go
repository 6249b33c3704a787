// Package server contains the HTTP handlers for the feed API.
package server

import (
	"context"
	"fmt"
	"log"
	"time"

	_ "everyday/docs" // swagger docs
	"everyday/internal/artifact"
	"everyday/internal/bootstrap"
	"everyday/internal/config"
	"everyday/internal/featureflags"
	"everyday/internal/middleware"
	"everyday/internal/models"
	"everyday/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
)

// Per-client burst limit for the visit counter. Tagged creation is bounded
// by the daily quota only.
const (
	visitBurst  = 30
	burstWindow = time.Minute
)

// Deps are the collaborators a Server needs. Runtime owns and closes them.
type Deps struct {
	Redis   *redis.Client
	Store   artifact.Store
	Posts   *service.PostService
	Visits  *service.VisitService
	Flags   *featureflags.Manager
	Runtime *bootstrap.Runtime
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	redis          *redis.Client
	store          artifact.Store
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	runtime        *bootstrap.Runtime
	featureFlags   *featureflags.Manager
	postService    *service.PostService
	visitService   *service.VisitService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(context.Background(), cfg, bootstrap.Options{
		SeedBaseSelfie: !cfg.IsProduction(),
	})
	if err != nil {
		return nil, fmt.Errorf("runtime initialization failed: %w", err)
	}
	return NewServerWithDeps(cfg, Deps{
		Redis:   rt.Redis,
		Store:   rt.Store,
		Posts:   rt.Posts,
		Visits:  rt.Visits,
		Flags:   rt.Flags,
		Runtime: rt,
	}), nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer has built them.
func NewServerWithDeps(cfg *config.Config, deps Deps) *Server {
	flags := deps.Flags
	if flags == nil {
		flags = featureflags.NewManager(cfg.FeatureFlags)
	}
	visits := deps.Visits
	if visits == nil {
		visits = service.NewVisitService(deps.Redis)
	}
	return &Server{
		config:         cfg,
		redis:          deps.Redis,
		store:          deps.Store,
		promMiddleware: middleware.InitMetrics("everyday-api"),
		runtime:        deps.Runtime,
		featureFlags:   flags,
		postService:    deps.Posts,
		visitService:   visits,
	}
}

// NewApp builds the fiber app with the error handler and body limit used in
// production.
func (s *Server) NewApp() *fiber.App {
	maxMB := s.config.MaxUploadSizeMB
	if maxMB <= 0 {
		maxMB = service.DefaultImageMaxUploadSizeMB
	}
	return fiber.New(fiber.Config{
		AppName: "Everyday API",
		// Multipart overhead on top of the largest accepted selfie.
		BodyLimit:    (maxMB + 1) * 1024 * 1024,
		ErrorHandler: errorHandler,
	})
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Resolve the caller once; quota and rate limits key on it.
	app.Use(middleware.ClientIdentity())

	// Context Middleware to propagate Request ID and Client ID
	app.Use(middleware.ContextMiddleware())

	// OpenTelemetry spans (no-op exporter unless tracing is enabled)
	app.Use(middleware.TracingMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers. Media is embedded by the web client from another origin.
	app.Use(helmet.New(helmet.Config{
		CrossOriginResourcePolicy: "cross-origin",
	}))

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Api-Key",
		// Credentials cannot be combined with a wildcard origin.
		AllowCredentials: origins != "*",
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per client)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: middleware.ClientID,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
				Code:  models.CodeRateLimited,
			})
		},
	}))
}

// SetupRoutes configures all API routes
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.HealthCheck)

	// Prometheus metrics endpoint
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Generated artifacts
	app.Get("/media/*", s.GetMedia)

	api := app.Group("/api")
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{Title: "Everyday Metrics"}))
	api.Get("/swagger/*", swagger.HandlerDefault)

	api.Get("/feature-flags", s.GetFeatureFlags)

	// Daily feed
	api.Get("/posts", s.GetPosts)
	api.Get("/posts/:id", s.GetPost)
	api.All("/posts", methodNotAllowed(fiber.MethodGet))
	api.Post("/daily-posts",
		middleware.ServiceAuth(s.config.CronSecret, middleware.ScopeDailyPost),
		s.CreateDailyPost,
	)
	api.All("/daily-posts", methodNotAllowed(fiber.MethodPost))

	// Collaborative posts
	api.Get("/tagged-posts", s.GetTaggedPosts)
	api.Post("/tagged-posts", s.CreateTaggedPost)
	api.All("/tagged-posts", methodNotAllowed(fiber.MethodGet, fiber.MethodPost))
	api.Get("/tagged-posts/:id/wait", s.WaitForTaggedPost)
	api.Get("/tagged-posts/:id", s.GetTaggedPost)

	// Visit counter
	api.Get("/visits", s.GetVisits)
	api.Post("/visits",
		middleware.RateLimit(s.redis, visitBurst, burstWindow, "visits"),
		s.IncrementVisits,
	)
	api.All("/visits", methodNotAllowed(fiber.MethodGet, fiber.MethodPost))
}

// HealthCheck handles GET /health
// @Summary Health check
// @Description Reports whether the API and its dependencies are ready.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	return s.ReadinessCheck(c)
}

// LivenessCheck reports that the process is up.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck probes the artifact store and Redis.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	storeStatus := "healthy"
	if s.store == nil {
		storeStatus = "unavailable"
	} else if _, err := s.store.Head(ctx); err != nil {
		storeStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		// Redis is optional: counters fall back to process memory.
		redisStatus = "disabled"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if storeStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"message": "Everyday",
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"store": storeStatus,
			"redis": redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	app := s.NewApp()
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Shutdown the HTTP server
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	// Close store and Redis connections
	if s.runtime != nil {
		if err := s.runtime.Close(); err != nil {
			log.Printf("error closing runtime: %v", err)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
