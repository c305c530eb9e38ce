// Package server contains the HTTP handlers for the feed API.
package server

import (
	"context"
	"errors"
	"time"

	"murmur/internal/bootstrap"
	"murmur/internal/config"
	"murmur/internal/featureflags"
	"murmur/internal/feed"
	"murmur/internal/identity"
	"murmur/internal/middleware"
	"murmur/internal/models"
	"murmur/internal/notifications"
	"murmur/internal/observability"
	"murmur/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	runtime        *bootstrap.Runtime
	redis          *redis.Client
	promMiddleware *fiberprometheus.FiberPrometheus
	featureFlags   *featureflags.Manager
	verifier       *identity.Verifier
	feedService    *service.FeedService
}

// NewServer opens the configured backends and creates a server on top of
// them. The in-memory driver is seeded with demo data outside production.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{SeedDemo: true})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, rt)
}

// NewServerWithDeps creates a Server using already-initialized backends.
// Use this in tests or when a bootstrap layer has seeded the store.
func NewServerWithDeps(cfg *config.Config, rt *bootstrap.Runtime) (*Server, error) {
	if rt == nil || rt.Posts == nil || rt.Users == nil {
		return nil, errors.New("server: runtime with post and user stores is required")
	}
	middleware.InitMiddleware(cfg)

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "murmur"
	}

	enricher := feed.NewEnricher(rt.Posts, rt.Users, feed.Options{
		MaxRepostDepth: cfg.FeedMaxRepostDepth,
		LikersPreview:  cfg.FeedLikersPreview,
		Concurrency:    cfg.FeedConcurrency,
		Logger:         observability.GlobalLogger.Logger,
	})
	flags := featureflags.NewManager(cfg.FeatureFlags)
	feedService := service.NewFeedService(rt.Posts, rt.Users, enricher, flags, rt.Users.IsModerator).
		WithEvents(notifications.NewNotifier(rt.Redis))

	return &Server{
		config:         cfg,
		runtime:        rt,
		redis:          rt.Redis,
		promMiddleware: middleware.InitMetrics(serviceName),
		featureFlags:   flags,
		verifier:       identity.NewVerifier(cfg.JWTSecret, rt.Users),
		feedService:    feedService,
	}, nil
}

// App builds a Fiber app with the full middleware stack and routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "murmur",
		BodyLimit: 64 * 1024,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	// Tracing runs before the context middleware so the trace id is
	// available for log correlation.
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so browser clients still receive CORS
	// headers on 429 responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))

	app.Use(middleware.Authenticate(s.verifier))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/feature-flags", s.GetFeatureFlags)

	// Public reads: a bearer token only personalizes the result.
	api.Get("/feed", s.GetFeed)
	api.Get("/users/:id/posts", s.GetUserPosts)
	api.Get("/posts/:id/reposts", s.GetReposts)
	api.Get("/posts/:id/likers", s.GetLikers)
	api.Get("/posts/:id", s.GetPost)

	// Mutations require an authenticated viewer. AuthRequired runs first so
	// rate limits are keyed by user.
	auth := middleware.AuthRequired
	posts := api.Group("/posts")
	posts.Post("/", auth, middleware.RateLimit(s.redis, 30, time.Minute, "create_post"), s.CreatePost)
	posts.Post("/:id/repost", auth, middleware.RateLimit(s.redis, 30, time.Minute, "repost"), s.Repost)
	posts.Post("/:id/like", auth, middleware.RateLimit(s.redis, 120, time.Minute, "like"), s.LikePost)
	posts.Delete("/:id/like", auth, middleware.RateLimit(s.redis, 120, time.Minute, "like"), s.UnlikePost)
	posts.Put("/:id", auth, s.UpdatePost)
	posts.Delete("/:id", auth, s.DeletePost)
}

// LivenessCheck reports that the process is serving requests.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck pings every backend. Redis is optional: a missing client
// is reported as unavailable without failing the check.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	status := fiber.StatusOK
	overall := "healthy"
	checks := fiber.Map{"redis": "unavailable"}
	for name, err := range s.runtime.Ping(ctx) {
		if err != nil {
			checks[name] = "unhealthy"
			status = fiber.StatusServiceUnavailable
			overall = "unhealthy"
			continue
		}
		checks[name] = "healthy"
	}

	resp := fiber.Map{
		"status": overall,
		"driver": s.config.DBDriver,
		"checks": checks,
		"time":   time.Now(),
	}
	if status == fiber.StatusOK {
		if n, err := s.feedService.CountPosts(ctx); err == nil {
			resp["posts"] = n
		}
	}
	return c.Status(status).JSON(resp)
}

// GetFeatureFlags returns configured feature flags and their evaluated
// state for the current viewer.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	ctx := c.UserContext()
	principal, err := feed.ResolvePrincipal(ctx, middleware.Viewer(c))
	if err != nil {
		return respondError(c, err)
	}
	userID, _ := identity.UserID(principal)

	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(userID),
	})
}

// Shutdown releases the backends opened for this server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.runtime == nil {
		return nil
	}
	if err := s.runtime.Close(ctx); err != nil {
		return models.NewStoreUnavailableError(err)
	}
	return nil
}
