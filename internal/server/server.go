// Package server contains the HTTP and WebSocket handlers of the marketplace API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/auth"
	"marketplace/internal/config"
	"marketplace/internal/featureflags"
	"marketplace/internal/middleware"
	"marketplace/internal/notifications"
	"marketplace/internal/repository"
	"marketplace/internal/service"
	"marketplace/internal/signup"
	"marketplace/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the already-initialised collaborators of a Server.
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client // nil selects the in-memory fallbacks
	Provider auth.Provider
	Uploader storage.Uploader
	Logger   *slog.Logger
	// Registry receives the HTTP metrics. Defaults to the global registry.
	Registry prometheus.Registerer
}

// Server holds all dependencies and provides handlers
type Server struct {
	config   *config.Config
	db       *gorm.DB
	redis    *redis.Client
	log      *slog.Logger
	app      *fiber.App
	prom     *fiberprometheus.FiberPrometheus
	provider auth.Provider
	limiter  *middleware.Limiter
	notifier *notifications.Notifier
	flags    *featureflags.Manager

	signup   *signup.Service
	accounts *service.AccountService
	products *service.ProductService
	chats    *service.ChatService

	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
}

// NewServerWithDeps wires repositories and services over deps and builds
// the fiber app.
func NewServerWithDeps(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.DB == nil || deps.Provider == nil || deps.Uploader == nil {
		return nil, errors.New("server: DB, Provider and Uploader are required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	profileRepo := repository.NewProfileRepository(deps.DB)
	productRepo := repository.NewProductRepository(deps.DB)
	chatRepo := repository.NewChatRepository(deps.DB)

	var (
		broker notifications.Broker
		drafts signup.DraftStore
		views  service.ViewGuard
	)
	draftTTL := time.Duration(cfg.DraftTTLMinutes) * time.Minute
	viewTTL := time.Duration(cfg.ViewGuardTTLMinutes) * time.Minute
	if deps.Redis != nil {
		broker = notifications.NewRedisBroker(deps.Redis, log)
		drafts = signup.NewRedisDraftStore(deps.Redis, draftTTL)
		views = service.NewRedisViewGuard(deps.Redis, viewTTL)
	} else {
		log.Warn("redis unavailable, using in-memory broker, draft store and view guard")
		broker = notifications.NewMemoryBroker()
		drafts = signup.NewMemoryDraftStore(draftTTL)
		views = service.NewMemoryViewGuard(viewTTL)
	}

	notifier := notifications.NewNotifier(broker)
	flags := featureflags.NewManager(cfg.FeatureFlags)

	products := service.NewProductService(productRepo, profileRepo, deps.Uploader, views, deps.Redis, log)
	chats := service.NewChatService(chatRepo, productRepo, profileRepo, notifier, flags, log)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      cfg,
		db:          deps.DB,
		redis:       deps.Redis,
		log:         log,
		prom:        fiberprometheus.NewWithRegistry(registry, cfg.ServiceName, "http", "", nil),
		provider:    deps.Provider,
		limiter:     middleware.NewLimiter(deps.Redis, log),
		notifier:    notifier,
		flags:       flags,
		signup:      signup.NewService(drafts, deps.Provider, profileRepo, log),
		accounts:    service.NewAccountService(deps.Provider, profileRepo, products, chats, log),
		products:    products,
		chats:       chats,
		shutdownCtx: ctx,
		shutdownFn:  cancel,
	}

	app := fiber.New(fiber.Config{
		AppName:      "Marketplace API",
		BodyLimit:    int(cfg.UploadMaxBytes) * 8,
		ErrorHandler: s.errorHandler,
	})
	s.app = app
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.Tracing())
	app.Use(middleware.ContextMiddleware())
	app.Use(s.prom.Middleware)
	app.Use(helmet.New(helmet.Config{CrossOriginResourcePolicy: "cross-origin"}))
	app.Use(middleware.StructuredLogger(s.log))

	// CORS runs before anything that can short-circuit so error responses
	// still carry the headers.
	app.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Viewer-ID, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: s.config.AllowedOrigins != "*",
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health", s.HealthCheck)
	s.prom.RegisterAt(app, "/metrics")
	app.Static(s.config.UploadPublicPath, s.config.UploadDir)

	required := middleware.Authenticate(s.provider, true)
	optional := middleware.Authenticate(s.provider, false)
	perMinute := func(action string) fiber.Handler {
		return middleware.RateLimit(s.limiter, action, s.config.RateLimitPerMinute, time.Minute)
	}

	api := app.Group("/api")

	drafts := api.Group("/signup/drafts")
	drafts.Post("/", s.StartSignup)
	drafts.Get("/:id", s.GetSignup)
	drafts.Delete("/:id", s.DiscardSignup)
	drafts.Put("/:id/fields/:field", s.SetSignupField)
	drafts.Post("/:id/fields/:field/validate", s.ValidateSignupField)
	drafts.Post("/:id/fields/:field/check", perMinute("duplicate_check"), s.CheckSignupField)
	drafts.Post("/:id/verification", perMinute("send_verification"), s.SendVerification)
	drafts.Post("/:id/verification/check", s.CheckVerification)
	drafts.Post("/:id/complete", s.CompleteSignup)

	authGroup := api.Group("/auth")
	authGroup.Get("/verify-email", s.VerifyEmail)
	authGroup.Post("/login", perMinute("login"), s.Login)
	authGroup.Post("/logout", required, s.Logout)
	authGroup.Post("/find-id", perMinute("find_id"), s.FindLoginID)
	authGroup.Post("/reset-password", perMinute("reset_password"), s.RequestPasswordReset)
	authGroup.Post("/reset-password/confirm", s.ConfirmPasswordReset)

	api.Get("/me", required, s.GetMe)
	api.Get("/features", optional, s.GetFeatures)

	products := api.Group("/products")
	products.Get("/", s.BrowseProducts)
	products.Get("/categories", s.GetCategories)
	products.Get("/:id", optional, s.GetProduct)
	products.Post("/", required, s.CreateProduct)

	chats := api.Group("/chats", required)
	chats.Post("/", s.StartChat)
	chats.Get("/", s.ListChats)
	chats.Get("/:id/messages", s.ListChatMessages)
	chats.Post("/:id/messages", perMinute("chat_send"), s.SendChatMessage)
	chats.Post("/:id/read", s.MarkChatRead)

	ws := app.Group("/ws", s.upgradeOnly, required)
	ws.Get("/chats/:id", s.WebSocketChatHandler())
	ws.Get("/notifications", s.WebSocketNotificationHandler())
}

// HealthCheck reports database and redis reachability. Redis being absent
// is not fatal since every redis-backed component has a fallback.
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	} else if redisStatus == "unhealthy" {
		overall = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now().UTC(),
	})
}

// Start listens on the configured port and blocks until Shutdown.
func (s *Server) Start() error {
	s.log.Info("server starting", "port", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown stops websocket workers, drains the HTTP server and closes the
// database and redis connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownFn()

	var errs []error
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	s.log.Info("server shutdown complete")
	return errors.Join(errs...)
}
