package server

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kelasku/kelasku/internal/config"
	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/gateway"
	"github.com/kelasku/kelasku/internal/handler"
	"github.com/kelasku/kelasku/internal/middleware"
	"github.com/kelasku/kelasku/internal/repository"
	"github.com/kelasku/kelasku/internal/service"
	"github.com/kelasku/kelasku/internal/telemetry"
)

// AppDependencies holds the dependencies required to start the application
type AppDependencies struct {
	Config      *config.Config
	MongoDB     *mongo.Database
	RedisClient *redis.Client
	Gateway     gateway.PaymentGateway
	Media       handler.MediaPresigner
}

// App bundles the HTTP app with the background services the process runs.
type App struct {
	Fiber     *fiber.App
	Lifecycle *service.LifecycleManager
}

// NewApp creates and configures the Fiber application with the given dependencies
func NewApp(deps AppDependencies) *App {
	// Initialize repositories
	invoiceRepo := repository.NewMongoInvoiceRepository(deps.MongoDB)
	entitlementRepo := repository.NewMongoEntitlementRepository(deps.MongoDB)
	courseRepo := repository.NewMongoCourseRepository(deps.MongoDB)
	lessonRepo := repository.NewMongoLessonRepository(deps.MongoDB)
	userRepo := repository.NewMongoUserRepository(deps.MongoDB)
	refreshTokenRepo := repository.NewMongoRefreshTokenRepository(deps.MongoDB)

	var cacheRepo *repository.RedisCacheRepository
	if deps.RedisClient != nil {
		cacheRepo = repository.NewRedisCacheRepository(deps.RedisClient)
	}

	// Initialize services
	entitlementService := service.NewEntitlementService(entitlementRepo, courseRepo)
	lifecycleManager := service.NewLifecycleManager(
		invoiceRepo,
		entitlementService,
		courseRepo,
		userRepo,
		deps.Gateway,
		time.Duration(deps.Config.Payment.ExpiryHours)*time.Hour,
	)
	reconciler := service.NewReconciler(invoiceRepo, entitlementService, deps.Gateway)
	catalogService := service.NewCatalogService(courseRepo, lessonRepo, cacheRepo)
	tokenService := service.NewTokenService(deps.Config.JWT, refreshTokenRepo, userRepo)
	authService := service.NewAuthService(userRepo, tokenService)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService, tokenService)
	catalogHandler := handler.NewCatalogHandler(catalogService)
	paymentHandler := handler.NewPaymentHandler(lifecycleManager, reconciler, entitlementService)
	webhookHandler := handler.NewWebhookHandler(reconciler, deps.Config.Payment.IPaymuAPIKey)
	learningHandler := handler.NewLearningHandler(entitlementService, lessonRepo, deps.Media)
	adminHandler := handler.NewAdminHandler(catalogService, entitlementService, userRepo, courseRepo)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Kelasku API",
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(telemetry.FiberMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Correlation-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "kelasku",
		})
	})

	api := app.Group("/api")

	// Auth endpoints (public)
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/refresh", authHandler.RefreshToken)
	auth.Post("/logout", authHandler.Logout)

	// Public catalog
	api.Get("/courses", catalogHandler.ListCourses)
	api.Get("/courses/:slug", catalogHandler.GetCourse)

	// Provider webhooks (public, HMAC authenticated)
	api.Post("/webhooks/ipaymu", webhookHandler.IPAYMUWebhook)

	// Student surface (requires login)
	authed := api.Group("")
	authed.Use(middleware.VerifyAccessToken(deps.Config.JWT.Secret))

	invoices := authed.Group("/invoices")
	if deps.RedisClient != nil {
		invoices.Use(middleware.IdempotencyMiddleware(deps.RedisClient, 10*time.Minute))
	}
	invoices.Post("/", paymentHandler.Checkout)
	invoices.Get("/", paymentHandler.ListInvoices)
	invoices.Get("/:id/status", paymentHandler.GetInvoiceStatus)

	my := authed.Group("/my")
	my.Get("/courses", learningHandler.MyCourses)
	my.Get("/lessons/:id/playback", learningHandler.LessonPlayback)

	// Admin surface
	admin := api.Group("/admin")
	admin.Use(middleware.VerifyAccessToken(deps.Config.JWT.Secret))
	admin.Use(middleware.RequireRole(domain.RoleAdmin))

	admin.Get("/courses", adminHandler.ListAllCourses)
	admin.Post("/courses", adminHandler.CreateCourse)
	admin.Put("/courses/:id", adminHandler.UpdateCourse)
	admin.Delete("/courses/:id", adminHandler.DeleteCourse)
	admin.Post("/courses/:id/lessons", adminHandler.CreateLesson)
	admin.Put("/lessons/:id", adminHandler.UpdateLesson)
	admin.Delete("/lessons/:id", adminHandler.DeleteLesson)
	admin.Get("/users", adminHandler.ListUsers)
	admin.Post("/entitlements", adminHandler.GrantEntitlement)
	admin.Delete("/entitlements", adminHandler.RevokeEntitlement)

	return &App{
		Fiber:     app,
		Lifecycle: lifecycleManager,
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	log.Printf("Error: %v", err)
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
