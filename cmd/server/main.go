package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glucolog/backend/internal/config"
	"github.com/glucolog/backend/internal/handlers"
	"github.com/glucolog/backend/internal/middleware"
	"github.com/glucolog/backend/internal/services"
	"github.com/glucolog/backend/internal/store"
	"github.com/glucolog/backend/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

func main() {
	logger.Init()

	cfg := config.Load()

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	if err := cfg.Validate(); err != nil {
		// Keep serving so the misconfiguration shows up as a structured 503
		// instead of a crash loop. The detail stays in the server log.
		logger.Error("config_invalid", err, map[string]interface{}{
			"env": cfg.Server.Env,
		})
		app.Use("/api", middleware.ConfigGuard(err))
	} else {
		st, err := store.New(context.Background(), cfg)
		if err != nil {
			log.Fatalf("credential store initialization failed: %v", err)
		}

		webauthnService, err := services.NewWebAuthnService(cfg.WebAuthn, st)
		if err != nil {
			log.Fatalf("webauthn initialization failed: %v", err)
		}

		sessionService := services.NewSessionService(cfg.Session, cfg.IsProduction())
		bootstrapService := services.NewBootstrapService(st, cfg.Bootstrap)

		var auditDB *gorm.DB
		if gs, ok := st.(*store.GormStore); ok {
			auditDB = gs.DB()
		}
		auditService := services.NewAuditService(auditDB)

		registerRoutes(app, cfg, st, webauthnService, sessionService, bootstrapService, auditService)
	}

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"env":     cfg.Server.Env,
		"backend": cfg.Store.Backend,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}

func registerRoutes(
	app *fiber.App,
	cfg *config.Config,
	st store.Store,
	webauthnService *services.WebAuthnService,
	sessionService *services.SessionService,
	bootstrapService *services.BootstrapService,
	auditService *services.AuditService,
) {
	authMiddleware := middleware.NewAuthMiddleware(st, sessionService, cfg.Server.DevAuthBypass)

	webauthnHandler := handlers.NewWebAuthnHandler(webauthnService, sessionService, auditService)
	bootstrapHandler := handlers.NewBootstrapHandler(bootstrapService, webauthnService, sessionService, auditService, cfg.WebAuthn.OwnerName)
	credentialsHandler := handlers.NewCredentialsHandler(st, auditService)

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register/options", authMiddleware.RequireAuth, webauthnHandler.RegisterOptions)
	authRoutes.Post("/register/verify", authMiddleware.RequireAuth, webauthnHandler.RegisterVerify)
	authRoutes.Post("/login/options", webauthnHandler.LoginOptions)
	authRoutes.Post("/login/verify", webauthnHandler.LoginVerify)
	authRoutes.Post("/bootstrap/options", bootstrapHandler.Options)
	authRoutes.Post("/bootstrap/verify", bootstrapHandler.Verify)
	authRoutes.Get("/session", authMiddleware.OptionalAuth, webauthnHandler.Session)
	authRoutes.Post("/logout", authMiddleware.OptionalAuth, webauthnHandler.Logout)

	credentialRoutes := api.Group("/credentials", authMiddleware.RequireAuth)
	credentialRoutes.Get("/", credentialsHandler.List)
	credentialRoutes.Patch("/:id", credentialsHandler.Rename)
	credentialRoutes.Delete("/:id", credentialsHandler.Delete)
}
