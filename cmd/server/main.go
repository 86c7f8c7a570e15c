package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jsoniter "github.com/json-iterator/go"

	"resume-backend/internal/ai"
	"resume-backend/internal/auth"
	"resume-backend/internal/cache"
	"resume-backend/internal/config"
	"resume-backend/internal/engine"
	"resume-backend/internal/metadata"
	"resume-backend/internal/storage"
	"resume-backend/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s)", cfg.Server.Port, cfg.Database.Driver)

	// 2. Load table configurations
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(reg, cfg.Tables.Dir); err != nil {
		log.Fatalf("Failed to load table configurations: %v", err)
	}
	log.Printf("Loaded %d tables", len(reg.AllTables()))

	// 3. Connect to database
	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 4. Bootstrap collections and seed data
	if err := store.Bootstrap(ctx, db, reg, cfg.Admin); err != nil {
		log.Fatalf("Failed to bootstrap collections: %v", err)
	}
	log.Println("Collections ready")

	// 5. Cache, blob storage and cleanup
	rc, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to create cache: %v", err)
	}
	defer rc.Close()

	if cfg.Storage.Driver != "local" {
		log.Fatalf("Unsupported storage driver %q", cfg.Storage.Driver)
	}
	blobs := storage.NewLocalStorage(cfg.Storage.LocalPath, cfg.Storage.MaxFileSize)
	cleanup := engine.NewBlobCleanup(db, blobs, cfg.BlobCleanup.MaxAttempts)

	roles := engine.NewRoleResolver(db, reg, rc, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
	tables := engine.NewHandler(db, reg, roles, blobs, cleanup)

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 7. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 8. Auth routes (login/refresh/logout need no token)
	authHandler := auth.NewAuthHandler(db, tables, cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, authHandler)

	// 9. Auth middleware for all protected routes
	authMW := authHandler.Middleware()

	// 10. Resume upload and extraction
	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	provider := ai.NewProvider(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, timeout)
	if provider == nil {
		log.Println("WARN: no AI provider configured; uploads need an active record in settings")
	}
	ai.RegisterRoutes(app, ai.NewHandler(tables, db, blobs, provider, timeout), authMW)

	// 11. Generic table and file routes
	engine.RegisterTableRoutes(app, tables, authMW)
	engine.RegisterFileRoutes(app, engine.NewFileHandler(tables), authMW)

	// 12. Start blob cleanup scheduler
	if err := cleanup.Start(ctx, cfg.BlobCleanup.Schedule); err != nil {
		log.Fatalf("Failed to start blob cleanup: %v", err)
	}
	defer cleanup.Stop()

	// 13. Start server
	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("ERROR: shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Printf("ERROR: server stopped: %v", err)
	}
}
