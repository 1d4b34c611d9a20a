package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/go-sql-driver/mysql"

	httpapi "github.com/i474232898/country-weather-tracker/internal/api/http"
	"github.com/i474232898/country-weather-tracker/internal/common"
	"github.com/i474232898/country-weather-tracker/internal/config"
	"github.com/i474232898/country-weather-tracker/internal/directory"
	"github.com/i474232898/country-weather-tracker/internal/scheduler"
	"github.com/i474232898/country-weather-tracker/internal/store"
	"github.com/i474232898/country-weather-tracker/internal/weather"
)

func main() {
	// Load configuration (godotenv runs inside).
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Persistence: MySQL when a DSN is configured, in-memory otherwise.
	var (
		weatherStore weather.Store
		favorites    store.FavoritesStore
	)
	if cfg.DBDSN != "" {
		db, err := openMySQL(cfg.DBDSN)
		if err != nil {
			log.Fatalf("failed to connect to mysql: %v", err)
		}
		defer db.Close()

		ms := store.NewMySQLStore(db, cfg.BackupDir)
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := ms.Migrate(migrateCtx); err != nil {
			cancel()
			log.Fatalf("failed to migrate database: %v", err)
		}
		cancel()
		weatherStore, favorites = ms, ms
	} else {
		log.Println("INFO: DB_DSN not set; using in-memory store")
		ms := store.NewMemoryStore()
		weatherStore, favorites = ms, ms
	}

	clock := common.RealClock{}

	// Country directory (passthrough + coordinate resolution).
	dir := directory.NewClient(httpClient, cfg.DirectoryBaseURL, cfg.GeocoderAPIKey)

	// Weather acquisition pipeline.
	extractor := weather.NewOpenMeteoExtractor(httpClient, dir, cfg.WeatherBaseURL, clock)
	loader := weather.NewLoader(weatherStore)
	gateway := weather.NewCacheGateway(weatherStore, extractor, loader, cfg.CacheTTL, cfg.FetchTimeout, clock)
	runner := weather.NewPipelineRunner(weatherStore, favorites, gateway, clock)

	// Optional periodic ETL trigger.
	sched := scheduler.New(runner, cfg.ETLInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration.
	app := fiber.New(fiber.Config{
		AppName:               "country-weather-tracker",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response.
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"detail": err.Error(),
			})
		},
	})

	// Global middleware.
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint.
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "country-weather-tracker",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Directory: dir,
		Favorites: favorites,
		Weather:   weatherStore,
		Gateway:   gateway,
		Runner:    runner,
	})

	// Start server with graceful shutdown.
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

// openMySQL opens the pool and pings with retries so startup tolerates a
// database container that is still coming up.
func openMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	var pingErr error
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		pingErr = db.PingContext(ctx)
		cancel()
		if pingErr == nil {
			return db, nil
		}
		log.Printf("INFO: waiting for mysql (%v)", pingErr)
		time.Sleep(2 * time.Second)
	}

	db.Close()
	return nil, pingErr
}
