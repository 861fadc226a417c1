package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"purchase_gateway/internal/config"
	"purchase_gateway/internal/handlers"
	appMiddleware "purchase_gateway/internal/middleware"
	"purchase_gateway/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	deps, err := services.NewDependencies(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	defer deps.Close()

	// Run auto-migration
	if err := services.AutoMigrate(deps.DB); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = appMiddleware.CustomErrorHandler

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Purchase routes, scoped to the business resolved from the request
	api := e.Group("/"+cfg.BasePath, appMiddleware.ResolveBusiness(deps.Businesses))
	handlers.NewPurchaseHandler(deps.Purchases).Register(api)

	go func() {
		log.Printf("Server starting on %s", cfg.HTTPAddr)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
