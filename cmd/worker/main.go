package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"purchase_gateway/internal/config"
	"purchase_gateway/internal/services"
	"purchase_gateway/internal/tasks"
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

	// Initialize Task Registry
	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, deps.Purchases, deps.Store, deps.Businesses)
	runner := tasks.NewRunner(deps.DB, registry)

	log.Printf("Worker started with tasks %v, checking every %s", registry.Names(), cfg.WorkerInterval)

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down worker...")
		cancel()
	}()

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	// Run once on start, then on every tick
	processScheduledTasks(ctx, runner)

	for {
		select {
		case <-ticker.C:
			processScheduledTasks(ctx, runner)
		case <-ctx.Done():
			return
		}
	}
}

func processScheduledTasks(ctx context.Context, runner *tasks.Runner) {
	n, err := runner.ProcessDue(ctx)
	if err != nil {
		log.Printf("Error processing scheduled tasks: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Processed %d scheduled tasks", n)
	}
}
