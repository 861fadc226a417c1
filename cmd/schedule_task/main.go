package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"purchase_gateway/internal/models"
	"purchase_gateway/internal/services"
)

func main() {
	// defined flags
	taskName := flag.String("task_name", "", "Name of the task (mandatory): sweep_pending_purchases, reconcile_ledger_posts")
	argsStr := flag.String("arguments", "{}", "JSON arguments for the task (optional)")
	dueStr := flag.String("due", "", "Due date (optional, default: now, format: 2006-01-02 15:04 or RFC3339)")
	recurring := flag.String("recurring", "", "RFC 5545 recurrence rule, e.g. FREQ=MINUTELY;INTERVAL=10 (optional)")
	maxAttempt := flag.Int("max_attempt", 3, "Max attempts (optional, default: 3)")

	flag.Parse()

	// Validation
	if *taskName == "" {
		fmt.Println("Usage: schedule_task -task_name <name> [-arguments <json_args>] [-due <YYYY-MM-DD HH:MM>] [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	// Init DB
	db, err := services.InitDB(dsn)
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}

	// Parse arguments JSON
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(*argsStr), &args); err != nil {
		log.Fatalf("Invalid JSON arguments: %v", err)
	}

	due := time.Now()
	if *dueStr != "" {
		due, err = time.Parse(time.RFC3339, *dueStr)
		if err != nil {
			due, err = time.ParseInLocation("2006-01-02 15:04", *dueStr, time.Local)
			if err != nil {
				log.Fatalf("Invalid due date format. Use '2006-01-02 15:04' (Local) or RFC3339: %v", err)
			}
		}
	}

	var recurringPtr *string
	if *recurring != "" {
		recurringPtr = recurring
	}

	task, err := models.NewScheduledTask(*taskName, args, due, recurringPtr, *maxAttempt)
	if err != nil {
		log.Fatalf("Invalid task: %v", err)
	}
	if err := db.Create(task).Error; err != nil {
		log.Fatalf("Failed to create task: %v", err)
	}

	fmt.Printf("Successfully created task ID: %d\n", task.ID)
	fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
}
