package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"drift-benchmark/api/rest/routes"
	"drift-benchmark/config"
	"drift-benchmark/core/monitoring"
	"drift-benchmark/core/repository"
	"drift-benchmark/core/runner"
	"drift-benchmark/core/scheduler"
	"drift-benchmark/providers/gemini"

	"github.com/gorilla/mux"
)

func main() {
	cfg := config.Load()

	if cfg.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY is required")
	}

	// Initialize database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Database connected successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize repositories
	runRepo := repository.NewRunRepository(db)
	itemRepo := repository.NewItemRepository(db)

	// Initialize capability clients
	client := gemini.NewClient(cfg.GeminiBaseURL, cfg.GeminiAPIKey)
	evaluator := gemini.NewEvaluator(client)

	// Initialize runner with database-backed progress reporting
	observer := scheduler.NewRunObserver(runRepo, itemRepo)
	r := runner.NewRunner(client, evaluator, observer)

	// Initialize run monitor
	monitor := monitoring.NewRunMonitor(runRepo)
	go monitor.Start(ctx)

	// Initialize scheduler
	sched := scheduler.NewScheduler(runRepo, itemRepo, r)
	go sched.Start(ctx)
	defer sched.Stop()

	// Setup routes with database and scheduler
	router := mux.NewRouter()
	routes.SetupRoutes(router, db, sched)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Start server
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()
	if err := server.Shutdown(context.Background()); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}
