package routes

import (
	"drift-benchmark/api/rest/handlers"
	"drift-benchmark/core/monitoring"
	"drift-benchmark/core/repository"
	"drift-benchmark/core/scheduler"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, db *repository.DB, sched *scheduler.Scheduler) {
	runRepo := repository.NewRunRepository(db)
	eventRepo := repository.NewEventRepository(db)
	itemRepo := repository.NewItemRepository(db)
	runHandler := handlers.NewRunHandler(runRepo, eventRepo, itemRepo, sched)

	exporter := monitoring.NewMetricsExporter(runRepo)
	dashboardHandler := handlers.NewDashboardHandler(runRepo, exporter)

	api := r.PathPrefix("/v1").Subrouter()

	// Run endpoints
	api.HandleFunc("/runs", runHandler.SubmitRun).Methods("POST")
	api.HandleFunc("/runs/{id}", runHandler.GetRun).Methods("GET")
	api.HandleFunc("/runs", runHandler.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}/cancel", runHandler.CancelRun).Methods("POST")
	api.HandleFunc("/runs/{id}/events", runHandler.GetRunEvents).Methods("GET")
	api.HandleFunc("/runs/{id}/items", runHandler.GetRunItems).Methods("GET")

	// Aggregate views
	api.HandleFunc("/overview", dashboardHandler.GetOverview).Methods("GET")
	r.HandleFunc("/metrics", dashboardHandler.GetMetrics).Methods("GET")
}
