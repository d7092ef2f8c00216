package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter wires the handlers onto their routes and wraps them with CORS
func NewRouter(h *Handlers) http.Handler {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods("GET")

	apiRouter := router.PathPrefix("/api").Subrouter()

	// Plan
	apiRouter.HandleFunc("/plan", h.GetPlan).Methods("GET")
	apiRouter.HandleFunc("/plan/script", h.GetPlanScript).Methods("GET")

	// Runs
	apiRouter.HandleFunc("/verifications", h.StartVerification).Methods("POST")
	apiRouter.HandleFunc("/runs", h.ListRuns).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}/cancel", h.CancelRun).Methods("POST")

	// WebSocket for real-time updates
	apiRouter.HandleFunc("/runs/{id}/stream", h.StreamRunUpdates).Methods("GET")

	// Screenshots
	apiRouter.HandleFunc("/screenshots/{filename}", h.ServeScreenshot).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	return c.Handler(router)
}
