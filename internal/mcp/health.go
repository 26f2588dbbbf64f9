package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is implemented by storage.Store, which pings the database
// and, when configured, the vector index.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
func NewHealthHandler(store HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Store:     "connected",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK
		if err := store.Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.Store = "disconnected"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
	}
}
