package handlers

import (
	"context"
	"net/http"
	"time"

	"feedline/internal/api"
)

// HandleHealth reports liveness and store reachability.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := api.HealthResponse{Status: "ok", Database: "ok"}
		if s.Metrics != nil {
			resp.Uptime = s.Metrics.Uptime().Round(time.Second).String()
		}
		status := http.StatusOK
		if err := s.DB.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
			status = http.StatusServiceUnavailable
		}
		writeResult(w, status, resp)
	}
}
