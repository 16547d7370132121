package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
	Books      int                        `json:"books" doc:"Number of books in the catalog"`
	Sessions   int                        `json:"sessions" doc:"Number of open stream sessions"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := make(map[string]ComponentHealth)
	overall := "healthy"

	storeHealth, books := s.checkStore(ctx)
	components["store"] = storeHealth
	if storeHealth.Status != "healthy" {
		overall = "unhealthy"
	}

	sessions := s.hub.Len()
	components["sessions"] = ComponentHealth{
		Status:  "healthy",
		Message: formatSessionStatus(sessions),
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Components: components,
			Books:      books,
			Sessions:   sessions,
		},
	}, nil
}

// checkStore verifies the backend answers.
func (s *Server) checkStore(ctx context.Context) (ComponentHealth, int) {
	start := time.Now()

	err := s.catalog.Ping(ctx)
	var count int
	if err == nil {
		count, err = s.catalog.Count(ctx)
	}
	latency := time.Since(start)

	if err != nil {
		s.logger.Warn("health check: store unreachable", "error", err)
		return ComponentHealth{
			Status:  "unhealthy",
			Latency: latency.String(),
			Message: "store unreachable",
		}, 0
	}

	return ComponentHealth{
		Status:  "healthy",
		Latency: latency.String(),
	}, count
}

func formatSessionStatus(count int) string {
	switch count {
	case 0:
		return "no connected clients"
	case 1:
		return "1 connected client"
	default:
		return fmt.Sprintf("%d connected clients", count)
	}
}
