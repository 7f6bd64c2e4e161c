package mfgauth

import (
	"context"
	"net/http"
	"time"
)

var startTime = time.Now()

// HealthStatus is the health check response.
type HealthStatus struct {
	Status    string                     `json:"status"`
	Uptime    string                     `json:"uptime"`
	Timestamp time.Time                  `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks,omitempty"`
}

// ComponentHealth is the health of a single dependency.
type ComponentHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthChecker is an optional interface for stores that support pinging.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// handleHealth returns the health status of the service.
func (s *AuthService) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	detailed := r.URL.Query().Get("detailed") == "true"

	status := HealthStatus{
		Status:    "healthy",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}

	if detailed {
		status.Checks = make(map[string]ComponentHealth)

		dbHealth := s.checkDatabase(ctx)
		status.Checks["database"] = dbHealth
		if dbHealth.Status != "healthy" {
			status.Status = "degraded"
		}

		redisHealth := s.checkRedis(ctx)
		status.Checks["redis"] = redisHealth
		if redisHealth.Status != "healthy" {
			status.Status = "degraded"
		}
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *AuthService) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()

	if checker, ok := s.store.(HealthChecker); ok {
		if err := checker.Ping(ctx); err != nil {
			return ComponentHealth{
				Status: "unhealthy",
				Error:  err.Error(),
			}
		}
	}

	return ComponentHealth{
		Status:  "healthy",
		Latency: time.Since(start).Round(time.Microsecond).String(),
	}
}

func (s *AuthService) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()
	if err := s.sessions.Ping(ctx); err != nil {
		return ComponentHealth{
			Status: "unhealthy",
			Error:  err.Error(),
		}
	}
	return ComponentHealth{
		Status:  "healthy",
		Latency: time.Since(start).Round(time.Microsecond).String(),
	}
}
