// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sustainable-computing-io/pmcore/internal/service"
)

// HealthProbe serves the liveness and readiness of the other services
type HealthProbe struct {
	logger    *slog.Logger
	apiServer APIService
	services  []service.Service
}

var _ service.Initializer = (*HealthProbe)(nil)

// ServiceHealth is the health of a single service
type ServiceHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

// HealthStatus is the overall health
type HealthStatus struct {
	Status   string          `json:"status"` // "ok" or "unhealthy"
	Services []ServiceHealth `json:"services"`
}

// NewHealthProbe creates a health probe over services
func NewHealthProbe(apiServer APIService, services []service.Service, logger *slog.Logger) *HealthProbe {
	return &HealthProbe{
		logger:    logger.With("service", "health-probe"),
		apiServer: apiServer,
		services:  services,
	}
}

func (h *HealthProbe) Name() string {
	return "health-probe"
}

func (h *HealthProbe) Init() error {
	if err := h.apiServer.Register("/probe/livez", "Liveness Probe",
		"Returns 200 if the idle loop and every service are alive",
		h.handler(service.CheckLive)); err != nil {
		return err
	}
	return h.apiServer.Register("/probe/readyz", "Readiness Probe",
		"Returns 200 if every service is ready",
		h.handler(service.CheckReady))
}

func (h *HealthProbe) handler(check func([]service.Service) ([]service.Health, bool)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results, ok := check(h.services)

		status := HealthStatus{Status: "ok", Services: make([]ServiceHealth, 0, len(results))}
		for _, res := range results {
			status.Services = append(status.Services, ServiceHealth{Name: res.Name, Healthy: res.OK})
		}
		code := http.StatusOK
		if !ok {
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			h.logger.Error("failed to encode health status", "error", err)
		}
	})
}
