// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"log/slog"
	"os"
)

// Init initializes, in order, the services that implement Initializer. When
// one fails, the services already initialized are shut down in reverse order
// and the initialization error is returned.
func Init(logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	initialized := make([]Service, 0, len(services))
	for _, s := range services {
		srv, ok := s.(Initializer)
		if !ok {
			logger.Debug("service has no init step", "service", s.Name())
			continue
		}

		logger.Info("initializing service", "service", s.Name())
		if err := srv.Init(); err != nil {
			rollback(logger, initialized)
			return fmt.Errorf("failed to initialize service %s: %w", s.Name(), err)
		}
		initialized = append(initialized, s)
	}
	return nil
}

// rollback shuts down services last-in first-out; errors are only logged
func rollback(logger *slog.Logger, initialized []Service) {
	logger.Info("rolling back initialized services", "count", len(initialized))
	for i := len(initialized) - 1; i >= 0; i-- {
		s := initialized[i]
		srv, ok := s.(Shutdowner)
		if !ok {
			continue
		}
		if err := srv.Shutdown(); err != nil {
			logger.Error("failed to shutdown service", "service", s.Name(), "error", err)
			continue
		}
		logger.Debug("service shut down", "service", s.Name())
	}
}
