// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"os"

	"github.com/oklog/run"
)

// Run runs every Runner in one oklog/run group. The first runner to return
// cancels the shared context and every Shutdowner is asked to stop; the
// error of that first runner is returned.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	runners := 0
	for _, s := range services {
		r, ok := s.(Runner)
		if !ok {
			logger.Debug("service has no run loop", "service", s.Name())
			continue
		}
		runners++
		g.Add(
			func() error {
				logger.Info("running service", "service", s.Name())
				return r.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil {
					logger.Warn("service terminated", "service", s.Name(), "reason", err)
				}
				stop(logger, s)
			},
		)
	}

	logger.Info("running services", "count", runners)
	return g.Run()
}

func stop(logger *slog.Logger, s Service) {
	sd, ok := s.(Shutdowner)
	if !ok {
		return
	}
	logger.Info("shutting down", "service", s.Name())
	if err := sd.Shutdown(); err != nil {
		logger.Warn("service shutdown failed", "service", s.Name(), "error", err)
	}
}
