// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package service runs the long lived parts of the PM simulator: the idle
// loop, the exporters and the API server.
package service

import "context"

// Service is the interface that all services must implement
type Service interface {
	// Name returns the name of the service
	Name() string
}

// Initializer is implemented by services that need to be initialized
// before any service runs
type Initializer interface {
	Service
	Init() error
}

// Runner is implemented by services that run in the background
type Runner interface {
	Service
	// Run runs the service and is expected to block and be thread safe
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services that need cleaning up
type Shutdowner interface {
	Service
	// Shutdown shuts down the service
	Shutdown() error
}

// LiveChecker is implemented by services that can report whether they are
// making progress
type LiveChecker interface {
	Service
	IsLive() bool
}

// ReadyChecker is implemented by services that can report whether they are
// ready to serve
type ReadyChecker interface {
	Service
	IsReady() bool
}

// Health is the result of one check of one service
type Health struct {
	Name string
	OK   bool
}

// CheckLive returns the liveness of every service implementing LiveChecker
// and whether all of them are live
func CheckLive(services []Service) ([]Health, bool) {
	return check(services, func(s Service) (bool, bool) {
		c, ok := s.(LiveChecker)
		if !ok {
			return false, false
		}
		return c.IsLive(), true
	})
}

// CheckReady returns the readiness of every service implementing
// ReadyChecker and whether all of them are ready
func CheckReady(services []Service) ([]Health, bool) {
	return check(services, func(s Service) (bool, bool) {
		c, ok := s.(ReadyChecker)
		if !ok {
			return false, false
		}
		return c.IsReady(), true
	})
}

func check(services []Service, probe func(Service) (healthy, checked bool)) ([]Health, bool) {
	results := make([]Health, 0, len(services))
	all := true
	for _, s := range services {
		healthy, checked := probe(s)
		if !checked {
			continue
		}
		results = append(results, Health{Name: s.Name(), OK: healthy})
		all = all && healthy
	}
	return results, all
}
