//go:build pyroscope

// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

// Start starts continuous profiling towards the Pyroscope server named by
// PYROSCOPE_SERVER_ADDRESS, tagging profiles with tags.  The returned
// function stops the profiler and flushes pending profiles.
func Start(log *logging.Logger, tags map[string]string) (func(), error) {
	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		return nil, errors.New("profiling: PYROSCOPE_SERVER_ADDRESS is not set")
	}
	appName := os.Getenv("PYROSCOPE_APP_NAME")
	if appName == "" {
		appName = "kemtiming"
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags:            tags,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexDuration,
		},
	})
	if err != nil {
		return nil, err
	}
	log.Noticef("Pyroscope started at %s, app name: %s, tags: %v", serverAddress, appName, tags)
	return func() {
		if err := p.Stop(); err != nil {
			log.Warningf("Failed to stop Pyroscope: %v", err)
		}
	}, nil
}
