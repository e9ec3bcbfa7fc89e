//go:build !pyroscope

// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package profiling

import "gopkg.in/op/go-logging.v1"

// Start does nothing; build with the pyroscope tag for profiling.
func Start(log *logging.Logger, tags map[string]string) (func(), error) {
	log.Warning("Profiling requested but Pyroscope support was not compiled in")
	return func() {}, nil
}
