// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !amd64

package cycles

import "github.com/katzenpost/kemtiming/core/monotime"

const counterName = "monotonic"

// read falls back to monotonic nanoseconds.  The core id is always 0, so
// migrations go undetected.
func read() (uint64, uint32) {
	return uint64(monotime.Now()), 0
}
