// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !linux

package affinity

import "errors"

var errUnsupported = errors.New("affinity: thread pinning is only supported on linux")

// Available is unsupported on this platform.
func Available() ([]int, error) {
	return nil, errUnsupported
}

// Pin is unsupported on this platform.
func Pin(cpu int) error {
	return errUnsupported
}
