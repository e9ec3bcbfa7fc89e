// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package affinity pins the calling OS thread to a single CPU core.
package affinity

import (
	"errors"
	"runtime"
)

// ErrNoCPU is returned when the process may not run on any CPU.
var ErrNoCPU = errors.New("affinity: no available cpu")

// PinHighest locks the calling goroutine to its OS thread and restricts
// that thread to the highest numbered CPU in the current affinity mask.
// It returns the selected CPU.  On failure the goroutine is unlocked.
func PinHighest() (int, error) {
	runtime.LockOSThread()
	cpus, err := Available()
	if err != nil {
		runtime.UnlockOSThread()
		return -1, err
	}
	if len(cpus) == 0 {
		runtime.UnlockOSThread()
		return -1, ErrNoCPU
	}
	cpu := cpus[len(cpus)-1]
	if err := Pin(cpu); err != nil {
		runtime.UnlockOSThread()
		return -1, err
	}
	return cpu, nil
}
