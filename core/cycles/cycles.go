// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package cycles reads a high resolution cycle counter together with the
// id of the CPU core the read executed on.
package cycles

// Now returns the current counter value.
func Now() uint64 {
	c, _ := read()
	return c
}

// Read returns the current counter value and the id of the core that
// executed the read.  Two reads on different cores are not comparable.
func Read() (uint64, uint32) {
	return read()
}

// Name returns the name of the counter in use.
func Name() string {
	return counterName
}
