// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

//go:build amd64

package cycles

const counterName = "rdtscp"

// rdtscp executes RDTSCP, returning the time stamp counter and IA32_TSC_AUX.
// Implemented in cycles_amd64.s.
func rdtscp() (tsc uint64, aux uint32)

func read() (uint64, uint32) {
	tsc, aux := rdtscp()

	// Linux stores (node << 12) | cpu in IA32_TSC_AUX.
	return tsc, aux & 0xfff
}
