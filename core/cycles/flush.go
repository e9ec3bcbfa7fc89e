// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package cycles

import "unsafe"

// CacheLineSize is the assumed cache line size.
const CacheLineSize = 64

// Flush evicts every cache line backing b from the cache hierarchy.  It is
// a no-op on architectures without a cache flush instruction.
func Flush(b []byte) {
	if len(b) == 0 {
		return
	}
	flush(unsafe.Pointer(unsafe.SliceData(b)), uintptr(len(b)))
}
