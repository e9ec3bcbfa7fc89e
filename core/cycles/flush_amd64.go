// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

//go:build amd64

package cycles

import "unsafe"

// flush executes CLFLUSH on every cache line in [p, p+n) followed by
// MFENCE.  Implemented in cycles_amd64.s.
//
//go:noescape
func flush(p unsafe.Pointer, n uintptr)
