// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !amd64

package cycles

import "unsafe"

func flush(p unsafe.Pointer, n uintptr) {}
