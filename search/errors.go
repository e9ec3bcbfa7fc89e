// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package search

import "errors"

var (
	// ErrRetryMod means the current probe produced unreliable samples and
	// should be measured again.
	ErrRetryMod = errors.New("search: retry modification")

	// ErrRetryIndex means the current search for a coordinate failed and
	// should restart with a fresh warm-up and profile.
	ErrRetryIndex = errors.New("search: retry index")

	// ErrInternal is a broken search invariant.
	ErrInternal = errors.New("search: internal error")
)
