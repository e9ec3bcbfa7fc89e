//go:build noprometheus

// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package instrument

// Init does nothing
func Init(address string) error { return nil }

// Coordinate does nothing
func Coordinate(outcome string, probes int) {}

// ModRetries does nothing
func ModRetries(n int) {}

// Samples does nothing
func Samples(fate string, n int) {}

// Plaintexts does nothing
func Plaintexts(kem string) {}

// WriteQueue does nothing
func WriteQueue(length int) {}

// Trial does nothing
func Trial(outcome string) {}
