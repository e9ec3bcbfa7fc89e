// SPDX-FileCopyrightText: © 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package modifier perturbs single coefficients of a lattice ciphertext in
// place.
package modifier

import (
	"errors"
	"fmt"

	"github.com/katzenpost/kemtiming/kem"
)

// ErrIndex is returned for coefficient indices outside C.
var ErrIndex = errors.New("modifier: index out of range")

// Sign is a signed modification amount.
type Sign struct {
	Negative bool
	Amount   uint16
}

// Plus returns +a.
func Plus(a uint16) Sign {
	return Sign{Amount: a}
}

// Minus returns -a.
func Minus(a uint16) Sign {
	return Sign{Negative: true, Amount: a}
}

// Invert returns the modification that undoes s.
func (s Sign) Invert() Sign {
	return Sign{Negative: !s.Negative, Amount: s.Amount}
}

func (s Sign) String() string {
	if s.Negative {
		return fmt.Sprintf("-%d", s.Amount)
	}
	return fmt.Sprintf("+%d", s.Amount)
}

// Modify sets C[index] = C[index] ± amount (mod q) and repacks ct in place.
// Applying s and then s.Invert() restores ct byte for byte.
func Modify(codec kem.Codec, ct []byte, index int, s Sign) error {
	bp, c, err := codec.Unpack(ct)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(c) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndex, index, len(c))
	}
	q := codec.Modulus()
	a := uint32(s.Amount) % q
	if s.Negative {
		a = q - a
	}
	c[index] = uint16((uint32(c[index]) + a) % q)
	return codec.Pack(bp, c, ct)
}

// ErrorCorrectionLimit returns the codec's error correction limit.
func ErrorCorrectionLimit(codec kem.Codec) uint16 {
	return codec.ErrorCorrectionLimit()
}

// MaxModification returns twice the error correction limit, the amount
// that is guaranteed to shift a coefficient by one encoded symbol.
func MaxModification(codec kem.Codec) uint16 {
	return 2 * codec.ErrorCorrectionLimit()
}
